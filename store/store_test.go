package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/wippyai/extension-host/errors"
	"github.com/wippyai/extension-host/manifest"
	"github.com/wippyai/extension-host/wasm"
)

func binary(t *testing.T, meta *manifest.Metadata) []byte {
	t.Helper()
	bin := (&wasm.Module{Memories: []wasm.Limits{{Min: 1}}}).Encode()
	if meta == nil {
		return bin
	}
	out, err := manifest.Embed(bin, *meta)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	return out
}

func indexJSON(t *testing.T, entries ...manifest.Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := manifest.WriteIndex(&buf, entries); err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}
	return buf.Bytes()
}

func TestListEmbeddedMetadata(t *testing.T) {
	a := manifest.Metadata{ID: 2, Name: "b", Version: "0.1.0", LibVersion: "0.1.0"}
	b := manifest.Metadata{ID: 1, Name: "a", Version: "0.1.0", LibVersion: "0.1.0"}
	fsys := fstest.MapFS{
		"library/b.wasm":     {Data: binary(t, &a)},
		"library/a.wasm":     {Data: binary(t, &b)},
		"library/readme.txt": {Data: []byte("ignored")},
	}

	listing, err := NewFS(fsys).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listing.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", listing.Errors)
	}
	if len(listing.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(listing.Entries))
	}
	if listing.Entries[0].Path != "library/a.wasm" || listing.Entries[0].Metadata.ID != 1 {
		t.Errorf("entries not sorted by path: %+v", listing.Entries[0])
	}
	if listing.Entries[1].SHA256 != Digest(fsys["library/b.wasm"].Data) {
		t.Error("digest not recorded")
	}
}

func TestListSkipsCorruptEntries(t *testing.T) {
	good := manifest.Metadata{ID: 1, Name: "good", Version: "0.1.0", LibVersion: "0.1.0"}
	full := binary(t, &good)
	fsys := fstest.MapFS{
		"library/good.wasm":      {Data: full},
		"library/truncated.wasm": {Data: full[:len(full)-3]},
		"library/text.wasm":      {Data: []byte("not wasm at all")},
		"library/nometa.wasm":    {Data: binary(t, nil)},
	}

	listing, err := NewFS(fsys).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listing.Entries) != 1 || listing.Entries[0].Metadata.Name != "good" {
		t.Fatalf("entries = %+v", listing.Entries)
	}
	if len(listing.Errors) != 3 {
		t.Fatalf("got %d errors, want 3: %v", len(listing.Errors), listing.Errors)
	}
	for _, err := range listing.Errors {
		if errors.KindOf(err) != errors.KindCorrupt {
			t.Errorf("error kind = %s, want corrupt: %v", errors.KindOf(err), err)
		}
	}
}

func TestListIndexSidecar(t *testing.T) {
	plain := binary(t, nil)
	embedded := binary(t, &manifest.Metadata{ID: 9, Name: "embedded", Version: "0.1.0", LibVersion: "0.1.0"})
	fsys := fstest.MapFS{
		"library/one.wasm": {Data: plain},
		"library/two.wasm": {Data: embedded},
		"library/pin.wasm": {Data: plain},
		manifest.IndexFile: {Data: indexJSON(t,
			manifest.Entry{Path: "library/one.wasm", Metadata: manifest.Metadata{ID: 1, Name: "one", Version: "0.1.0", LibVersion: "0.1.0"}},
			manifest.Entry{Path: "library/two.wasm", Metadata: manifest.Metadata{ID: 2, Name: "two", Version: "0.1.0", LibVersion: "0.1.0"}},
			manifest.Entry{Path: "library/gone.wasm", Metadata: manifest.Metadata{ID: 3, Name: "gone", Version: "0.1.0", LibVersion: "0.1.0"}},
			manifest.Entry{Path: "library/pin.wasm", Metadata: manifest.Metadata{ID: 4, Name: "pin", Version: "0.1.0", LibVersion: "0.1.0"}, SHA256: "deadbeef"},
		)},
	}

	listing, err := NewFS(fsys).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listing.Entries) != 2 {
		t.Fatalf("entries = %+v", listing.Entries)
	}
	if listing.Entries[1].Metadata.Name != "two" {
		t.Errorf("index metadata should win over embedded section, got %q", listing.Entries[1].Metadata.Name)
	}
	if len(listing.Errors) != 2 {
		t.Fatalf("errors = %v", listing.Errors)
	}
	// sorted: gone, pin
	if errors.KindOf(listing.Errors[0]) != errors.KindIO {
		t.Errorf("missing file kind = %s", errors.KindOf(listing.Errors[0]))
	}
	if errors.KindOf(listing.Errors[1]) != errors.KindCorrupt {
		t.Errorf("digest mismatch kind = %s", errors.KindOf(listing.Errors[1]))
	}
}

func TestListUnreachableRoot(t *testing.T) {
	_, err := NewDir(filepath.Join(t.TempDir(), "missing")).List(context.Background())
	if err == nil {
		t.Fatal("expected error for missing root")
	}
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseStore, Kind: errors.KindIO}) {
		t.Errorf("err = %v, want store io error", err)
	}
}

func TestListUnreadableIndex(t *testing.T) {
	fsys := fstest.MapFS{manifest.IndexFile: {Data: []byte("[{")}}
	if _, err := NewFS(fsys).List(context.Background()); err == nil {
		t.Fatal("expected error for malformed index")
	}
}

func TestListDirectory(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, manifest.LibraryDir), 0o755); err != nil {
		t.Fatal(err)
	}
	meta := manifest.Metadata{ID: 5, Name: "disk", Version: "1.0.0", LibVersion: "0.1.0"}
	if err := os.WriteFile(filepath.Join(root, "library", "disk.wasm"), binary(t, &meta), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewDir(root, WithConcurrency(1))
	listing, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listing.Entries) != 1 || listing.Entries[0].Metadata != meta {
		t.Fatalf("entries = %+v", listing.Entries)
	}
	if s.String() != root {
		t.Errorf("String = %q", s.String())
	}
}

func TestListEmptyRoot(t *testing.T) {
	listing, err := NewDir(t.TempDir()).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listing.Entries) != 0 || len(listing.Errors) != 0 {
		t.Errorf("listing = %+v", listing)
	}
}

func TestListCanceled(t *testing.T) {
	meta := manifest.Metadata{ID: 1, Name: "a", Version: "0.1.0", LibVersion: "0.1.0"}
	fsys := fstest.MapFS{"library/a.wasm": {Data: binary(t, &meta)}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFS(fsys).List(ctx)
	if !errors.Is(err, errors.ErrCanceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
}

func TestStatic(t *testing.T) {
	s := Static{{Path: "x", Metadata: manifest.Metadata{ID: 1}}}
	listing, err := s.List(context.Background())
	if err != nil || len(listing.Entries) != 1 {
		t.Fatalf("List = %+v, %v", listing, err)
	}
}
