package manifest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/wippyai/extension-host/wasm"
)

func TestInterface(t *testing.T) {
	m := Metadata{ID: 3, Name: "x", Version: "1.0.0", LibVersion: "0.2"}
	v, err := m.Interface()
	if err != nil || v.Major != 0 || v.Minor != 2 {
		t.Fatalf("Interface() = %v, %v", v, err)
	}
	m.LibVersion = "x.y"
	if _, err := m.Interface(); err == nil || !strings.Contains(err.Error(), "lib_version") {
		t.Fatalf("err = %v, want lib_version error", err)
	}
}

func TestValidate(t *testing.T) {
	valid := Metadata{ID: 1, Name: "mangasee", Version: "0.1.0", LibVersion: "0.1.0"}

	tests := []struct {
		name    string
		mutate  func(*Metadata)
		wantErr string
	}{
		{"valid", func(*Metadata) {}, ""},
		{"bare major.minor", func(m *Metadata) { m.Version = "1.2" }, ""},
		{"zero id", func(m *Metadata) { m.ID = 0 }, "id must be positive"},
		{"blank name", func(m *Metadata) { m.Name = "  " }, "no name"},
		{"bad version", func(m *Metadata) { m.Version = "one" }, "version"},
		{"lib version left to compat", func(m *Metadata) { m.LibVersion = "2.0-beta" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid
			tt.mutate(&m)
			err := m.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestIndexRoundTrip(t *testing.T) {
	entries := []Entry{
		{Path: LibraryPath("mangasee"), Metadata: Metadata{ID: 1, Name: "mangasee", Version: "0.1.0", LibVersion: "0.1.0", Icon: "https://x/icon.png"}},
		{Path: LibraryPath("mangadex"), Metadata: Metadata{ID: 2, Name: "mangadex", Version: "0.2.0", LibVersion: "0.1.0"}, SHA256: "abc"},
	}

	var buf bytes.Buffer
	if err := WriteIndex(&buf, entries); err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}
	out := buf.String()
	for _, key := range []string{`"path": "library/mangasee.wasm"`, `"lib_version"`, `"icon"`, `"sha256": "abc"`} {
		if !strings.Contains(out, key) {
			t.Errorf("index missing %s:\n%s", key, out)
		}
	}
	if strings.Count(out, "sha256") != 1 {
		t.Errorf("empty sha256 should be omitted:\n%s", out)
	}

	got, err := ReadIndex(&buf)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if len(got) != 2 || got[1] != entries[1] || got[0] != entries[0] {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestReadIndexErrors(t *testing.T) {
	if _, err := ReadIndex(strings.NewReader("{")); err == nil {
		t.Error("expected decode error")
	}
	if _, err := ReadIndex(strings.NewReader(`[{"id":1}]`)); err == nil {
		t.Error("expected missing path error")
	}
}

func TestEmbedAndExtract(t *testing.T) {
	bin := (&wasm.Module{Memories: []wasm.Limits{{Min: 1}}}).Encode()
	meta := Metadata{ID: 7, Name: "demo", Version: "1.0.0", LibVersion: "0.1.0"}

	sum, err := wasm.Scan(bin)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := Embedded(sum); ok {
		t.Fatal("plain binary should have no metadata")
	}

	packed, err := Embed(bin, meta)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	sum, err = wasm.Scan(packed)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	got, ok, err := Embedded(sum)
	if err != nil || !ok {
		t.Fatalf("Embedded: %v, %v", ok, err)
	}
	if got != meta {
		t.Errorf("got %+v, want %+v", got, meta)
	}
}
