package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/goccy/go-json"

	"github.com/wippyai/extension-host/bridge"
	"github.com/wippyai/extension-host/manifest"
	"github.com/wippyai/extension-host/providertest"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func latestGuest(t *testing.T, title string) []byte {
	t.Helper()
	ok, err := bridge.OK([]bridge.CatalogEntry{{Title: title}})
	if err != nil {
		t.Fatal(err)
	}
	b := providertest.Respond(ok)
	return providertest.WasmGuest{Latest: &b}.Binary()
}

// storeWith writes a store whose library holds one packed provider.
func storeWith(t *testing.T, name string) string {
	t.Helper()
	root := t.TempDir()
	lib := filepath.Join(root, manifest.LibraryDir)
	if err := os.MkdirAll(lib, 0o755); err != nil {
		t.Fatal(err)
	}
	raw := filepath.Join(lib, name+".wasm")
	if err := os.WriteFile(raw, latestGuest(t, "Blame!"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "pack", raw, "--id", "7", "--name", name, "--version", "1.2.0", "--lib-version", "0.1.0"); err != nil {
		t.Fatalf("pack: %v", err)
	}
	return root
}

func TestPackAndInspect(t *testing.T) {
	root := storeWith(t, "mangadex")
	out, err := run(t, "inspect", filepath.Join(root, "library", "mangadex.wasm"))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}

	var got inspection
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Metadata == nil || got.Metadata.ID != 7 || got.Metadata.Name != "mangadex" || got.Metadata.LibVersion != "0.1.0" {
		t.Errorf("metadata = %+v", got.Metadata)
	}
	if len(got.Missing) != 0 {
		t.Errorf("missing operations: %v", got.Missing)
	}
	if len(got.SHA256) != 64 {
		t.Errorf("sha256 = %q", got.SHA256)
	}
}

func TestPackRejectsInvalidMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.wasm")
	if err := os.WriteFile(path, latestGuest(t, "x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "pack", path, "--name", "x"); err == nil {
		t.Fatal("expected error for missing id and versions")
	}
}

func TestPackRejectsBadInterfaceVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.wasm")
	if err := os.WriteFile(path, latestGuest(t, "x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := run(t, "pack", path, "--id", "2", "--name", "x", "--version", "1.0.0", "--lib-version", "2.0-beta")
	if err == nil || !strings.Contains(err.Error(), "lib_version") {
		t.Fatalf("err = %v, want lib_version error", err)
	}
}

func TestListLatestAndIndex(t *testing.T) {
	root := storeWith(t, "mangadex")

	out, err := run(t, "list", "--store", root, "--log-level", "error")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "mangadex") || !strings.Contains(out, "1.2.0") {
		t.Errorf("list output:\n%s", out)
	}

	out, err = run(t, "latest", "7", "--store", root, "--log-level", "error")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	var entries []bridge.CatalogEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil || len(entries) != 1 || entries[0].Title != "Blame!" {
		t.Fatalf("latest output %q: %v", out, err)
	}

	if _, err := run(t, "latest", "8", "--store", root, "--log-level", "error"); err == nil {
		t.Error("latest on unknown provider should fail")
	}

	if _, err := run(t, "index", "--pin", "--store", root, "--log-level", "error"); err != nil {
		t.Fatalf("index: %v", err)
	}
	f, err := os.Open(filepath.Join(root, manifest.IndexFile))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	index, err := manifest.ReadIndex(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(index) != 1 || index[0].Path != "library/mangadex.wasm" || index[0].ID != 7 || len(index[0].SHA256) != 64 {
		t.Fatalf("index = %+v", index)
	}

	// The written index must load again with the pin verified.
	if _, err := run(t, "latest", "7", "--store", root, "--log-level", "error"); err != nil {
		t.Fatalf("latest with pinned index: %v", err)
	}
}

func TestMissingStore(t *testing.T) {
	_, err := run(t, "list", "--store", filepath.Join(t.TempDir(), "absent"), "--log-level", "error")
	if err == nil {
		t.Fatal("expected error for unreachable store")
	}
}

func TestExploreNavigation(t *testing.T) {
	m := &exploreModel{
		ctx:       context.Background(),
		providers: []manifest.Metadata{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}},
	}
	key := func(s string) tea.KeyMsg {
		switch s {
		case "enter":
			return tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			return tea.KeyMsg{Type: tea.KeyEsc}
		}
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}

	m.Update(key("j"))
	m.Update(key("j"))
	if m.provider != 1 {
		t.Fatalf("provider = %d", m.provider)
	}
	m.Update(key("enter"))
	if m.state != stateSelectOp {
		t.Fatalf("state = %d", m.state)
	}
	m.Update(key("enter"))
	if m.state != stateInput {
		t.Fatalf("search should prompt for a keyword, state = %d", m.state)
	}
	m.Update(key("q"))
	if m.state != stateInput {
		t.Fatal("q typed into the prompt must not quit")
	}
	m.Update(key("esc"))
	m.Update(key("esc"))
	if m.state != stateSelectProvider {
		t.Fatalf("state = %d", m.state)
	}
	if !strings.Contains(m.View(), "Select a provider") {
		t.Error("view does not show the provider list")
	}

	m.Update(callResultMsg{result: "[]"})
	if m.state != stateShowResult || !strings.Contains(m.View(), "[]") {
		t.Error("result not shown")
	}
}
