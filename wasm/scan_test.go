package wasm_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wippyai/extension-host/wasm"
)

func sampleModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		},
		Imports: []wasm.FuncImport{
			{Module: "tanoshi", Name: "log", TypeIdx: 0},
		},
		Funcs:    []uint32{0},
		Memories: []wasm.Limits{{Min: 1}},
		Exports: []wasm.Export{
			{Name: "memory", Kind: wasm.KindMemory, Index: 0},
			{Name: "id", Kind: wasm.KindFunc, Index: 1},
		},
		Code: []wasm.FuncBody{
			{Body: wasm.NewAsm().LocalGet(0).End().Bytes()},
		},
		CustomSections: []wasm.CustomSection{
			{Name: "tanoshi.provider", Data: []byte(`{"id":1}`)},
		},
	}
}

func TestScanValidModule(t *testing.T) {
	data := sampleModule().Encode()

	sum, err := wasm.Scan(data)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(sum.Imports) != 1 || sum.Imports[0].Module != "tanoshi" || sum.Imports[0].Name != "log" {
		t.Errorf("imports = %+v", sum.Imports)
	}
	if !sum.HasExport("id", wasm.KindFunc) {
		t.Error("missing func export id")
	}
	if sum.HasExport("id", wasm.KindMemory) {
		t.Error("id is not a memory export")
	}
	if !sum.HasExport("memory", wasm.KindMemory) {
		t.Error("missing memory export")
	}
	payload, ok := sum.Custom("tanoshi.provider")
	if !ok || string(payload) != `{"id":1}` {
		t.Errorf("custom = %q, %v", payload, ok)
	}
	last := sum.Sections[len(sum.Sections)-1]
	if last.End != len(data) {
		t.Errorf("last section ends at %d, binary is %d bytes", last.End, len(data))
	}
}

func TestScanRejectsBadHeader(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, wasm.ErrTruncated},
		{"short", []byte{0x00, 0x61, 0x73}, wasm.ErrTruncated},
		{"magic", []byte{0x7f, 'E', 'L', 'F', 1, 0, 0, 0}, wasm.ErrNotWasm},
		{"component", []byte{0x00, 0x61, 0x73, 0x6D, 0x0d, 0x00, 0x01, 0x00}, wasm.ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.Scan(tt.data)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestScanTruncatedSection(t *testing.T) {
	data := sampleModule().Encode()

	for _, cut := range []int{9, 12, len(data) - 1} {
		_, err := wasm.Scan(data[:cut])
		if err == nil {
			t.Errorf("cut at %d: expected error", cut)
		}
	}
}

func TestScanOverlongSectionLength(t *testing.T) {
	data := (&wasm.Module{}).Encode()
	// custom section claiming 100 bytes with only 2 present
	data = append(data, wasm.SectionCustom, 100, 0x01, 'x')

	_, err := wasm.Scan(data)
	if !errors.Is(err, wasm.ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestScanDuplicateSection(t *testing.T) {
	m := &wasm.Module{Memories: []wasm.Limits{{Min: 1}}}
	data := m.Encode()
	mem := data[8:]
	data = append(data, mem...)

	if _, err := wasm.Scan(data); err == nil {
		t.Fatal("expected duplicate section error")
	}
}

func TestIsWasm(t *testing.T) {
	if !wasm.IsWasm((&wasm.Module{}).Encode()) {
		t.Error("empty module should be wasm")
	}
	if wasm.IsWasm([]byte("hello world")) {
		t.Error("text is not wasm")
	}
}

func TestWithCustomSection(t *testing.T) {
	data := sampleModule().Encode()

	out, err := wasm.WithCustomSection(data, "tanoshi.provider", []byte(`{"id":2}`))
	if err != nil {
		t.Fatalf("WithCustomSection: %v", err)
	}
	sum, err := wasm.Scan(out)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	count := 0
	for _, c := range sum.Customs {
		if c.Name == "tanoshi.provider" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected one provider section, got %d", count)
	}
	payload, _ := sum.Custom("tanoshi.provider")
	if !bytes.Equal(payload, []byte(`{"id":2}`)) {
		t.Errorf("payload = %q", payload)
	}
	if !sum.HasExport("id", wasm.KindFunc) {
		t.Error("exports lost")
	}
}
