package wasm_test

import (
	"bytes"
	"testing"

	"github.com/wippyai/extension-host/wasm"
)

func TestEncodeEmptyModule(t *testing.T) {
	m := &wasm.Module{}
	data := m.Encode()

	if len(data) != 8 {
		t.Errorf("expected 8 bytes for empty module, got %d", len(data))
	}
	if !bytes.Equal(data[:4], []byte{0x00, 0x61, 0x73, 0x6D}) {
		t.Error("invalid magic number")
	}
	if !bytes.Equal(data[4:8], []byte{0x01, 0x00, 0x00, 0x00}) {
		t.Error("invalid version")
	}
}

func TestEncodeSectionOrder(t *testing.T) {
	maxPages := uint32(4)
	m := sampleModule()
	m.Memories = []wasm.Limits{{Min: 1, Max: &maxPages}}
	m.Globals = []wasm.Global{{Type: wasm.ValI32, Mutable: true, Init: 2048}}
	m.Data = []wasm.DataSegment{{Offset: 1024, Init: []byte("hi")}}

	sum, err := wasm.Scan(m.Encode())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var ids []byte
	for _, s := range sum.Sections {
		ids = append(ids, s.ID)
	}
	want := []byte{
		wasm.SectionType, wasm.SectionImport, wasm.SectionFunction, wasm.SectionMemory,
		wasm.SectionGlobal, wasm.SectionExport, wasm.SectionCode, wasm.SectionData, wasm.SectionCustom,
	}
	if !bytes.Equal(ids, want) {
		t.Errorf("section ids = %v, want %v", ids, want)
	}
}

func TestAsmEncoding(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"i32.const -8", wasm.NewAsm().I32Const(-8).Bytes(), []byte{0x41, 0x78}},
		{"i32.const 1024", wasm.NewAsm().I32Const(1024).Bytes(), []byte{0x41, 0x80, 0x08}},
		{"i64.const 32", wasm.NewAsm().I64Const(32).Bytes(), []byte{0x42, 0x20}},
		{"loop", wasm.NewAsm().Loop().Br(0).End().Bytes(), []byte{0x03, 0x40, 0x0C, 0x00, 0x0B}},
		{"call", wasm.NewAsm().Call(1).Bytes(), []byte{0x10, 0x01}},
		{
			"pack",
			wasm.NewAsm().PackPtrLen(0, 1).Bytes(),
			[]byte{0x20, 0x00, 0xAD, 0x42, 0x20, 0x86, 0x20, 0x01, 0xAD, 0x84},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !bytes.Equal(tt.got, tt.want) {
				t.Errorf("got % x, want % x", tt.got, tt.want)
			}
		})
	}
}

func TestValTypeString(t *testing.T) {
	if wasm.ValI64.String() != "i64" {
		t.Errorf("ValI64 = %s", wasm.ValI64)
	}
	if wasm.KindName(wasm.KindMemory) != "memory" {
		t.Errorf("KindName(memory) = %s", wasm.KindName(wasm.KindMemory))
	}
}
