package wasm

import (
	"github.com/wippyai/extension-host/wasm/internal/binary"
)

// Module is an encodable core module. Only function imports and active data
// segments in memory 0 are supported.
type Module struct {
	Types    []FuncType
	Imports  []FuncImport
	Funcs    []uint32 // Type indices for declared functions
	Memories []Limits
	Globals  []Global
	Exports  []Export
	Code     []FuncBody
	Data     []DataSegment

	CustomSections []CustomSection
}

// FuncType represents a WebAssembly function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// FuncImport imports a function with the given type index.
type FuncImport struct {
	Module  string
	Name    string
	TypeIdx uint32
}

// Limits bounds a memory in 64KiB pages.
type Limits struct {
	Max *uint32
	Min uint32
}

// Global is a global with a constant i32 or i64 initializer.
type Global struct {
	Init    int64
	Type    ValType
	Mutable bool
}

// LocalEntry declares Count locals of one type.
type LocalEntry struct {
	Count uint32
	Type  ValType
}

// FuncBody is a function body. Body must end with OpEnd.
type FuncBody struct {
	Locals []LocalEntry
	Body   []byte
}

// DataSegment is an active segment copied into memory 0 at Offset.
type DataSegment struct {
	Init   []byte
	Offset uint32
}

// Encode encodes the module to WebAssembly binary format
func (m *Module) Encode() []byte {
	w := binary.NewWriter()

	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	if len(m.Types) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec.Byte(FuncTypeByte)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}
		writeSection(w, SectionType, sec.Bytes())
	}

	if len(m.Imports) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec.WriteName(imp.Module)
			sec.WriteName(imp.Name)
			sec.Byte(KindFunc)
			sec.WriteU32(imp.TypeIdx)
		}
		writeSection(w, SectionImport, sec.Bytes())
	}

	if len(m.Funcs) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Funcs)))
		for _, typeIdx := range m.Funcs {
			sec.WriteU32(typeIdx)
		}
		writeSection(w, SectionFunction, sec.Bytes())
	}

	if len(m.Memories) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			if mem.Max != nil {
				sec.Byte(0x01)
				sec.WriteU32(mem.Min)
				sec.WriteU32(*mem.Max)
			} else {
				sec.Byte(0x00)
				sec.WriteU32(mem.Min)
			}
		}
		writeSection(w, SectionMemory, sec.Bytes())
	}

	if len(m.Globals) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			sec.Byte(byte(g.Type))
			if g.Mutable {
				sec.Byte(0x01)
			} else {
				sec.Byte(0x00)
			}
			if g.Type == ValI64 {
				sec.Byte(OpI64Const)
				sec.WriteS64(g.Init)
			} else {
				sec.Byte(OpI32Const)
				sec.WriteS32(int32(g.Init))
			}
			sec.Byte(OpEnd)
		}
		writeSection(w, SectionGlobal, sec.Bytes())
	}

	if len(m.Exports) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			sec.WriteName(exp.Name)
			sec.Byte(exp.Kind)
			sec.WriteU32(exp.Index)
		}
		writeSection(w, SectionExport, sec.Bytes())
	}

	if len(m.Code) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Code)))
		for _, fb := range m.Code {
			body := binary.NewWriter()
			body.WriteU32(uint32(len(fb.Locals)))
			for _, l := range fb.Locals {
				body.WriteU32(l.Count)
				body.Byte(byte(l.Type))
			}
			body.WriteBytes(fb.Body)
			sec.WriteVec(body.Bytes())
		}
		writeSection(w, SectionCode, sec.Bytes())
	}

	if len(m.Data) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Data)))
		for _, d := range m.Data {
			sec.WriteU32(0) // active, memory 0
			sec.Byte(OpI32Const)
			sec.WriteS32(int32(d.Offset))
			sec.Byte(OpEnd)
			sec.WriteVec(d.Init)
		}
		writeSection(w, SectionData, sec.Bytes())
	}

	for _, cs := range m.CustomSections {
		writeCustom(w, cs.Name, cs.Data)
	}

	return w.Bytes()
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}
