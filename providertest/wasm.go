package providertest

import (
	"github.com/wippyai/extension-host/manifest"
	"github.com/wippyai/extension-host/wasm"
)

// Behavior is the body of one generated operation export.
type Behavior struct {
	data  []byte
	extra []byte
	kind  behaviorKind
	level int32
}

type behaviorKind int

const (
	behaviorEcho behaviorKind = iota
	behaviorRespond
	behaviorTrap
	behaviorSpin
	behaviorFetch
	behaviorLog
	behaviorBadPointer
)

// Echo returns the request bytes unchanged.
func Echo() Behavior { return Behavior{kind: behaviorEcho} }

// Respond returns data regardless of the request.
func Respond(data []byte) Behavior { return Behavior{kind: behaviorRespond, data: data} }

// Trap executes unreachable.
func Trap() Behavior { return Behavior{kind: behaviorTrap} }

// Spin loops forever.
func Spin() Behavior { return Behavior{kind: behaviorSpin} }

// Fetch calls the fetch import with req and returns its response buffer.
func Fetch(req []byte) Behavior { return Behavior{kind: behaviorFetch, data: req} }

// Log calls the log import, then echoes the request.
func Log(level int32, msg string) Behavior {
	return Behavior{kind: behaviorLog, level: level, extra: []byte(msg)}
}

// BadPointer returns a response buffer outside guest memory.
func BadPointer() Behavior { return Behavior{kind: behaviorBadPointer} }

// WasmGuest describes a generated provider module. Unset operations echo.
type WasmGuest struct {
	Metadata *manifest.Metadata
	Search   *Behavior
	Latest   *Behavior
	Detail   *Behavior
	Chapter  *Behavior

	// Pages is the initial memory size; 0 means 4 pages.
	Pages uint32

	// OmitDealloc leaves out the optional dealloc export.
	OmitDealloc bool
}

// Function indices: imports first, then alloc, dealloc, operations.
const (
	fnFetch = iota
	fnLog
	fnAlloc
	fnDealloc
)

const (
	typeAlloc = iota // (i32) -> i32
	typePair         // (i32, i32) -> ()
	typeOp           // (i32, i32) -> i64
	typeLog          // (i32, i32, i32) -> ()
)

const dataBase = 1024

// Binary encodes the guest as a core module.
func (g WasmGuest) Binary() []byte {
	i32, i64 := wasm.ValI32, wasm.ValI64
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{i32}, Results: []wasm.ValType{i32}},
			{Params: []wasm.ValType{i32, i32}},
			{Params: []wasm.ValType{i32, i32}, Results: []wasm.ValType{i64}},
			{Params: []wasm.ValType{i32, i32, i32}},
		},
		Imports: []wasm.FuncImport{
			{Module: "tanoshi", Name: "fetch", TypeIdx: typeOp},
			{Module: "tanoshi", Name: "log", TypeIdx: typeLog},
		},
		Funcs: []uint32{typeAlloc, typePair, typeOp, typeOp, typeOp, typeOp},
	}

	pages := g.Pages
	if pages == 0 {
		pages = 4
	}
	m.Memories = []wasm.Limits{{Min: pages}}

	seg := &segments{next: dataBase}
	ops := []struct {
		name string
		b    *Behavior
	}{
		{"search", g.Search},
		{"latest", g.Latest},
		{"detail", g.Detail},
		{"chapter", g.Chapter},
	}
	bodies := make([][]byte, len(ops))
	for i, op := range ops {
		b := Echo()
		if op.b != nil {
			b = *op.b
		}
		bodies[i] = b.code(seg)
	}

	heap := align8(seg.next)
	m.Globals = []wasm.Global{{Type: i32, Mutable: true, Init: int64(heap)}}
	m.Data = seg.data

	alloc := wasm.NewAsm().
		GlobalGet(0).
		GlobalGet(0).LocalGet(0).I32Add().I32Const(7).I32Add().I32Const(-8).I32And().
		GlobalSet(0).
		End()
	m.Code = []wasm.FuncBody{
		{Body: alloc.Bytes()},
		{Body: wasm.NewAsm().End().Bytes()},
	}
	for _, body := range bodies {
		m.Code = append(m.Code, wasm.FuncBody{Body: body})
	}

	m.Exports = []wasm.Export{
		{Name: "memory", Kind: wasm.KindMemory, Index: 0},
		{Name: "alloc", Kind: wasm.KindFunc, Index: fnAlloc},
	}
	if !g.OmitDealloc {
		m.Exports = append(m.Exports, wasm.Export{Name: "dealloc", Kind: wasm.KindFunc, Index: fnDealloc})
	}
	for i, op := range ops {
		m.Exports = append(m.Exports, wasm.Export{Name: op.name, Kind: wasm.KindFunc, Index: uint32(fnDealloc + 1 + i)})
	}

	if g.Metadata != nil {
		payload, err := manifest.EncodeSection(*g.Metadata)
		if err != nil {
			panic(err)
		}
		m.CustomSections = append(m.CustomSections, wasm.CustomSection{Name: manifest.SectionName, Data: payload})
	}
	return m.Encode()
}

type segments struct {
	data []wasm.DataSegment
	next uint32
}

func (s *segments) add(b []byte) (offset, length uint32) {
	offset = s.next
	s.data = append(s.data, wasm.DataSegment{Offset: offset, Init: b})
	s.next = align8(offset + uint32(len(b)))
	return offset, uint32(len(b))
}

func align8(n uint32) uint32 {
	return (n + 7) &^ 7
}

func packed(offset, length uint32) int64 {
	return int64(uint64(offset)<<32 | uint64(length))
}

func (b Behavior) code(seg *segments) []byte {
	a := wasm.NewAsm()
	switch b.kind {
	case behaviorRespond:
		off, n := seg.add(b.data)
		a.I64Const(packed(off, n))
	case behaviorTrap:
		a.Unreachable()
	case behaviorSpin:
		a.Loop().Br(0).End().Unreachable()
	case behaviorFetch:
		off, n := seg.add(b.data)
		a.I32Const(int32(off)).I32Const(int32(n)).Call(fnFetch)
	case behaviorLog:
		off, n := seg.add(b.extra)
		a.I32Const(b.level).I32Const(int32(off)).I32Const(int32(n)).Call(fnLog)
		a.PackPtrLen(0, 1)
	case behaviorBadPointer:
		a.I64Const(packed(0xFFFF0000, 64))
	default:
		a.PackPtrLen(0, 1)
	}
	return a.End().Bytes()
}
