package wasm

import (
	"github.com/wippyai/extension-host/wasm/internal/binary"
)

// Asm assembles a function body instruction by instruction.
type Asm struct {
	w *binary.Writer
}

// NewAsm returns an empty assembler.
func NewAsm() *Asm {
	return &Asm{w: binary.NewWriter()}
}

// Bytes returns the assembled code.
func (a *Asm) Bytes() []byte {
	return a.w.Bytes()
}

func (a *Asm) op(b byte) *Asm {
	a.w.Byte(b)
	return a
}

func (a *Asm) opU32(b byte, v uint32) *Asm {
	a.w.Byte(b)
	a.w.WriteU32(v)
	return a
}

func (a *Asm) Unreachable() *Asm { return a.op(OpUnreachable) }
func (a *Asm) Nop() *Asm         { return a.op(OpNop) }
func (a *Asm) End() *Asm         { return a.op(OpEnd) }
func (a *Asm) Return() *Asm      { return a.op(OpReturn) }
func (a *Asm) Drop() *Asm        { return a.op(OpDrop) }

// Loop opens a loop block with no result.
func (a *Asm) Loop() *Asm {
	a.w.Byte(OpLoop)
	a.w.Byte(BlockTypeVoid)
	return a
}

// Block opens a block with no result.
func (a *Asm) Block() *Asm {
	a.w.Byte(OpBlock)
	a.w.Byte(BlockTypeVoid)
	return a
}

func (a *Asm) Br(depth uint32) *Asm      { return a.opU32(OpBr, depth) }
func (a *Asm) BrIf(depth uint32) *Asm    { return a.opU32(OpBrIf, depth) }
func (a *Asm) Call(fn uint32) *Asm       { return a.opU32(OpCall, fn) }
func (a *Asm) LocalGet(idx uint32) *Asm  { return a.opU32(OpLocalGet, idx) }
func (a *Asm) LocalSet(idx uint32) *Asm  { return a.opU32(OpLocalSet, idx) }
func (a *Asm) LocalTee(idx uint32) *Asm  { return a.opU32(OpLocalTee, idx) }
func (a *Asm) GlobalGet(idx uint32) *Asm { return a.opU32(OpGlobalGet, idx) }
func (a *Asm) GlobalSet(idx uint32) *Asm { return a.opU32(OpGlobalSet, idx) }
func (a *Asm) I32Add() *Asm              { return a.op(OpI32Add) }
func (a *Asm) I32Sub() *Asm              { return a.op(OpI32Sub) }
func (a *Asm) I32And() *Asm              { return a.op(OpI32And) }
func (a *Asm) I64Or() *Asm               { return a.op(OpI64Or) }
func (a *Asm) I64Shl() *Asm              { return a.op(OpI64Shl) }
func (a *Asm) I64ExtendI32U() *Asm       { return a.op(OpI64ExtendI32U) }

// I32Const pushes a constant i32.
func (a *Asm) I32Const(v int32) *Asm {
	a.w.Byte(OpI32Const)
	a.w.WriteS32(v)
	return a
}

// I64Const pushes a constant i64.
func (a *Asm) I64Const(v int64) *Asm {
	a.w.Byte(OpI64Const)
	a.w.WriteS64(v)
	return a
}

// I32Load loads an i32 with the given alignment exponent and offset.
func (a *Asm) I32Load(align, offset uint32) *Asm {
	a.w.Byte(OpI32Load)
	a.w.WriteU32(align)
	a.w.WriteU32(offset)
	return a
}

// I32Store stores an i32 with the given alignment exponent and offset.
func (a *Asm) I32Store(align, offset uint32) *Asm {
	a.w.Byte(OpI32Store)
	a.w.WriteU32(align)
	a.w.WriteU32(offset)
	return a
}

// PackPtrLen pushes (ptr << 32 | len) as an i64 from two i32 locals.
func (a *Asm) PackPtrLen(ptrLocal, lenLocal uint32) *Asm {
	return a.LocalGet(ptrLocal).I64ExtendI32U().I64Const(32).I64Shl().
		LocalGet(lenLocal).I64ExtendI32U().I64Or()
}
