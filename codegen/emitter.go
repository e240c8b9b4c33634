// Package codegen is the boundary between the register allocator and the
// raw machine-encoding library. The allocator's movement primitives speak
// the Emitter interface; everything below it (instruction encoding, code
// buffer management) is the encoder's business.
package codegen

import "fmt"

// Reg is a native register number as understood by the underlying encoder
// (the golang-asm obj register namespace on amd64).
type Reg = int16

// Mem is a base+displacement memory operand, used for spill slots inside
// the guest state block.
type Mem struct {
	Base   Reg
	Offset int64
}

// String implements fmt.Stringer.
func (m Mem) String() string {
	return fmt.Sprintf("[%s+%#x]", RegName(m.Base), m.Offset)
}

// Emitter emits the host moves the register allocator needs between
// registers and spill slots. Implementations append to a host code stream
// in call order.
type Emitter interface {
	// MovRegReg emits a 64-bit integer register to register move.
	MovRegReg(dst, src Reg)
	// MovRegMem emits a 64-bit integer load from memory.
	MovRegMem(dst Reg, src Mem)
	// MovMemReg emits a 64-bit integer store to memory.
	MovMemReg(dst Mem, src Reg)
	// MovapsRegReg emits a full-width vector register to register move.
	MovapsRegReg(dst, src Reg)
	// MovsdRegMem emits a scalar double load of the low 64 bits.
	MovsdRegMem(dst Reg, src Mem)
	// MovsdMemReg emits a scalar double store of the low 64 bits.
	MovsdMemReg(dst Mem, src Reg)
	// XchgRegReg emits an atomic integer register swap.
	XchgRegReg(a, b Reg)
	// XorSelf32 emits an xor of the 32-bit alias of r with itself, the
	// short zeroing encoding with implicit zero extension to 64 bits.
	XorSelf32(r Reg)
	// MovImm64 emits a full-width immediate load.
	MovImm64(dst Reg, imm uint64)
}
