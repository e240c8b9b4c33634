package regalloc

import (
	"github.com/coldforge/jitcore/codegen"
)

// OpArg describes an instruction operand for the code emitter: either a
// host register or a memory reference to a spill slot. Immediates are not
// expressible as OpArgs.
type OpArg struct {
	isMem bool
	reg   HostLoc
	mem   codegen.Mem
}

func regOpArg(h HostLoc) OpArg   { return OpArg{reg: h} }
func memOpArg(m codegen.Mem) OpArg { return OpArg{isMem: true, mem: m} }

// IsMem reports whether the operand is a spill slot memory reference.
func (o OpArg) IsMem() bool { return o.isMem }

// Reg returns the register form. Panics on memory operands.
func (o OpArg) Reg() HostLoc {
	if o.isMem {
		panic("BUG: Reg() called on a memory OpArg")
	}
	return o.reg
}

// Mem returns the memory form. Panics on register operands.
func (o OpArg) Mem() codegen.Mem {
	if !o.isMem {
		panic("BUG: Mem() called on a register OpArg")
	}
	return o.mem
}
