// Package regalloc implements a block-local, greedy register allocator for
// the JIT backend. SSA values are mapped onto host registers and a bounded
// set of spill slots inside the guest state block; the moves, exchanges
// and spills needed to satisfy each instruction's placement constraints
// are emitted through the codegen.Emitter boundary.
package regalloc

import (
	"fmt"

	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/coldforge/jitcore/codegen"
)

// HostLoc is a storage location the allocator can assign a value to: a
// named general-purpose register, a named vector register, or one of the
// anonymous spill slots in the guest state block.
type HostLoc uint8

const (
	HostLocRAX HostLoc = iota
	HostLocRBX
	HostLocRCX
	HostLocRDX
	HostLocRSI
	HostLocRDI
	HostLocRBP
	HostLocRSP
	HostLocR8
	HostLocR9
	HostLocR10
	HostLocR11
	HostLocR12
	HostLocR13
	HostLocR14
	HostLocR15
	HostLocXMM0
	HostLocXMM1
	HostLocXMM2
	HostLocXMM3
	HostLocXMM4
	HostLocXMM5
	HostLocXMM6
	HostLocXMM7
	HostLocXMM8
	HostLocXMM9
	HostLocXMM10
	HostLocXMM11
	HostLocXMM12
	HostLocXMM13
	HostLocXMM14
	HostLocXMM15
	HostLocFirstSpill
)

const (
	// SpillCount is the number of spill slots reserved in the guest state
	// block.
	SpillCount = 64
	// HostLocCount is the total number of storage locations.
	HostLocCount = int(HostLocFirstSpill) + SpillCount
)

// HostLocSpill returns the HostLoc of the i-th spill slot.
func HostLocSpill(i int) HostLoc {
	if i < 0 || i >= SpillCount {
		panic(fmt.Sprintf("BUG: spill slot index %d out of range", i))
	}
	return HostLocFirstSpill + HostLoc(i)
}

// IsGPR reports whether h is a general-purpose register.
func (h HostLoc) IsGPR() bool { return h <= HostLocR15 }

// IsXMM reports whether h is a vector register.
func (h HostLoc) IsXMM() bool { return h >= HostLocXMM0 && h <= HostLocXMM15 }

// IsSpill reports whether h is a spill slot.
func (h HostLoc) IsSpill() bool { return h >= HostLocFirstSpill }

// IsRegister reports whether h is a register of either class.
func (h HostLoc) IsRegister() bool { return h.IsGPR() || h.IsXMM() }

// SpillIndex returns the slot index of a spill HostLoc.
func (h HostLoc) SpillIndex() int {
	if !h.IsSpill() {
		panic(fmt.Sprintf("BUG: SpillIndex on non-spill location %s", h))
	}
	return int(h - HostLocFirstSpill)
}

var nativeRegs = [HostLocFirstSpill]codegen.Reg{
	HostLocRAX: x86.REG_AX, HostLocRBX: x86.REG_BX, HostLocRCX: x86.REG_CX, HostLocRDX: x86.REG_DX,
	HostLocRSI: x86.REG_SI, HostLocRDI: x86.REG_DI, HostLocRBP: x86.REG_BP, HostLocRSP: x86.REG_SP,
	HostLocR8: x86.REG_R8, HostLocR9: x86.REG_R9, HostLocR10: x86.REG_R10, HostLocR11: x86.REG_R11,
	HostLocR12: x86.REG_R12, HostLocR13: x86.REG_R13, HostLocR14: x86.REG_R14, HostLocR15: x86.REG_R15,
	HostLocXMM0: x86.REG_X0, HostLocXMM1: x86.REG_X1, HostLocXMM2: x86.REG_X2, HostLocXMM3: x86.REG_X3,
	HostLocXMM4: x86.REG_X4, HostLocXMM5: x86.REG_X5, HostLocXMM6: x86.REG_X6, HostLocXMM7: x86.REG_X7,
	HostLocXMM8: x86.REG_X8, HostLocXMM9: x86.REG_X9, HostLocXMM10: x86.REG_X10, HostLocXMM11: x86.REG_X11,
	HostLocXMM12: x86.REG_X12, HostLocXMM13: x86.REG_X13, HostLocXMM14: x86.REG_X14, HostLocXMM15: x86.REG_X15,
}

// NativeReg returns the encoder's register number for h. Panics on spill
// slots, which are addressed through the guest state block instead.
func (h HostLoc) NativeReg() codegen.Reg {
	if h.IsSpill() {
		panic(fmt.Sprintf("BUG: NativeReg on spill location %s", h))
	}
	return nativeRegs[h]
}

// String implements fmt.Stringer for debug tracing.
func (h HostLoc) String() string {
	if h.IsSpill() {
		return fmt.Sprintf("spill%d", h.SpillIndex())
	}
	return codegen.RegName(h.NativeReg())
}

// HostLocList is an ordered sequence of candidate locations; earlier
// entries are preferred.
type HostLocList []HostLoc

// Contains reports whether loc appears in the list.
func (l HostLocList) Contains(loc HostLoc) bool {
	for _, c := range l {
		if c == loc {
			return true
		}
	}
	return false
}

// AnyGPR lists every allocatable general-purpose register. RSP and R15 are
// reserved (host stack pointer, guest state pointer) and never allocated.
var AnyGPR = HostLocList{
	HostLocRAX, HostLocRBX, HostLocRCX, HostLocRDX, HostLocRSI, HostLocRDI, HostLocRBP,
	HostLocR8, HostLocR9, HostLocR10, HostLocR11, HostLocR12, HostLocR13, HostLocR14,
}

// AnyXMM lists every allocatable vector register.
var AnyXMM = HostLocList{
	HostLocXMM0, HostLocXMM1, HostLocXMM2, HostLocXMM3, HostLocXMM4, HostLocXMM5,
	HostLocXMM6, HostLocXMM7, HostLocXMM8, HostLocXMM9, HostLocXMM10, HostLocXMM11,
	HostLocXMM12, HostLocXMM13, HostLocXMM14, HostLocXMM15,
}

func sameHostLocClass(a, b HostLoc) bool {
	return (a.IsGPR() && b.IsGPR()) || (a.IsXMM() && b.IsXMM()) || (a.IsSpill() && b.IsSpill())
}
