package regalloc

import (
	"fmt"

	"github.com/coldforge/jitcore/codegen"
)

// StateLayout describes where the allocator-owned pieces of the guest
// state block live, relative to the pinned state pointer register. The
// spill region is a contiguous run of SpillCount fixed-size slots; slot i
// lives at SpillBase + i*SlotSize. Nothing else may touch that region
// while a block is compiling.
type StateLayout struct {
	// StateReg is the register pinned to the guest state pointer. It is
	// reserved and never allocated.
	StateReg HostLoc
	// GuestRegBase is the offset of the guest register file, an array of
	// 8-byte registers.
	GuestRegBase int64
	// SpillBase is the offset of the spill region.
	SpillBase int64
	// SlotSize is the size of one spill slot, wide enough for the widest
	// register class.
	SlotSize int64
}

// DefaultStateLayout pins the state pointer to R15 and lays out sixteen
// guest registers followed by the spill region.
func DefaultStateLayout() StateLayout {
	return StateLayout{
		StateReg:     HostLocR15,
		GuestRegBase: 0,
		SpillBase:    16 * 8,
		SlotSize:     16,
	}
}

// SpillSlotMem returns the memory operand addressing spill slot i.
func (l StateLayout) SpillSlotMem(i int) codegen.Mem {
	if i < 0 || i >= SpillCount {
		panic(fmt.Sprintf("BUG: spill slot index %d out of range", i))
	}
	return codegen.Mem{Base: l.StateReg.NativeReg(), Offset: l.SpillBase + int64(i)*l.SlotSize}
}

// GuestRegMem returns the memory operand addressing the i-th guest
// register.
func (l StateLayout) GuestRegMem(i int) codegen.Mem {
	return codegen.Mem{Base: l.StateReg.NativeReg(), Offset: l.GuestRegBase + int64(i)*8}
}
