package regalloc

import (
	"fmt"

	"github.com/coldforge/jitcore/codegen"
	"github.com/coldforge/jitcore/internal/jitdebug"
	"github.com/coldforge/jitcore/ir"
)

// Allocator maps SSA values onto host locations one instruction at a
// time. The code emitter calls the Use*/Scratch* operations while emitting
// one guest instruction, then EndOfAllocScope; between basic blocks the
// entire state is reset. All misuse is a programming error and panics;
// there is no recovery path below the block level.
type Allocator struct {
	emitter codegen.Emitter
	abi     *ABI
	layout  StateLayout
	blk     *ir.Block
	locs    [HostLocCount]LocInfo
}

// New returns an allocator emitting its moves through emitter.
func New(emitter codegen.Emitter, abi *ABI, layout StateLayout) *Allocator {
	return &Allocator{emitter: emitter, abi: abi, layout: layout}
}

// BeginBlock resets the allocator and binds it to the block about to be
// emitted.
func (a *Allocator) BeginBlock(blk *ir.Block) {
	a.blk = blk
	a.Reset()
}

// LocInfo returns the record for loc.
func (a *Allocator) LocInfo(loc HostLoc) *LocInfo { return &a.locs[loc] }

// ValueLocation returns the current home of inst, if it has one. Every
// non-immediate value with remaining uses has exactly one.
func (a *Allocator) ValueLocation(inst *ir.Inst) (HostLoc, bool) {
	id := inst.ID()
	for i := 0; i < HostLocCount; i++ {
		if a.locs[i].ContainsValue(id) {
			return HostLoc(i), true
		}
	}
	return 0, false
}

// UseReg guarantees v is resident in one of desired and locks it there
// read-only for the in-flight instruction. Immediates are materialized
// into a fresh scratch register. Decrements the value's use count exactly
// once.
func (a *Allocator) UseReg(v ir.Value, desired HostLocList) HostLoc {
	if v.IsImmediate() {
		return a.LoadImmediateIntoReg(v, a.ScratchReg(desired))
	}
	return a.useRegInst(a.blk.Inst(v.Inst()), desired)
}

func (a *Allocator) useRegInst(inst *ir.Inst, desired HostLocList) HostLoc {
	current, ok := a.ValueLocation(inst)
	if !ok {
		panic(fmt.Sprintf("BUG: use of an undefined value %s", inst))
	}

	if desired.Contains(current) {
		a.locs[current].Lock()
		inst.DecrementRemainingUses()
		return current
	}

	// The value's home is locked by another operand of this instruction;
	// degrade to a copy rather than disturbing it.
	if a.locs[current].IsLocked() {
		return a.useScratchInst(inst, desired)
	}

	dest := a.selectARegister(desired)
	if sameHostLocClass(dest, current) {
		a.exchange(dest, current)
	} else {
		a.moveOutOfTheWay(dest)
		a.move(dest, current)
	}
	a.locs[dest].Lock()
	inst.DecrementRemainingUses()
	return dest
}

// UseScratchReg places v in one of desired and hands the register over for
// destruction: the caller may freely overwrite it. Decrements the value's
// use count exactly once.
func (a *Allocator) UseScratchReg(v ir.Value, desired HostLocList) HostLoc {
	if v.IsImmediate() {
		return a.LoadImmediateIntoReg(v, a.ScratchReg(desired))
	}
	return a.useScratchInst(a.blk.Inst(v.Inst()), desired)
}

func (a *Allocator) useScratchInst(inst *ir.Inst, desired HostLocList) HostLoc {
	assertAllRegisters(desired)
	if !inst.HasUses() {
		panic(fmt.Sprintf("BUG: %s ran out of uses (used too many times)", inst))
	}
	current, ok := a.ValueLocation(inst)
	if !ok {
		panic(fmt.Sprintf("BUG: use of an undefined value %s", inst))
	}

	dest := a.selectARegister(desired)
	if a.locs[dest].Occupied() {
		a.spillRegister(dest)
	}

	switch {
	case current.IsSpill():
		// Copy out of the slot; the original stays resident there for any
		// remaining consumers.
		a.emitMove(dest, current)
		a.locs[dest].Lock()
	case current.IsRegister():
		if current != dest {
			if !a.locs[current].IsIdle() && !a.locs[current].IsUse() {
				panic(fmt.Sprintf("BUG: unexpected state of %s while taking a scratch copy", current))
			}
			a.emitMove(dest, current)
		}
		// When current == dest the spill above already moved the value
		// aside for its remaining consumers, and the register still holds
		// the bits.
		a.locs[dest].Reset()
		a.locs[dest].Lock()
	default:
		panic(fmt.Sprintf("BUG: invalid current location %s", current))
	}

	inst.DecrementRemainingUses()
	return dest
}

// ScratchReg reserves one of desired for a temporary with no pre-existing
// value, spilling the current occupant if necessary.
func (a *Allocator) ScratchReg(desired HostLocList) HostLoc {
	assertAllRegisters(desired)
	loc := a.selectARegister(desired)
	if a.locs[loc].Occupied() {
		a.spillRegister(loc)
	}
	a.locs[loc].Lock()
	return loc
}

// UseOp is like UseReg but returns a spill slot memory operand when the
// value is already spilled, for consumers that accept memory operands.
// Immediates are not accepted.
func (a *Allocator) UseOp(v ir.Value, desired HostLocList) OpArg {
	if v.IsImmediate() {
		panic("BUG: UseOp does not support immediates")
	}
	inst := a.blk.Inst(v.Inst())
	current, ok := a.ValueLocation(inst)
	if !ok {
		panic(fmt.Sprintf("BUG: use of an undefined value %s", inst))
	}
	if current.IsSpill() {
		a.locs[current].Lock()
		inst.DecrementRemainingUses()
		return memOpArg(a.layout.SpillSlotMem(current.SpillIndex()))
	}
	return regOpArg(a.useRegInst(inst, desired))
}

// UseDefOp returns a fused operand pair for a two-address instruction: the
// source operand (possibly a spill slot) and a freshly reserved
// destination register for def. When last-use tracking is enabled and the
// source is at its final consumer, the destination shares the source's
// register and no move is emitted.
func (a *Allocator) UseDefOp(use ir.Value, def *ir.Inst, desired HostLocList) (OpArg, HostLoc) {
	assertAllRegisters(desired)
	if _, ok := a.ValueLocation(def); ok {
		panic(fmt.Sprintf("BUG: %s has already been defined", def))
	}

	if !use.IsImmediate() {
		useInst := a.blk.Inst(use.Inst())
		current, ok := a.ValueLocation(useInst)
		if !ok {
			panic(fmt.Sprintf("BUG: use of an undefined value %s", useInst))
		}
		if a.isLastUse(useInst) && !a.locs[current].IsLocked() {
			if current.IsSpill() {
				a.locs[current].Lock()
				loc := a.ScratchReg(desired)
				a.DefineValue(def, loc)
				useInst.DecrementRemainingUses()
				return memOpArg(a.layout.SpillSlotMem(current.SpillIndex())), loc
			}
			a.locs[current].Lock()
			a.DefineValue(def, current)
			useInst.DecrementRemainingUses()
			return regOpArg(current), current
		}
	}

	var op OpArg
	if use.IsImmediate() {
		op = regOpArg(a.LoadImmediateIntoReg(use, a.ScratchReg(AnyGPR)))
	} else {
		op = a.UseOp(use, AnyGPR)
	}
	defLoc := a.ScratchReg(desired)
	a.DefineValue(def, defLoc)
	return op, defLoc
}

// UseLoc is like UseReg but for callers that need the value in one of a
// handful of exact registers without a spill round-trip: when the value is
// idle in a register outside desired, the two registers are exchanged
// rather than spilled. A value already in a spill slot is locked in place
// and the slot returned. The second result reports whether the home was
// already locked when the call began.
func (a *Allocator) UseLoc(v ir.Value, desired HostLocList) (HostLoc, bool) {
	assertAllRegisters(desired)
	if v.IsImmediate() {
		panic("BUG: UseLoc does not support immediates")
	}
	inst := a.blk.Inst(v.Inst())
	current, ok := a.ValueLocation(inst)
	if !ok {
		panic(fmt.Sprintf("BUG: use of an undefined value %s", inst))
	}

	if desired.Contains(current) || current.IsSpill() {
		wasLocked := a.locs[current].IsLocked()
		if !a.locs[current].IsUse() && !a.locs[current].IsIdle() {
			panic(fmt.Sprintf("BUG: unexpected state of %s in UseLoc", current))
		}
		a.locs[current].Lock()
		inst.DecrementRemainingUses()
		return current, wasLocked
	}

	dest := a.selectARegister(desired)
	if !a.locs[current].IsIdle() {
		panic(fmt.Sprintf("BUG: exchanging %s while it is locked", current))
	}
	a.exchange(dest, current)
	a.locs[dest].Lock()
	inst.DecrementRemainingUses()
	return dest, false
}

// RegisterAddDef creates def as an alias of use: both share one home and
// no move is emitted. An immediate use is materialized into a fresh
// scratch GPR first.
func (a *Allocator) RegisterAddDef(def *ir.Inst, use ir.Value) {
	if _, ok := a.ValueLocation(def); ok {
		panic(fmt.Sprintf("BUG: %s has already been defined", def))
	}

	if use.IsImmediate() {
		loc := a.ScratchReg(AnyGPR)
		a.DefineValue(def, loc)
		a.LoadImmediateIntoReg(use, loc)
		return
	}

	useInst := a.blk.Inst(use.Inst())
	useInst.DecrementRemainingUses()
	loc, ok := a.ValueLocation(useInst)
	if !ok {
		panic(fmt.Sprintf("BUG: use of an undefined value %s", useInst))
	}
	a.DefineValue(def, loc)
}

// DefineValue records loc as def's home.
func (a *Allocator) DefineValue(def *ir.Inst, loc HostLoc) {
	if _, ok := a.ValueLocation(def); ok {
		panic(fmt.Sprintf("BUG: %s has already been defined", def))
	}
	a.locs[loc].AddValue(def.ID())
}

// HostCall prepares for a native call under the configured ABI: the return
// register is reserved (binding result if given), present arguments are
// moved into their parameter registers, absent slots and every other
// caller-saved register are reserved as scratch so the emitted call
// clobbers nothing the allocator still cares about.
//
// TODO: reserving every caller-saved register wholesale works but leads to
// suboptimal generated code around frequent calls.
func (a *Allocator) HostCall(result *ir.Inst, arg0, arg1, arg2, arg3 ir.Value) {
	args := [4]ir.Value{arg0, arg1, arg2, arg3}

	ret := a.ScratchReg(HostLocList{a.abi.Return})
	if result != nil {
		a.DefineValue(result, ret)
	}

	for i, arg := range args {
		param := HostLocList{a.abi.Params[i]}
		if !arg.IsEmpty() {
			a.UseScratchReg(arg, param)
		} else {
			a.ScratchReg(param)
		}
	}

	for _, loc := range a.abi.otherCallerSave {
		a.ScratchReg(HostLocList{loc})
	}
}

// EndOfAllocScope runs after each instruction is fully emitted: locks are
// released and dead values evicted.
func (a *Allocator) EndOfAllocScope() {
	for i := range a.locs {
		a.locs[i].EndOfAllocScope(a.instHasUses)
	}
	if jitdebug.RegAllocValidationEnabled {
		a.validate()
	}
}

func (a *Allocator) instHasUses(id ir.InstID) bool {
	return a.blk.Inst(id).HasUses()
}

// AssertNoMoreUses panics unless every location is empty, the expected
// state at the end of a block.
func (a *Allocator) AssertNoMoreUses() {
	for i := range a.locs {
		if !a.locs[i].IsEmpty() {
			panic(fmt.Sprintf("BUG: %s still holds values at end of block", HostLoc(i)))
		}
	}
}

// Reset returns every location to Empty.
func (a *Allocator) Reset() {
	for i := range a.locs {
		a.locs[i].Reset()
	}
}

// selectARegister picks from desired in preference order: locked entries
// are ineligible, unoccupied entries are preferred over occupied ones.
// Panics if every entry is locked, which means the caller asked for more
// simultaneous holds than the class affords.
//
// TODO: least-recently-used tie-breaking between occupied candidates.
func (a *Allocator) selectARegister(desired HostLocList) HostLoc {
	var fallback HostLoc
	found := false
	for _, loc := range desired {
		li := &a.locs[loc]
		if li.IsLocked() {
			continue
		}
		if !li.Occupied() {
			return loc
		}
		if !found {
			fallback = loc
			found = true
		}
	}
	if !found {
		panic("BUG: all candidate registers have already been allocated")
	}
	return fallback
}

// spillRegister evicts loc's occupant into the first free spill slot,
// transplanting the whole LocInfo.
func (a *Allocator) spillRegister(loc HostLoc) {
	if !loc.IsRegister() {
		panic(fmt.Sprintf("BUG: only registers can be spilled, got %s", loc))
	}
	if !a.locs[loc].Occupied() {
		panic(fmt.Sprintf("BUG: no need to spill unoccupied %s", loc))
	}
	if a.locs[loc].IsLocked() {
		panic(fmt.Sprintf("BUG: locked %s must not be spilled", loc))
	}

	slot := a.findFreeSpill()
	if jitdebug.RegAllocLoggingEnabled {
		fmt.Printf("regalloc: spill %s -> %s\n", loc, slot)
	}
	a.emitMove(slot, loc)
	a.locs[slot] = a.locs[loc]
	a.locs[loc] = LocInfo{}
}

func (a *Allocator) findFreeSpill() HostLoc {
	for i := 0; i < SpillCount; i++ {
		if a.locs[HostLocSpill(i)].IsEmpty() {
			return HostLocSpill(i)
		}
	}
	panic("BUG: all spill locations are full")
}

// move transplants from's LocInfo to to and emits the corresponding host
// move. No-op when from is empty.
func (a *Allocator) move(to, from HostLoc) {
	if !a.locs[to].IsEmpty() || a.locs[from].IsLocked() {
		panic(fmt.Sprintf("BUG: invalid move %s <- %s", to, from))
	}
	if a.locs[from].IsEmpty() {
		return
	}
	a.locs[to] = a.locs[from]
	a.locs[from] = LocInfo{}
	a.emitMove(to, from)
}

// exchange swaps the contents of two locations, degrading to a move when
// either side is empty.
func (a *Allocator) exchange(x, y HostLoc) {
	if a.locs[x].IsLocked() || a.locs[y].IsLocked() {
		panic(fmt.Sprintf("BUG: invalid exchange %s <-> %s", x, y))
	}
	if a.locs[x].IsEmpty() {
		a.move(x, y)
		return
	}
	if a.locs[y].IsEmpty() {
		a.move(y, x)
		return
	}
	a.locs[x], a.locs[y] = a.locs[y], a.locs[x]
	a.emitExchange(x, y)
}

// moveOutOfTheWay spills reg's occupant if it has one.
func (a *Allocator) moveOutOfTheWay(reg HostLoc) {
	if a.locs[reg].IsLocked() {
		panic(fmt.Sprintf("BUG: moving locked %s out of the way", reg))
	}
	if a.locs[reg].Occupied() {
		a.spillRegister(reg)
	}
}

func (a *Allocator) spillMem(loc HostLoc) codegen.Mem {
	return a.layout.SpillSlotMem(loc.SpillIndex())
}

func (a *Allocator) emitMove(to, from HostLoc) {
	switch {
	case to.IsXMM() && from.IsXMM():
		a.emitter.MovapsRegReg(to.NativeReg(), from.NativeReg())
	case to.IsGPR() && from.IsGPR():
		a.emitter.MovRegReg(to.NativeReg(), from.NativeReg())
	case to.IsXMM() && from.IsGPR(), to.IsGPR() && from.IsXMM():
		panic("TODO: GPR <-> vector moves are not implemented")
	case to.IsXMM() && from.IsSpill():
		a.emitter.MovsdRegMem(to.NativeReg(), a.spillMem(from))
	case to.IsSpill() && from.IsXMM():
		a.emitter.MovsdMemReg(a.spillMem(to), from.NativeReg())
	case to.IsGPR() && from.IsSpill():
		a.emitter.MovRegMem(to.NativeReg(), a.spillMem(from))
	case to.IsSpill() && from.IsGPR():
		a.emitter.MovMemReg(a.spillMem(to), from.NativeReg())
	default:
		panic(fmt.Sprintf("BUG: invalid move %s <- %s", to, from))
	}
}

func (a *Allocator) emitExchange(x, y HostLoc) {
	switch {
	case x.IsGPR() && y.IsGPR():
		a.emitter.XchgRegReg(x.NativeReg(), y.NativeReg())
	case x.IsXMM() && y.IsXMM():
		panic("BUG: exchanging vector registers is unnecessary; arrange moves instead")
	default:
		panic(fmt.Sprintf("BUG: invalid exchange %s <-> %s", x, y))
	}
}

// LoadImmediateIntoReg materializes imm into the GPR loc. Zero is emitted
// as an xor of the 32-bit alias, which zero-extends and encodes shorter.
func (a *Allocator) LoadImmediateIntoReg(imm ir.Value, loc HostLoc) HostLoc {
	if !imm.IsImmediate() {
		panic("BUG: LoadImmediateIntoReg on a non-immediate value")
	}
	if !loc.IsGPR() {
		panic(fmt.Sprintf("BUG: immediates can only be materialized into GPRs, got %s", loc))
	}
	if v := imm.AsU64(); v == 0 {
		a.emitter.XorSelf32(loc.NativeReg())
	} else {
		a.emitter.MovImm64(loc.NativeReg(), v)
	}
	return loc
}

// isLastUse reports whether inst's only remaining consumer is the caller.
// Always false for now: enabling the in-place reuse fast path requires
// tracking how many homes a value has, so that handing its register to the
// consumer cannot strand a second copy.
//
// TODO: track residency cardinality and return
// inst.UseCount() == 1 && len(home.values) == 1.
func (a *Allocator) isLastUse(*ir.Inst) bool {
	return false
}

func (a *Allocator) validate() {
	seen := make(map[ir.InstID]HostLoc, 8)
	for i := range a.locs {
		li := &a.locs[i]
		if li.IsLocked() {
			panic(fmt.Sprintf("BUG: %s still locked after end of scope", HostLoc(i)))
		}
		for _, v := range li.Values() {
			if prev, dup := seen[v]; dup {
				panic(fmt.Sprintf("BUG: value v%d resident in both %s and %s", v, prev, HostLoc(i)))
			}
			seen[v] = HostLoc(i)
		}
	}
}

func assertAllRegisters(desired HostLocList) {
	for _, loc := range desired {
		if !loc.IsRegister() {
			panic(fmt.Sprintf("BUG: desired locations must be registers, got %s", loc))
		}
	}
}
