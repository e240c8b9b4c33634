package ir

import "fmt"

// InstID addresses an Inst inside the arena owned by its Block. The
// register allocator and the constant propagation pass hold InstID values
// rather than raw pointers, and the owning Block frees everything in one
// step at end of block.
type InstID uint32

const maxArgs = 3

// Inst is a single SSA definition. Zero or more consumers reference it
// through a Value built with ValueFromInst.
type Inst struct {
	id      InstID
	opcode  Opcode
	typ     Type
	args    [maxArgs]Value
	numArgs int

	// useCount is the number of remaining consumers of this instruction's
	// result in the block, decremented exactly once per allocator call
	// that binds it.
	useCount int

	// pseudoOps holds secondary-result instructions associated with this
	// one (e.g. the GetCarryFromOp that extracts the carry flag out of a
	// shift or MostSignificantWord), discoverable by opcode tag.
	pseudoOps []InstID

	blk *Block
}

// ID returns the arena index of this instruction.
func (i *Inst) ID() InstID { return i.id }

// Block returns the block owning this instruction.
func (i *Inst) Block() *Block { return i.blk }

// Opcode returns this instruction's opcode.
func (i *Inst) Opcode() Opcode { return i.opcode }

// Type returns the width of the value this instruction produces.
func (i *Inst) Type() Type { return i.typ }

// NumArgs returns the number of operands this instruction carries.
func (i *Inst) NumArgs() int { return i.numArgs }

// GetArg returns the i-th operand.
func (i *Inst) GetArg(idx int) Value {
	if idx < 0 || idx >= i.numArgs {
		panic(fmt.Sprintf("BUG: GetArg(%d) out of range for %s with %d args", idx, i.opcode, i.numArgs))
	}
	return i.args[idx]
}

// SetArg overwrites the i-th operand, used by the constant propagation
// pass to normalize or fuse operands in place. Use counts of both the old
// and the new operand's producers are adjusted.
func (i *Inst) SetArg(idx int, v Value) {
	if idx < 0 || idx >= i.numArgs {
		panic(fmt.Sprintf("BUG: SetArg(%d) out of range for %s with %d args", idx, i.opcode, i.numArgs))
	}
	if old := i.args[idx]; !old.IsImmediate() && !old.IsEmpty() {
		i.blk.inst(old.inst).useCount--
	}
	if !v.IsImmediate() && !v.IsEmpty() {
		i.blk.inst(v.inst).useCount++
	}
	i.args[idx] = v
}

// Args returns every operand, in order.
func (i *Inst) Args() []Value {
	return i.args[:i.numArgs]
}

// AreAllArgsImmediates reports whether every operand is a compile-time
// known immediate, the guard most of the constant propagation folders use
// before evaluating.
func (i *Inst) AreAllArgsImmediates() bool {
	for _, a := range i.args[:i.numArgs] {
		if !a.IsImmediate() {
			return false
		}
	}
	return true
}

// Result returns the Value by which consumers in the block refer to this
// instruction's output.
func (i *Inst) Result() Value {
	return ValueFromInst(i.id, i.typ)
}

// UseCount returns the number of remaining consumers.
func (i *Inst) UseCount() int { return i.useCount }

// HasUses reports whether any consumer remains.
func (i *Inst) HasUses() bool { return i.useCount > 0 }

// DecrementRemainingUses is called by the allocator exactly once per
// binding of this instruction's value to a host location.
func (i *Inst) DecrementRemainingUses() {
	if i.useCount <= 0 {
		panic(fmt.Sprintf("BUG: DecrementRemainingUses on %s with no remaining uses", i.opcode))
	}
	i.useCount--
}

// ReplaceUsesWith rewrites every use of this instruction in its owning
// block to refer to v instead. After
// this call the instruction has no remaining consumers: nobody in the
// block still names it, so its own use count is forced to zero.
func (i *Inst) ReplaceUsesWith(v Value) {
	i.blk.replaceUses(i.id, v)
	i.useCount = 0
}

// GetAssociatedPseudoOperation returns the pseudo-op of the given opcode
// attached to this instruction, or nil if none is attached.
func (i *Inst) GetAssociatedPseudoOperation(op Opcode) *Inst {
	for _, id := range i.pseudoOps {
		p := i.blk.inst(id)
		if p.opcode == op {
			return p
		}
	}
	return nil
}

// addPseudoOp attaches a secondary-result instruction to this one.
func (i *Inst) addPseudoOp(id InstID) {
	i.pseudoOps = append(i.pseudoOps, id)
}

// String implements fmt.Stringer for debug tracing.
func (i *Inst) String() string {
	return fmt.Sprintf("v%d:%s = %s(%v) uses=%d", i.id, i.typ, i.opcode, i.args[:i.numArgs], i.useCount)
}
