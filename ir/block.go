package ir

import (
	"fmt"
	"strings"
)

// TerminalKind describes how control leaves a basic block.
type TerminalKind byte

const (
	TerminalInvalid TerminalKind = iota
	// TerminalLinkBlock jumps unconditionally to a known guest address.
	TerminalLinkBlock
	// TerminalCondLink jumps to Then or Else depending on a guest condition.
	TerminalCondLink
	// TerminalDispatch returns to the dispatcher for an indirect target.
	TerminalDispatch
	// TerminalReturn ends the translation entirely.
	TerminalReturn
)

// Terminal is the successor descriptor attached to a Block.
type Terminal struct {
	Kind TerminalKind
	// Target is the guest address for TerminalLinkBlock, or the taken
	// successor for TerminalCondLink.
	Target uint64
	// Else is the fall-through successor for TerminalCondLink.
	Else uint64
}

// Block is an ordered sequence of instructions ending in a Terminal. It
// owns the arena all of its instructions live in; InstIDs handed out by
// its builder methods are only meaningful against this block.
type Block struct {
	arena    arena
	insts    []InstID // program order
	terminal Terminal
}

// NewBlock returns an empty block with an invalid terminal.
func NewBlock() *Block {
	return &Block{}
}

// AppendInst appends a new instruction producing a value of typ, and bumps
// the use count of every instruction the operands reference. The caller is
// responsible for appending instructions in an order where operands are
// defined before they are consumed.
func (b *Block) AppendInst(op Opcode, typ Type, args ...Value) *Inst {
	if len(args) > maxArgs {
		panic(fmt.Sprintf("BUG: too many operands (%d) for %s", len(args), op))
	}
	id := b.arena.allocate()
	inst := b.arena.view(id)
	inst.opcode = op
	inst.typ = typ
	inst.numArgs = len(args)
	inst.blk = b
	for i, a := range args {
		inst.args[i] = a
		if !a.IsImmediate() && !a.IsEmpty() {
			b.inst(a.inst).useCount++
		}
	}
	b.insts = append(b.insts, id)
	return inst
}

// AppendPseudoOp appends a secondary-result instruction extracting op from
// primary (for example the carry flag of a shift) and attaches it so
// GetAssociatedPseudoOperation can find it.
func (b *Block) AppendPseudoOp(primary *Inst, op Opcode, typ Type) *Inst {
	p := b.AppendInst(op, typ, primary.Result())
	primary.addPseudoOp(p.id)
	return p
}

// AddUse bumps the use count of the instruction v references, for consumers
// that live outside the block's instruction list (the terminal, or a
// cross-boundary collaborator). No-op for immediates.
func (b *Block) AddUse(v Value) {
	if !v.IsImmediate() && !v.IsEmpty() {
		b.inst(v.inst).useCount++
	}
}

// InstCount returns the number of instructions in program order.
func (b *Block) InstCount() int { return len(b.insts) }

// InstAt returns the i-th instruction in program order.
func (b *Block) InstAt(i int) *Inst { return b.arena.view(b.insts[i]) }

// Inst resolves an InstID against this block's arena.
func (b *Block) Inst(id InstID) *Inst { return b.arena.view(id) }

func (b *Block) inst(id InstID) *Inst { return b.arena.view(id) }

// SetTerminal attaches the successor descriptor.
func (b *Block) SetTerminal(t Terminal) { b.terminal = t }

// Terminal returns the successor descriptor.
func (b *Block) Terminal() Terminal { return b.terminal }

// replaceUses rewrites every operand in the block referring to id so it
// refers to v instead, bumping the use count of v's producer once per
// rewritten operand.
func (b *Block) replaceUses(id InstID, v Value) {
	for _, instID := range b.insts {
		inst := b.arena.view(instID)
		for idx := 0; idx < inst.numArgs; idx++ {
			a := inst.args[idx]
			if !a.IsImmediate() && !a.IsEmpty() && a.inst == id {
				inst.args[idx] = v
				if !v.IsImmediate() && !v.IsEmpty() {
					b.inst(v.inst).useCount++
				}
			}
		}
	}
}

// Reset discards every instruction and the terminal in one step.
func (b *Block) Reset() {
	b.arena.reset()
	b.insts = b.insts[:0]
	b.terminal = Terminal{}
}

// String implements fmt.Stringer for debug tracing.
func (b *Block) String() string {
	var sb strings.Builder
	for _, id := range b.insts {
		sb.WriteString(b.arena.view(id).String())
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "terminal: kind=%d target=%#x else=%#x\n", b.terminal.Kind, b.terminal.Target, b.terminal.Else)
	return sb.String()
}
