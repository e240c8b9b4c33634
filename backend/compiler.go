// Package backend drives the per-block compilation pipeline: the constant
// propagation pass, then the emit loop that walks instructions in order
// and asks the register allocator to place operands and results while
// per-opcode rules emit the guest semantics.
package backend

import (
	"fmt"

	"github.com/coldforge/jitcore/codegen"
	"github.com/coldforge/jitcore/ir"
	"github.com/coldforge/jitcore/iropt"
	"github.com/coldforge/jitcore/regalloc"
)

// Config carries the collaborators a Compiler is constructed with. Zero
// fields fall back to the System V ABI, the default state layout, and a
// fresh golang-asm backed emitter.
type Config struct {
	ABI     *regalloc.ABI
	Emitter codegen.Emitter
	Layout  regalloc.StateLayout
}

// EmitContext is handed to every emission rule.
type EmitContext struct {
	RA      *regalloc.Allocator
	Emitter codegen.Emitter
	Layout  regalloc.StateLayout
}

// EmitFn emits the host semantics of one guest instruction. The rule must
// consume each operand through the allocator exactly once and define the
// instruction's result if it has one.
type EmitFn func(ctx *EmitContext, inst *ir.Inst) error

// Compiler compiles one block at a time. Callers compiling blocks
// concurrently construct one Compiler per goroutine; nothing is shared.
type Compiler struct {
	cfg   Config
	ra    *regalloc.Allocator
	rules map[ir.Opcode]EmitFn
}

// NewCompiler returns a compiler over the given collaborators.
func NewCompiler(cfg Config) (*Compiler, error) {
	if cfg.ABI == nil {
		cfg.ABI = regalloc.SystemV
	}
	if cfg.Layout == (regalloc.StateLayout{}) {
		cfg.Layout = regalloc.DefaultStateLayout()
	}
	if cfg.Emitter == nil {
		e, err := codegen.NewAsmEmitter()
		if err != nil {
			return nil, fmt.Errorf("constructing compiler: %w", err)
		}
		cfg.Emitter = e
	}
	c := &Compiler{
		cfg:   cfg,
		ra:    regalloc.New(cfg.Emitter, cfg.ABI, cfg.Layout),
		rules: make(map[ir.Opcode]EmitFn),
	}
	c.registerDefaultRules()
	return c, nil
}

// RegisterRule installs (or overrides) the emission rule for op.
func (c *Compiler) RegisterRule(op ir.Opcode, fn EmitFn) {
	c.rules[op] = fn
}

// CompileBlock optimizes blk in place and emits it. Instruction selection
// gaps surface as errors; allocator misuse panics.
func (c *Compiler) CompileBlock(blk *ir.Block) error {
	iropt.ConstantPropagation(blk)

	c.ra.BeginBlock(blk)
	ctx := &EmitContext{RA: c.ra, Emitter: c.cfg.Emitter, Layout: c.cfg.Layout}

	for i := 0; i < blk.InstCount(); i++ {
		inst := blk.InstAt(i)

		// Folded producers stay in the block with no consumers left; skip
		// them, releasing their operands so use counts stay consistent.
		if !inst.HasUses() && !inst.Opcode().HasSideEffects() {
			releaseArgs(blk, inst)
			c.ra.EndOfAllocScope()
			continue
		}

		fn, ok := c.rules[inst.Opcode()]
		if !ok {
			return fmt.Errorf("no emission rule for opcode %s", inst.Opcode())
		}
		if err := fn(ctx, inst); err != nil {
			return fmt.Errorf("emitting %s: %w", inst.Opcode(), err)
		}
		c.ra.EndOfAllocScope()
	}

	c.ra.AssertNoMoreUses()
	return nil
}

func releaseArgs(blk *ir.Block, inst *ir.Inst) {
	for _, arg := range inst.Args() {
		if !arg.IsImmediate() && !arg.IsEmpty() {
			blk.Inst(arg.Inst()).DecrementRemainingUses()
		}
	}
}

// registerDefaultRules installs the guest-register movement rules, the one
// family this package emits itself. Arithmetic selection tables belong to
// the guest ISA layers built on top.
func (c *Compiler) registerDefaultRules() {
	c.rules[ir.OpcodeGetGuestReg] = emitGetGuestReg
	c.rules[ir.OpcodeSetGuestReg] = emitSetGuestReg
}

func emitGetGuestReg(ctx *EmitContext, inst *ir.Inst) error {
	idx := int(inst.GetArg(0).AsU64())
	loc := ctx.RA.ScratchReg(regalloc.AnyGPR)
	ctx.Emitter.MovRegMem(loc.NativeReg(), ctx.Layout.GuestRegMem(idx))
	ctx.RA.DefineValue(inst, loc)
	return nil
}

func emitSetGuestReg(ctx *EmitContext, inst *ir.Inst) error {
	idx := int(inst.GetArg(0).AsU64())
	loc := ctx.RA.UseReg(inst.GetArg(1), regalloc.AnyGPR)
	ctx.Emitter.MovMemReg(ctx.Layout.GuestRegMem(idx), loc.NativeReg())
	return nil
}
