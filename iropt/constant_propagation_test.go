package iropt_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coldforge/jitcore/ir"
	"github.com/coldforge/jitcore/iropt"
)

func imm32(v uint64) ir.Value { return ir.ImmFromU64(ir.TypeI32, v) }
func imm64(v uint64) ir.Value { return ir.ImmFromU64(ir.TypeI64, v) }

// consume appends a guest register store so v has a live consumer whose
// operand we can inspect after the pass.
func consume(blk *ir.Block, v ir.Value) *ir.Inst {
	return blk.AppendInst(ir.OpcodeSetGuestReg, ir.TypeInvalid, ir.ImmFromU64(ir.TypeI8, 0), v)
}

func TestFoldCommutativeBothImmediate(t *testing.T) {
	tests := []struct {
		name string
		op   ir.Opcode
		lhs  uint64
		rhs  uint64
		exp  uint64
	}{
		{name: "and32", op: ir.OpcodeAnd32, lhs: 0xff00ff00, rhs: 0x0ff00ff0, exp: 0x0f000f00},
		{name: "or32", op: ir.OpcodeOr32, lhs: 0xf0, rhs: 0x0f, exp: 0xff},
		{name: "eor32", op: ir.OpcodeEor32, lhs: 0xff, rhs: 0x0f, exp: 0xf0},
		{name: "add32 wraps", op: ir.OpcodeAdd32, lhs: 0xffff_ffff, rhs: 1, exp: 0},
		{name: "mul32 wraps", op: ir.OpcodeMul32, lhs: 0x10000, rhs: 0x10000, exp: 0},
		{name: "mul64", op: ir.OpcodeMul64, lhs: 1 << 32, rhs: 2, exp: 1 << 33},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			blk := ir.NewBlock()
			width := ir.TypeI64
			mk := imm64
			if tc.op.Is32Bit() {
				width = ir.TypeI32
				mk = imm32
			}
			inst := blk.AppendInst(tc.op, width, mk(tc.lhs), mk(tc.rhs))
			c := consume(blk, inst.Result())

			iropt.ConstantPropagation(blk)

			require.False(t, inst.HasUses())
			got := c.GetArg(1)
			require.True(t, got.IsImmediate())
			require.Equal(t, tc.exp, got.AsU64())
			require.Equal(t, width, got.Type())
		})
	}
}

func TestDoubleAndFusion(t *testing.T) {
	blk := ir.NewBlock()
	x := blk.AppendInst(ir.OpcodeGetGuestReg, ir.TypeI32, ir.ImmFromU64(ir.TypeI8, 0))
	t0 := blk.AppendInst(ir.OpcodeAnd32, ir.TypeI32, x.Result(), imm32(0x00ff))
	t1 := blk.AppendInst(ir.OpcodeAnd32, ir.TypeI32, t0.Result(), imm32(0xf0f0))
	consume(blk, t1.Result())

	iropt.ConstantPropagation(blk)

	require.Equal(t, x.Result(), t1.GetArg(0))
	require.True(t, t1.GetArg(1).IsImmediate())
	require.Equal(t, uint64(0x00f0), t1.GetArg(1).AsU64())
	require.False(t, t0.HasUses())
	require.True(t, t1.HasUses())
}

func TestFusionLeftImmediate(t *testing.T) {
	// imm1 | (x | imm2) combines the immediates on the right.
	blk := ir.NewBlock()
	x := blk.AppendInst(ir.OpcodeGetGuestReg, ir.TypeI32, ir.ImmFromU64(ir.TypeI8, 0))
	t0 := blk.AppendInst(ir.OpcodeOr32, ir.TypeI32, x.Result(), imm32(0x0f))
	t1 := blk.AppendInst(ir.OpcodeOr32, ir.TypeI32, imm32(0xf0), t0.Result())
	consume(blk, t1.Result())

	iropt.ConstantPropagation(blk)

	require.Equal(t, x.Result(), t1.GetArg(0))
	require.Equal(t, uint64(0xff), t1.GetArg(1).AsU64())
	require.False(t, t0.HasUses())
}

func TestNormalizationPutsImmediateOnRight(t *testing.T) {
	blk := ir.NewBlock()
	x := blk.AppendInst(ir.OpcodeGetGuestReg, ir.TypeI32, ir.ImmFromU64(ir.TypeI8, 0))
	add := blk.AppendInst(ir.OpcodeAdd32, ir.TypeI32, imm32(7), x.Result())
	consume(blk, add.Result())

	iropt.ConstantPropagation(blk)

	require.False(t, add.GetArg(0).IsImmediate())
	require.Equal(t, x.Result(), add.GetArg(0))
	require.Equal(t, uint64(7), add.GetArg(1).AsU64())
	require.True(t, add.HasUses())
}

func TestIdentities(t *testing.T) {
	type build func(blk *ir.Block, x *ir.Inst) *ir.Inst
	tests := []struct {
		name string
		mk   build
		// expZero means the consumer sees immediate 0; otherwise it sees x.
		expZero bool
	}{
		{name: "and x,0 -> 0", expZero: true, mk: func(blk *ir.Block, x *ir.Inst) *ir.Inst {
			return blk.AppendInst(ir.OpcodeAnd32, ir.TypeI32, x.Result(), imm32(0))
		}},
		{name: "and x,allones -> x", mk: func(blk *ir.Block, x *ir.Inst) *ir.Inst {
			return blk.AppendInst(ir.OpcodeAnd32, ir.TypeI32, x.Result(), imm32(0xffff_ffff))
		}},
		{name: "or x,0 -> x", mk: func(blk *ir.Block, x *ir.Inst) *ir.Inst {
			return blk.AppendInst(ir.OpcodeOr32, ir.TypeI32, x.Result(), imm32(0))
		}},
		{name: "eor x,0 -> x", mk: func(blk *ir.Block, x *ir.Inst) *ir.Inst {
			return blk.AppendInst(ir.OpcodeEor32, ir.TypeI32, x.Result(), imm32(0))
		}},
		{name: "add x,0 -> x", mk: func(blk *ir.Block, x *ir.Inst) *ir.Inst {
			return blk.AppendInst(ir.OpcodeAdd32, ir.TypeI32, x.Result(), imm32(0))
		}},
		{name: "mul x,0 -> 0", expZero: true, mk: func(blk *ir.Block, x *ir.Inst) *ir.Inst {
			return blk.AppendInst(ir.OpcodeMul32, ir.TypeI32, x.Result(), imm32(0))
		}},
		{name: "mul x,1 -> x", mk: func(blk *ir.Block, x *ir.Inst) *ir.Inst {
			return blk.AppendInst(ir.OpcodeMul32, ir.TypeI32, x.Result(), imm32(1))
		}},
		{name: "udiv x,1 -> x", mk: func(blk *ir.Block, x *ir.Inst) *ir.Inst {
			return blk.AppendInst(ir.OpcodeUnsignedDiv32, ir.TypeI32, x.Result(), imm32(1))
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			blk := ir.NewBlock()
			x := blk.AppendInst(ir.OpcodeGetGuestReg, ir.TypeI32, ir.ImmFromU64(ir.TypeI8, 0))
			inst := tc.mk(blk, x)
			c := consume(blk, inst.Result())

			iropt.ConstantPropagation(blk)

			require.False(t, inst.HasUses())
			if tc.expZero {
				require.True(t, c.GetArg(1).IsZero())
			} else {
				require.Equal(t, x.Result(), c.GetArg(1))
			}
		})
	}
}

func TestDivideByZeroSentinel(t *testing.T) {
	for _, op := range []ir.Opcode{
		ir.OpcodeUnsignedDiv32, ir.OpcodeUnsignedDiv64,
		ir.OpcodeSignedDiv32, ir.OpcodeSignedDiv64,
	} {
		t.Run(op.String(), func(t *testing.T) {
			blk := ir.NewBlock()
			width := ir.TypeI64
			if op.Is32Bit() {
				width = ir.TypeI32
			}
			x := blk.AppendInst(ir.OpcodeGetGuestReg, width, ir.ImmFromU64(ir.TypeI8, 0))
			div := blk.AppendInst(op, width, x.Result(), ir.ImmFromU64(width, 0))
			c := consume(blk, div.Result())

			iropt.ConstantPropagation(blk)

			require.False(t, div.HasUses())
			require.True(t, c.GetArg(1).IsZero())
			require.Equal(t, width, c.GetArg(1).Type())
		})
	}
}

func TestDivideImmediates(t *testing.T) {
	tests := []struct {
		name string
		op   ir.Opcode
		lhs  ir.Value
		rhs  ir.Value
		exp  uint64
	}{
		{name: "sdiv32 negative", op: ir.OpcodeSignedDiv32, lhs: ir.ImmFromS64(ir.TypeI32, -6), rhs: ir.ImmFromS64(ir.TypeI32, 2), exp: 0xffff_fffd},
		{name: "sdiv64", op: ir.OpcodeSignedDiv64, lhs: ir.ImmFromS64(ir.TypeI64, -8), rhs: ir.ImmFromS64(ir.TypeI64, -2), exp: 4},
		{name: "udiv32 truncates", op: ir.OpcodeUnsignedDiv32, lhs: imm32(7), rhs: imm32(2), exp: 3},
		{name: "udiv64 large", op: ir.OpcodeUnsignedDiv64, lhs: imm64(1 << 40), rhs: imm64(1 << 8), exp: 1 << 32},
		{name: "sdiv64 minint by -1", op: ir.OpcodeSignedDiv64, lhs: imm64(0x8000_0000_0000_0000), rhs: ir.ImmFromS64(ir.TypeI64, -1), exp: 0x8000_0000_0000_0000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			blk := ir.NewBlock()
			width := ir.TypeI64
			if tc.op.Is32Bit() {
				width = ir.TypeI32
			}
			div := blk.AppendInst(tc.op, width, tc.lhs, tc.rhs)
			c := consume(blk, div.Result())

			iropt.ConstantPropagation(blk)

			require.Equal(t, tc.exp, c.GetArg(1).AsU64())
		})
	}
}

func TestFoldNOT(t *testing.T) {
	blk := ir.NewBlock()
	not32 := blk.AppendInst(ir.OpcodeNot32, ir.TypeI32, imm32(0x0000_ffff))
	not64 := blk.AppendInst(ir.OpcodeNot64, ir.TypeI64, imm64(0))
	c32 := consume(blk, not32.Result())
	c64 := consume(blk, not64.Result())

	iropt.ConstantPropagation(blk)

	require.Equal(t, uint64(0xffff_0000), c32.GetArg(1).AsU64())
	require.Equal(t, ^uint64(0), c64.GetArg(1).AsU64())
}

func TestFoldByteReverse(t *testing.T) {
	tests := []struct {
		name string
		op   ir.Opcode
		typ  ir.Type
		in   uint64
		exp  uint64
		out  ir.Type
	}{
		{name: "word", op: ir.OpcodeByteReverseWord, typ: ir.TypeI32, in: 0x12345678, exp: 0x78563412, out: ir.TypeI32},
		{name: "half", op: ir.OpcodeByteReverseHalf, typ: ir.TypeI16, in: 0x1234, exp: 0x3412, out: ir.TypeI16},
		{name: "dual", op: ir.OpcodeByteReverseDual, typ: ir.TypeI64, in: 0x0102030405060708, exp: 0x0807060504030201, out: ir.TypeI64},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			blk := ir.NewBlock()
			rev := blk.AppendInst(tc.op, tc.typ, ir.ImmFromU64(tc.typ, tc.in))
			c := consume(blk, rev.Result())

			iropt.ConstantPropagation(blk)

			require.Equal(t, tc.exp, c.GetArg(1).AsU64())
			require.Equal(t, tc.out, c.GetArg(1).Type())
		})
	}
}

func TestFoldExtractions(t *testing.T) {
	tests := []struct {
		name string
		op   ir.Opcode
		typ  ir.Type
		in   ir.Value
		exp  uint64
		out  ir.Type
	}{
		{name: "lsb", op: ir.OpcodeLeastSignificantByte, typ: ir.TypeI8, in: imm32(0x1234), exp: 0x34, out: ir.TypeI8},
		{name: "lsh", op: ir.OpcodeLeastSignificantHalf, typ: ir.TypeI16, in: imm32(0xabcdef), exp: 0xcdef, out: ir.TypeI16},
		{name: "lsw", op: ir.OpcodeLeastSignificantWord, typ: ir.TypeI32, in: imm64(0x1_0000_0002), exp: 2, out: ir.TypeI32},
		{name: "msb set", op: ir.OpcodeMostSignificantBit, typ: ir.TypeI1, in: imm32(0x8000_0000), exp: 1, out: ir.TypeI1},
		{name: "msb clear", op: ir.OpcodeMostSignificantBit, typ: ir.TypeI1, in: imm32(0x7fff_ffff), exp: 0, out: ir.TypeI1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			blk := ir.NewBlock()
			inst := blk.AppendInst(tc.op, tc.typ, tc.in)
			c := consume(blk, inst.Result())

			iropt.ConstantPropagation(blk)

			require.Equal(t, tc.exp, c.GetArg(1).AsU64())
			require.Equal(t, tc.out, c.GetArg(1).Type())
		})
	}
}

func TestFoldMostSignificantWordForwardsCarry(t *testing.T) {
	blk := ir.NewBlock()
	msw := blk.AppendInst(ir.OpcodeMostSignificantWord, ir.TypeI32, imm64(0x8765_4321_8000_0000))
	carry := blk.AppendPseudoOp(msw, ir.OpcodeGetCarryFromOp, ir.TypeI1)
	cMain := consume(blk, msw.Result())
	cCarry := consume(blk, carry.Result())

	iropt.ConstantPropagation(blk)

	require.Equal(t, uint64(0x8765_4321), cMain.GetArg(1).AsU64())
	// Bit 31 of the operand is set.
	require.Equal(t, uint64(1), cCarry.GetArg(1).AsU64())
	require.False(t, msw.HasUses())
	require.False(t, carry.HasUses())
}

func TestFoldShiftZeroAmount(t *testing.T) {
	blk := ir.NewBlock()
	x := blk.AppendInst(ir.OpcodeGetGuestReg, ir.TypeI32, ir.ImmFromU64(ir.TypeI8, 0))
	carryIn := blk.AppendInst(ir.OpcodeGetGuestReg, ir.TypeI1, ir.ImmFromU64(ir.TypeI8, 1))
	shift := blk.AppendInst(ir.OpcodeLogicalShiftLeft32, ir.TypeI32,
		x.Result(), ir.ImmFromU64(ir.TypeI8, 0), carryIn.Result())
	carry := blk.AppendPseudoOp(shift, ir.OpcodeGetCarryFromOp, ir.TypeI1)
	cMain := consume(blk, shift.Result())
	cCarry := consume(blk, carry.Result())

	iropt.ConstantPropagation(blk)

	// Result is the unshifted operand, observed carry is the carry-in.
	require.Equal(t, x.Result(), cMain.GetArg(1))
	require.Equal(t, carryIn.Result(), cCarry.GetArg(1))
}

func TestFoldShiftForcesUnobservedCarryFalse(t *testing.T) {
	blk := ir.NewBlock()
	x := blk.AppendInst(ir.OpcodeGetGuestReg, ir.TypeI32, ir.ImmFromU64(ir.TypeI8, 0))
	carryIn := blk.AppendInst(ir.OpcodeGetGuestReg, ir.TypeI1, ir.ImmFromU64(ir.TypeI8, 1))
	shift := blk.AppendInst(ir.OpcodeLogicalShiftRight32, ir.TypeI32,
		x.Result(), ir.ImmFromU64(ir.TypeI8, 3), carryIn.Result())
	consume(blk, shift.Result())

	iropt.ConstantPropagation(blk)

	// No carry pseudo-op observes the shift, so the carry-in is dropped.
	arg2 := shift.GetArg(2)
	require.True(t, arg2.IsImmediate())
	require.True(t, arg2.IsZero())
	require.False(t, carryIn.HasUses())
	// Non-zero amount: the shift itself stays live.
	require.True(t, shift.HasUses())
}

func TestFoldExtensions(t *testing.T) {
	tests := []struct {
		name string
		op   ir.Opcode
		typ  ir.Type
		in   ir.Value
		exp  uint64
	}{
		{name: "sxtb.w", op: ir.OpcodeSignExtendByteToWord, typ: ir.TypeI32, in: ir.ImmFromU64(ir.TypeI8, 0x80), exp: 0xffff_ff80},
		{name: "sxth.w", op: ir.OpcodeSignExtendHalfToWord, typ: ir.TypeI32, in: ir.ImmFromU64(ir.TypeI16, 0x8000), exp: 0xffff_8000},
		{name: "sxtw.x", op: ir.OpcodeSignExtendWordToLong, typ: ir.TypeI64, in: imm32(0x8000_0000), exp: 0xffff_ffff_8000_0000},
		{name: "uxtb.w", op: ir.OpcodeZeroExtendByteToWord, typ: ir.TypeI32, in: ir.ImmFromU64(ir.TypeI8, 0x80), exp: 0x80},
		{name: "uxth.x", op: ir.OpcodeZeroExtendHalfToLong, typ: ir.TypeI64, in: ir.ImmFromU64(ir.TypeI16, 0x8000), exp: 0x8000},
		{name: "uxtw.x", op: ir.OpcodeZeroExtendWordToLong, typ: ir.TypeI64, in: imm32(0xffff_ffff), exp: 0xffff_ffff},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			blk := ir.NewBlock()
			inst := blk.AppendInst(tc.op, tc.typ, tc.in)
			c := consume(blk, inst.Result())

			iropt.ConstantPropagation(blk)

			require.Equal(t, tc.exp, c.GetArg(1).AsU64())
			require.Equal(t, tc.typ, c.GetArg(1).Type())
		})
	}
}

func TestNonImmediateOperandsUntouched(t *testing.T) {
	blk := ir.NewBlock()
	x := blk.AppendInst(ir.OpcodeGetGuestReg, ir.TypeI32, ir.ImmFromU64(ir.TypeI8, 0))
	y := blk.AppendInst(ir.OpcodeGetGuestReg, ir.TypeI32, ir.ImmFromU64(ir.TypeI8, 1))
	add := blk.AppendInst(ir.OpcodeAdd32, ir.TypeI32, x.Result(), y.Result())
	consume(blk, add.Result())

	iropt.ConstantPropagation(blk)

	require.Equal(t, x.Result(), add.GetArg(0))
	require.Equal(t, y.Result(), add.GetArg(1))
	require.True(t, add.HasUses())
}

func TestPassIsIdempotent(t *testing.T) {
	blk := ir.NewBlock()
	x := blk.AppendInst(ir.OpcodeGetGuestReg, ir.TypeI32, ir.ImmFromU64(ir.TypeI8, 0))
	t0 := blk.AppendInst(ir.OpcodeAnd32, ir.TypeI32, x.Result(), imm32(0x00ff))
	t1 := blk.AppendInst(ir.OpcodeAnd32, ir.TypeI32, t0.Result(), imm32(0xf0f0))
	blk.AppendInst(ir.OpcodeOr32, ir.TypeI32, imm32(3), t1.Result())
	div := blk.AppendInst(ir.OpcodeUnsignedDiv32, ir.TypeI32, t1.Result(), imm32(0))
	consume(blk, div.Result())

	iropt.ConstantPropagation(blk)
	first := blk.String()
	iropt.ConstantPropagation(blk)
	require.Equal(t, first, blk.String())
}
