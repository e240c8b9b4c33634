// Package iropt contains the in-place optimization passes that run over a
// basic block before emission.
package iropt

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/coldforge/jitcore/internal/jitdebug"
	"github.com/coldforge/jitcore/ir"
)

// ConstantPropagation sweeps the block once, rewriting instructions whose
// result is statically determinable or whose operands trigger an
// architectural identity rule. Replaced instructions stay in the block as
// dead producers; downstream consumers must tolerate instructions with no
// live uses. A single pass suffices, but running it again is harmless.
func ConstantPropagation(blk *ir.Block) {
	for i := 0; i < blk.InstCount(); i++ {
		inst := blk.InstAt(i)
		op := inst.Opcode()

		switch op {
		case ir.OpcodeLeastSignificantWord:
			foldLeastSignificantWord(inst)
		case ir.OpcodeMostSignificantWord:
			foldMostSignificantWord(inst)
		case ir.OpcodeLeastSignificantHalf:
			foldLeastSignificantHalf(inst)
		case ir.OpcodeLeastSignificantByte:
			foldLeastSignificantByte(inst)
		case ir.OpcodeMostSignificantBit:
			foldMostSignificantBit(inst)
		case ir.OpcodeLogicalShiftLeft32, ir.OpcodeLogicalShiftLeft64,
			ir.OpcodeLogicalShiftRight32, ir.OpcodeLogicalShiftRight64,
			ir.OpcodeArithmeticShiftRight32, ir.OpcodeArithmeticShiftRight64,
			ir.OpcodeRotateRight32, ir.OpcodeRotateRight64:
			foldShifts(inst)
		case ir.OpcodeMul32, ir.OpcodeMul64:
			foldMultiply(inst, op == ir.OpcodeMul32)
		case ir.OpcodeAdd32, ir.OpcodeAdd64:
			foldAdd(inst, op == ir.OpcodeAdd32)
		case ir.OpcodeSignedDiv32, ir.OpcodeSignedDiv64:
			foldDivide(inst, op == ir.OpcodeSignedDiv32, true)
		case ir.OpcodeUnsignedDiv32, ir.OpcodeUnsignedDiv64:
			foldDivide(inst, op == ir.OpcodeUnsignedDiv32, false)
		case ir.OpcodeAnd32, ir.OpcodeAnd64:
			foldAND(inst, op == ir.OpcodeAnd32)
		case ir.OpcodeEor32, ir.OpcodeEor64:
			foldEOR(inst, op == ir.OpcodeEor32)
		case ir.OpcodeOr32, ir.OpcodeOr64:
			foldOR(inst, op == ir.OpcodeOr32)
		case ir.OpcodeNot32, ir.OpcodeNot64:
			foldNOT(inst, op == ir.OpcodeNot32)
		case ir.OpcodeSignExtendByteToWord, ir.OpcodeSignExtendHalfToWord:
			foldSignExtendXToWord(inst)
		case ir.OpcodeSignExtendByteToLong, ir.OpcodeSignExtendHalfToLong, ir.OpcodeSignExtendWordToLong:
			foldSignExtendXToLong(inst)
		case ir.OpcodeZeroExtendByteToWord, ir.OpcodeZeroExtendHalfToWord:
			foldZeroExtendXToWord(inst)
		case ir.OpcodeZeroExtendByteToLong, ir.OpcodeZeroExtendHalfToLong, ir.OpcodeZeroExtendWordToLong:
			foldZeroExtendXToLong(inst)
		case ir.OpcodeByteReverseWord, ir.OpcodeByteReverseHalf, ir.OpcodeByteReverseDual:
			foldByteReverse(inst, op)
		}
	}

	if jitdebug.PrintFoldedBlock {
		fmt.Println(blk)
	}
}

// replaceUsesWith resolves the instruction to a 32 or 64-bit immediate,
// clamped to that width.
func replaceUsesWith(inst *ir.Inst, is32Bit bool, value uint64) {
	inst.ReplaceUsesWith(immValue(is32Bit, value))
	if jitdebug.ConstPropLoggingEnabled {
		fmt.Printf("iropt: folded %s to %#x\n", inst.Opcode(), value)
	}
}

func immValue(is32Bit bool, value uint64) ir.Value {
	if is32Bit {
		return ir.ImmFromU64(ir.TypeI32, value)
	}
	return ir.ImmFromU64(ir.TypeI64, value)
}

// foldCommutative is the shared three-step folder for commutative binary
// ops. Both operands immediate: evaluate and resolve, returning false.
// One operand immediate: fuse with an identical nested op whose second
// operand is also immediate, or normalize so the immediate sits in
// position 1. Returns true when the instruction stays live so the caller
// can apply its per-op identities.
func foldCommutative(inst *ir.Inst, is32Bit bool, immFn func(a, b uint64) uint64) bool {
	lhs := inst.GetArg(0)
	rhs := inst.GetArg(1)

	lhsImm := lhs.IsImmediate()
	rhsImm := rhs.IsImmediate()

	if lhsImm && rhsImm {
		replaceUsesWith(inst, is32Bit, immFn(lhs.AsU64(), rhs.AsU64()))
		return false
	}

	if lhsImm && !rhsImm {
		rhsInst := inst.Block().Inst(rhs.Inst())
		if rhsInst.Opcode() == inst.Opcode() && rhsInst.GetArg(1).IsImmediate() {
			combined := immFn(lhs.AsU64(), rhsInst.GetArg(1).AsU64())
			inst.SetArg(0, rhsInst.GetArg(0))
			inst.SetArg(1, immValue(is32Bit, combined))
		} else {
			// Normalize
			inst.SetArg(0, rhs)
			inst.SetArg(1, lhs)
		}
	}

	if !lhsImm && rhsImm {
		lhsInst := inst.Block().Inst(lhs.Inst())
		if lhsInst.Opcode() == inst.Opcode() && lhsInst.GetArg(1).IsImmediate() {
			combined := immFn(rhs.AsU64(), lhsInst.GetArg(1).AsU64())
			inst.SetArg(0, lhsInst.GetArg(0))
			inst.SetArg(1, immValue(is32Bit, combined))
		}
	}

	return true
}

// foldAND resolves:
//
//  1. imm_x & imm_y -> result
//  2. x & 0 -> 0
//  3. x & y -> x (where y has all bits set)
func foldAND(inst *ir.Inst, is32Bit bool) {
	if foldCommutative(inst, is32Bit, func(a, b uint64) uint64 { return a & b }) {
		rhs := inst.GetArg(1)
		if rhs.IsZero() {
			replaceUsesWith(inst, is32Bit, 0)
		} else if rhs.HasAllBitsSet() {
			inst.ReplaceUsesWith(inst.GetArg(0))
		}
	}
}

// foldEOR resolves:
//
//  1. imm_x ^ imm_y -> result
//  2. x ^ 0 -> x
func foldEOR(inst *ir.Inst, is32Bit bool) {
	if foldCommutative(inst, is32Bit, func(a, b uint64) uint64 { return a ^ b }) {
		rhs := inst.GetArg(1)
		if rhs.IsZero() {
			inst.ReplaceUsesWith(inst.GetArg(0))
		}
	}
}

// foldOR resolves:
//
//  1. imm_x | imm_y -> result
//  2. x | 0 -> x
func foldOR(inst *ir.Inst, is32Bit bool) {
	if foldCommutative(inst, is32Bit, func(a, b uint64) uint64 { return a | b }) {
		rhs := inst.GetArg(1)
		if rhs.IsZero() {
			inst.ReplaceUsesWith(inst.GetArg(0))
		}
	}
}

// foldMultiply resolves:
//
//  1. imm_x * imm_y -> result
//  2. x * 0 -> 0
//  3. x * 1 -> x
func foldMultiply(inst *ir.Inst, is32Bit bool) {
	if foldCommutative(inst, is32Bit, func(a, b uint64) uint64 { return a * b }) {
		rhs := inst.GetArg(1)
		if rhs.IsZero() {
			replaceUsesWith(inst, is32Bit, 0)
		} else if rhs.IsUnsignedImmediate(1) {
			inst.ReplaceUsesWith(inst.GetArg(0))
		}
	}
}

// foldAdd resolves:
//
//  1. imm_x + imm_y -> result
//  2. x + 0 -> x
func foldAdd(inst *ir.Inst, is32Bit bool) {
	if foldCommutative(inst, is32Bit, func(a, b uint64) uint64 { return a + b }) {
		rhs := inst.GetArg(1)
		if rhs.IsZero() {
			inst.ReplaceUsesWith(inst.GetArg(0))
		}
	}
}

// foldDivide resolves:
//
//  1. x / 0 -> 0 (the architecturally defined sentinel, not an error)
//  2. imm_x / imm_y -> result
//  3. x / 1 -> x
func foldDivide(inst *ir.Inst, is32Bit bool, isSigned bool) {
	rhs := inst.GetArg(1)

	if rhs.IsZero() {
		replaceUsesWith(inst, is32Bit, 0)
		return
	}

	lhs := inst.GetArg(0)
	if lhs.IsImmediate() && rhs.IsImmediate() {
		if isSigned {
			// MinInt64 / -1 overflows; the guest architecture defines the
			// quotient as the dividend.
			if lhs.AsS64() == math.MinInt64 && rhs.AsS64() == -1 {
				replaceUsesWith(inst, is32Bit, lhs.AsU64())
				return
			}
			replaceUsesWith(inst, is32Bit, uint64(lhs.AsS64()/rhs.AsS64()))
		} else {
			replaceUsesWith(inst, is32Bit, lhs.AsU64()/rhs.AsU64())
		}
	} else if rhs.IsUnsignedImmediate(1) {
		inst.ReplaceUsesWith(lhs)
	}
}

// foldNOT resolves an immediate operand to its bitwise complement.
func foldNOT(inst *ir.Inst, is32Bit bool) {
	operand := inst.GetArg(0)
	if !operand.IsImmediate() {
		return
	}
	replaceUsesWith(inst, is32Bit, ^operand.AsU64())
}

// foldByteReverse resolves an immediate operand to its byte-swapped form
// at the reverse variant's width.
func foldByteReverse(inst *ir.Inst, op ir.Opcode) {
	operand := inst.GetArg(0)
	if !operand.IsImmediate() {
		return
	}

	switch op {
	case ir.OpcodeByteReverseWord:
		inst.ReplaceUsesWith(ir.ImmFromU64(ir.TypeI32, uint64(bits.ReverseBytes32(uint32(operand.AsU64())))))
	case ir.OpcodeByteReverseHalf:
		inst.ReplaceUsesWith(ir.ImmFromU64(ir.TypeI16, uint64(bits.ReverseBytes16(uint16(operand.AsU64())))))
	default:
		inst.ReplaceUsesWith(ir.ImmFromU64(ir.TypeI64, bits.ReverseBytes64(operand.AsU64())))
	}
}

func foldLeastSignificantByte(inst *ir.Inst) {
	if !inst.AreAllArgsImmediates() {
		return
	}
	inst.ReplaceUsesWith(ir.ImmFromU64(ir.TypeI8, inst.GetArg(0).AsU64()))
}

func foldLeastSignificantHalf(inst *ir.Inst) {
	if !inst.AreAllArgsImmediates() {
		return
	}
	inst.ReplaceUsesWith(ir.ImmFromU64(ir.TypeI16, inst.GetArg(0).AsU64()))
}

func foldLeastSignificantWord(inst *ir.Inst) {
	if !inst.AreAllArgsImmediates() {
		return
	}
	inst.ReplaceUsesWith(ir.ImmFromU64(ir.TypeI32, inst.GetArg(0).AsU64()))
}

func foldMostSignificantBit(inst *ir.Inst) {
	if !inst.AreAllArgsImmediates() {
		return
	}
	inst.ReplaceUsesWith(ir.ImmFromU64(ir.TypeI1, (inst.GetArg(0).AsU64()>>31)&1))
}

// foldMostSignificantWord additionally forwards bit 31 of the operand into
// the associated carry pseudo-op when one is attached.
func foldMostSignificantWord(inst *ir.Inst) {
	carryInst := inst.GetAssociatedPseudoOperation(ir.OpcodeGetCarryFromOp)

	if !inst.AreAllArgsImmediates() {
		return
	}

	operand := inst.GetArg(0)
	if carryInst != nil {
		carryInst.ReplaceUsesWith(ir.ImmFromU64(ir.TypeI1, (operand.AsU64()>>31)&1))
	}
	inst.ReplaceUsesWith(ir.ImmFromU64(ir.TypeI32, operand.AsU64()>>32))
}

// foldShifts normalizes the carry-in operand of the 32-bit variants and
// resolves zero-amount shifts: the result is the first operand and any
// observed carry is the unchanged carry-in.
func foldShifts(inst *ir.Inst) {
	carryInst := inst.GetAssociatedPseudoOperation(ir.OpcodeGetCarryFromOp)

	// The 32-bit variants can carry 3 arguments, while the 64-bit
	// variants only carry 2.
	if inst.NumArgs() == 3 && carryInst == nil {
		inst.SetArg(2, ir.ImmFromU64(ir.TypeI1, 0))
	}

	if !inst.GetArg(1).IsZero() {
		return
	}

	if carryInst != nil {
		carryInst.ReplaceUsesWith(inst.GetArg(2))
	}
	inst.ReplaceUsesWith(inst.GetArg(0))
}

func foldSignExtendXToWord(inst *ir.Inst) {
	if !inst.AreAllArgsImmediates() {
		return
	}
	inst.ReplaceUsesWith(ir.ImmFromS64(ir.TypeI32, inst.GetArg(0).AsS64()))
}

func foldSignExtendXToLong(inst *ir.Inst) {
	if !inst.AreAllArgsImmediates() {
		return
	}
	inst.ReplaceUsesWith(ir.ImmFromS64(ir.TypeI64, inst.GetArg(0).AsS64()))
}

func foldZeroExtendXToWord(inst *ir.Inst) {
	if !inst.AreAllArgsImmediates() {
		return
	}
	inst.ReplaceUsesWith(ir.ImmFromU64(ir.TypeI32, inst.GetArg(0).AsU64()))
}

func foldZeroExtendXToLong(inst *ir.Inst) {
	if !inst.AreAllArgsImmediates() {
		return
	}
	inst.ReplaceUsesWith(ir.ImmFromU64(ir.TypeI64, inst.GetArg(0).AsU64()))
}
