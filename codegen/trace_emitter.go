package codegen

import (
	"fmt"

	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// TraceEmitter records the mnemonic stream as data instead of encoding it.
// Tests assert on the recorded lines to check which moves the register
// allocator decided to emit, independently of instruction encoding.
type TraceEmitter struct {
	Entries []string
}

var _ Emitter = (*TraceEmitter)(nil)

func (t *TraceEmitter) record(format string, args ...interface{}) {
	t.Entries = append(t.Entries, fmt.Sprintf(format, args...))
}

// MovRegReg implements Emitter.MovRegReg.
func (t *TraceEmitter) MovRegReg(dst, src Reg) {
	t.record("movq %s, %s", RegName(dst), RegName(src))
}

// MovRegMem implements Emitter.MovRegMem.
func (t *TraceEmitter) MovRegMem(dst Reg, src Mem) {
	t.record("movq %s, %s", RegName(dst), src)
}

// MovMemReg implements Emitter.MovMemReg.
func (t *TraceEmitter) MovMemReg(dst Mem, src Reg) {
	t.record("movq %s, %s", dst, RegName(src))
}

// MovapsRegReg implements Emitter.MovapsRegReg.
func (t *TraceEmitter) MovapsRegReg(dst, src Reg) {
	t.record("movaps %s, %s", RegName(dst), RegName(src))
}

// MovsdRegMem implements Emitter.MovsdRegMem.
func (t *TraceEmitter) MovsdRegMem(dst Reg, src Mem) {
	t.record("movsd %s, %s", RegName(dst), src)
}

// MovsdMemReg implements Emitter.MovsdMemReg.
func (t *TraceEmitter) MovsdMemReg(dst Mem, src Reg) {
	t.record("movsd %s, %s", dst, RegName(src))
}

// XchgRegReg implements Emitter.XchgRegReg.
func (t *TraceEmitter) XchgRegReg(a, b Reg) {
	t.record("xchgq %s, %s", RegName(a), RegName(b))
}

// XorSelf32 implements Emitter.XorSelf32.
func (t *TraceEmitter) XorSelf32(r Reg) {
	t.record("xorl %s, %s", RegName(r), RegName(r))
}

// MovImm64 implements Emitter.MovImm64.
func (t *TraceEmitter) MovImm64(dst Reg, imm uint64) {
	t.record("movq %s, %#x", RegName(dst), imm)
}

// Reset discards the recorded entries.
func (t *TraceEmitter) Reset() {
	t.Entries = t.Entries[:0]
}

var regNames = map[Reg]string{
	x86.REG_AX: "rax", x86.REG_BX: "rbx", x86.REG_CX: "rcx", x86.REG_DX: "rdx",
	x86.REG_SI: "rsi", x86.REG_DI: "rdi", x86.REG_BP: "rbp", x86.REG_SP: "rsp",
	x86.REG_R8: "r8", x86.REG_R9: "r9", x86.REG_R10: "r10", x86.REG_R11: "r11",
	x86.REG_R12: "r12", x86.REG_R13: "r13", x86.REG_R14: "r14", x86.REG_R15: "r15",
	x86.REG_X0: "xmm0", x86.REG_X1: "xmm1", x86.REG_X2: "xmm2", x86.REG_X3: "xmm3",
	x86.REG_X4: "xmm4", x86.REG_X5: "xmm5", x86.REG_X6: "xmm6", x86.REG_X7: "xmm7",
	x86.REG_X8: "xmm8", x86.REG_X9: "xmm9", x86.REG_X10: "xmm10", x86.REG_X11: "xmm11",
	x86.REG_X12: "xmm12", x86.REG_X13: "xmm13", x86.REG_X14: "xmm14", x86.REG_X15: "xmm15",
}

// RegName returns the conventional assembly name of a native register.
func RegName(r Reg) string {
	if n, ok := regNames[r]; ok {
		return n
	}
	return fmt.Sprintf("reg%d", r)
}
