package codegen

import (
	"fmt"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// AsmEmitter lowers the Emitter mnemonics onto the golang-asm instruction
// builder. One AsmEmitter owns one code stream; Assemble finalizes it.
type AsmEmitter struct {
	b *goasm.Builder
}

var _ Emitter = (*AsmEmitter)(nil)

// NewAsmEmitter returns an emitter backed by a fresh amd64 assembly builder.
func NewAsmEmitter() (*AsmEmitter, error) {
	b, err := goasm.NewBuilder("amd64", 1024)
	if err != nil {
		return nil, fmt.Errorf("failed to create a new assembly builder: %w", err)
	}
	return &AsmEmitter{b: b}, nil
}

// Assemble encodes every emitted instruction and returns the machine code.
func (e *AsmEmitter) Assemble() []byte {
	return e.b.Assemble()
}

func (e *AsmEmitter) regToReg(as obj.As, dst, src Reg) {
	p := e.b.NewProg()
	p.As = as
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	p.From.Type = obj.TYPE_REG
	p.From.Reg = src
	e.b.AddInstruction(p)
}

func (e *AsmEmitter) regToMem(as obj.As, dst Mem, src Reg) {
	p := e.b.NewProg()
	p.As = as
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = dst.Base
	p.To.Offset = dst.Offset
	p.From.Type = obj.TYPE_REG
	p.From.Reg = src
	e.b.AddInstruction(p)
}

func (e *AsmEmitter) memToReg(as obj.As, dst Reg, src Mem) {
	p := e.b.NewProg()
	p.As = as
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = src.Base
	p.From.Offset = src.Offset
	e.b.AddInstruction(p)
}

// MovRegReg implements Emitter.MovRegReg.
func (e *AsmEmitter) MovRegReg(dst, src Reg) { e.regToReg(x86.AMOVQ, dst, src) }

// MovRegMem implements Emitter.MovRegMem.
func (e *AsmEmitter) MovRegMem(dst Reg, src Mem) { e.memToReg(x86.AMOVQ, dst, src) }

// MovMemReg implements Emitter.MovMemReg.
func (e *AsmEmitter) MovMemReg(dst Mem, src Reg) { e.regToMem(x86.AMOVQ, dst, src) }

// MovapsRegReg implements Emitter.MovapsRegReg.
func (e *AsmEmitter) MovapsRegReg(dst, src Reg) { e.regToReg(x86.AMOVAPS, dst, src) }

// MovsdRegMem implements Emitter.MovsdRegMem.
func (e *AsmEmitter) MovsdRegMem(dst Reg, src Mem) { e.memToReg(x86.AMOVSD, dst, src) }

// MovsdMemReg implements Emitter.MovsdMemReg.
func (e *AsmEmitter) MovsdMemReg(dst Mem, src Reg) { e.regToMem(x86.AMOVSD, dst, src) }

// XchgRegReg implements Emitter.XchgRegReg.
func (e *AsmEmitter) XchgRegReg(a, b Reg) { e.regToReg(x86.AXCHGQ, a, b) }

// XorSelf32 implements Emitter.XorSelf32.
func (e *AsmEmitter) XorSelf32(r Reg) { e.regToReg(x86.AXORL, r, r) }

// MovImm64 implements Emitter.MovImm64.
func (e *AsmEmitter) MovImm64(dst Reg, imm uint64) {
	p := e.b.NewProg()
	p.As = x86.AMOVQ
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = int64(imm)
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	e.b.AddInstruction(p)
}
