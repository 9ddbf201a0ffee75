package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// asmBuilder assembles a raw instruction stream from opcode/operand
// fragments, used so these tests can pin exact CPU semantics without
// depending on the asm package.
type asmBuilder struct {
	buf    []byte
	labels map[string]int
	fixups []fixup
}

type fixup struct {
	pos   int
	label string
}

func newAsmBuilder() *asmBuilder {
	return &asmBuilder{labels: make(map[string]int)}
}

func (b *asmBuilder) label(name string) *asmBuilder {
	b.labels[name] = len(b.buf)
	return b
}

func (b *asmBuilder) op(o Opcode) *asmBuilder {
	b.buf = append(b.buf, byte(o))
	return b
}

func (b *asmBuilder) reg(r RegIndex) *asmBuilder {
	b.buf = append(b.buf, byte(r))
	return b
}

func (b *asmBuilder) lit(v uint16) *asmBuilder {
	b.buf = append(b.buf, byte(v>>8), byte(v))
	return b
}

func (b *asmBuilder) litLabel(name string) *asmBuilder {
	b.fixups = append(b.fixups, fixup{pos: len(b.buf), label: name})
	b.buf = append(b.buf, 0, 0)
	return b
}

func (b *asmBuilder) build(t *testing.T) []byte {
	for _, f := range b.fixups {
		addr, ok := b.labels[f.label]
		require.True(t, ok, "undefined label %s", f.label)
		b.buf[f.pos] = byte(uint16(addr) >> 8)
		b.buf[f.pos+1] = byte(uint16(addr))
	}
	return b.buf
}

func newTestCPU(program []byte) *CPU {
	cpu := NewCPU(NewMemoryMap())
	_ = cpu.Load(program)
	return cpu
}

func runToEnd(t *testing.T, cpu *CPU) {
	d := NewDriver(cpu)
	require.NoError(t, d.Run())
}

func TestScenarioRegisterAliasing(t *testing.T) {
	prog := newAsmBuilder().
		op(MovLitReg).lit(0x0102).reg(AX).
		op(End).
		build(t)

	cpu := newTestCPU(prog)
	runToEnd(t, cpu)

	ah, _ := cpu.Regs.Get(AH)
	al, _ := cpu.Regs.Get(AL)
	bx, _ := cpu.Regs.Get(BX)
	require.Equal(t, uint16(0x01), ah)
	require.Equal(t, uint16(0x02), al)
	require.Equal(t, uint16(0x0000), bx)
}

func TestScenarioBasicAdd(t *testing.T) {
	prog := newAsmBuilder().
		op(MovLitReg).lit(0x0010).reg(AX).
		op(MovLitReg).lit(0x000A).reg(BX).
		op(AddRegReg).reg(AX).reg(BX).
		op(End).
		build(t)

	cpu := newTestCPU(prog)
	runToEnd(t, cpu)

	acc, _ := cpu.Regs.Get(ACC)
	require.Equal(t, uint16(0x001A), acc)
	require.Zero(t, cpu.flags&FlagCarry)
}

func TestScenarioOverflowAdd(t *testing.T) {
	prog := newAsmBuilder().
		op(MovLitReg).lit(0xFFFF).reg(AX).
		op(MovLitReg).lit(0x0010).reg(BX).
		op(AddRegReg).reg(AX).reg(BX).
		op(End).
		build(t)

	cpu := newTestCPU(prog)
	runToEnd(t, cpu)

	acc, _ := cpu.Regs.Get(ACC)
	require.Equal(t, uint16(0x000F), acc)
	require.NotZero(t, cpu.flags&FlagCarry)
}

// TestScenarioJumpLoop pins a counting loop: BX counts from 0 while AX
// holds a fixed step, accumulating into ACC via ADD_REG_REG and copying
// ACC back into BX, until BX reaches 3.
func TestScenarioJumpLoop(t *testing.T) {
	b := newAsmBuilder()
	b.op(MovLitReg).lit(0x0001).reg(AX).
		op(MovLitReg).lit(0x0000).reg(BX).
		label("loop").
		op(AddRegReg).reg(BX).reg(AX).
		op(MovRegReg).reg(ACC).reg(BX).
		op(CmpRegLit).reg(BX).lit(0x0003).
		op(JneLit).litLabel("loop").
		op(End)
	prog := b.build(t)

	cpu := newTestCPU(prog)
	runToEnd(t, cpu)

	ax, _ := cpu.Regs.Get(AX)
	bx, _ := cpu.Regs.Get(BX)
	acc, _ := cpu.Regs.Get(ACC)
	require.Equal(t, uint16(1), ax)
	require.Equal(t, uint16(3), bx)
	require.Equal(t, uint16(3), acc)
}

func TestScenarioStackSwap(t *testing.T) {
	prog := newAsmBuilder().
		op(MovLitReg).lit(0x1111).reg(AX).
		op(MovLitReg).lit(0x2222).reg(BX).
		op(PshReg).reg(AX).
		op(PshReg).reg(BX).
		op(PopReg).reg(AX).
		op(PopReg).reg(BX).
		op(End).
		build(t)

	cpu := newTestCPU(prog)
	runToEnd(t, cpu)

	ax, _ := cpu.Regs.Get(AX)
	bx, _ := cpu.Regs.Get(BX)
	sp, _ := cpu.Regs.Get(SP)
	require.Equal(t, uint16(0x2222), ax)
	require.Equal(t, uint16(0x1111), bx)
	require.Equal(t, initialStackPointer, sp)
}

func TestScenarioSubroutineCallReturn(t *testing.T) {
	b := newAsmBuilder()
	b.op(MovLitReg).lit(0x1111).reg(AX).
		op(MovLitReg).lit(0x3333).reg(CX).
		op(PshLit).lit(0x2222).
		op(CallLit).litLabel("sub").
		op(PopReg).reg(BX).
		op(End).
		label("sub").
		op(MovLitReg).lit(0xFFFF).reg(BX).
		op(MovLitReg).lit(0xFFFF).reg(CX).
		op(Ret)
	prog := b.build(t)

	cpu := newTestCPU(prog)
	runToEnd(t, cpu)

	ax, _ := cpu.Regs.Get(AX)
	bx, _ := cpu.Regs.Get(BX)
	cx, _ := cpu.Regs.Get(CX)
	dx, _ := cpu.Regs.Get(DX)
	sp, _ := cpu.Regs.Get(SP)
	require.Equal(t, uint16(0x1111), ax, "RET must restore AX even though the callee never touched it")
	require.Equal(t, uint16(0x2222), bx, "BX comes from the caller's own pop, not the callee's mutation")
	require.Equal(t, uint16(0x3333), cx, "RET restores CX over the callee's mutation to 0xFFFF")
	require.Equal(t, uint16(0x0000), dx)
	require.Equal(t, initialStackPointer, sp)
}

func TestNegFlagIsWidthCorrect(t *testing.T) {
	// INC_REG on an 8-bit half: 0x7F -> 0x80 sets NEG at bit 7, not bit 15.
	prog := newAsmBuilder().
		op(MovLitReg).lit(0x007F).reg(AL).
		op(IncReg).reg(AL).
		op(End).
		build(t)
	cpu := newTestCPU(prog)
	runToEnd(t, cpu)

	al, _ := cpu.Regs.Get(AL)
	require.Equal(t, uint16(0x80), al)
	require.NotZero(t, cpu.flags&FlagNeg, "bit 7 of an 8-bit result must set NEG")

	// The same bit pattern in a 16-bit register is NOT negative: 0x0080
	// doesn't have bit 15 set.
	prog2 := newAsmBuilder().
		op(MovLitReg).lit(0x007F).reg(AX).
		op(IncReg).reg(AX).
		op(End).
		build(t)
	cpu2 := newTestCPU(prog2)
	runToEnd(t, cpu2)
	require.Zero(t, cpu2.flags&FlagNeg, "bit 15 unset at 16-bit width must not set NEG")
}

func TestCmpDoesNotWriteDestination(t *testing.T) {
	prog := newAsmBuilder().
		op(MovLitReg).lit(0x0005).reg(AX).
		op(MovLitReg).lit(0x0005).reg(BX).
		op(CmpRegReg).reg(AX).reg(BX).
		op(End).
		build(t)
	cpu := newTestCPU(prog)
	runToEnd(t, cpu)

	require.NotZero(t, cpu.flags&FlagZero)
	ax, _ := cpu.Regs.Get(AX)
	bx, _ := cpu.Regs.Get(BX)
	require.Equal(t, uint16(5), ax)
	require.Equal(t, uint16(5), bx)
}

func TestUnexpectedInstruction(t *testing.T) {
	prog := []byte{0x00} // opcode 0x00 has no table entry
	cpu := newTestCPU(prog)
	d := NewDriver(cpu)
	err := d.Run()
	require.Error(t, err)
	require.IsType(t, &UnexpectedInstruction{}, err)
}

func TestRetWithoutCallIsBadReturn(t *testing.T) {
	prog := newAsmBuilder().op(Ret).build(t)
	cpu := newTestCPU(prog)
	d := NewDriver(cpu)
	err := d.Run()
	require.ErrorIs(t, err, ErrBadReturn)
}

func TestCallRegRequiresSixteenBitRegister(t *testing.T) {
	prog := newAsmBuilder().
		op(MovLitReg).lit(0x00).reg(AH).
		op(CallReg).reg(AH).
		build(t)
	cpu := newTestCPU(prog)
	d := NewDriver(cpu)
	err := d.Run()
	require.ErrorIs(t, err, ErrBadRegisterPtrLen)
}
