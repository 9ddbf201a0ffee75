package asm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rvm16/asm"
	"rvm16/vm"
)

func runImage(t *testing.T, image []byte) *vm.CPU {
	cpu := vm.NewCPU(vm.NewMemoryMap())
	require.NoError(t, cpu.Load(image))
	d := vm.NewDriver(cpu)
	require.NoError(t, d.Run())
	return cpu
}

func TestAssembleBasicProgram(t *testing.T) {
	src := `
.code
start:
  mov 0x0005, ax
  mov 0x0003, bx
  add ax, bx
  end
`
	image, err := asm.Assemble(src)
	require.NoError(t, err)

	cpu := runImage(t, image)
	acc, _ := cpu.Regs.Get(vm.ACC)
	require.Equal(t, uint16(0x0008), acc)
}

// TestAssembleRotatesToStartLabel assembles source whose "start" label is
// not the first thing in the .code section, and checks both that the
// rotated image begins executing at start's instructions and that the
// code written before start, wrapped to the tail of the image, is never
// executed.
func TestAssembleRotatesToStartLabel(t *testing.T) {
	src := `
.code
jmp over
pre:
  mov 0x0009, cx
  end
over:
start:
  mov 0x0005, ax
  mov 0x0003, bx
  add ax, bx
  end
`
	image, err := asm.Assemble(src)
	require.NoError(t, err)

	require.Equal(t, byte(vm.MovLitReg), image[0], "execution must begin at start's own instruction, not jmp over")

	cpu := runImage(t, image)
	acc, _ := cpu.Regs.Get(vm.ACC)
	require.Equal(t, uint16(0x0008), acc)
	cx, _ := cpu.Regs.Get(vm.CX)
	require.Equal(t, uint16(0x0000), cx, "pre's instructions are wrapped to the tail and never reached")
}

func TestAssembleDataSection(t *testing.T) {
	src := `
.code
start:
  mov [:nums], ax
  end
.data
nums: u8 1,2,3
greeting: u16 "Hi"
`
	image, err := asm.Assemble(src)
	require.NoError(t, err)
	require.Len(t, image, 12)

	require.Equal(t, byte(vm.MovLitReg), image[0])
	require.Equal(t, []byte{0x00, 0x05}, image[1:3], "nums lives right after the 5-byte code section")
	require.Equal(t, byte(vm.AX), image[3])
	require.Equal(t, byte(vm.End), image[4])

	require.Equal(t, []byte{1, 2, 3}, image[5:8])
	require.Equal(t, []byte{0x00, 0x48, 0x00, 0x69}, image[8:12], "string data is UTF-16BE encoded")
}

func TestAssembleWidthSuffixSelectsMem8Variant(t *testing.T) {
	src := `
.code
start:
  mov 0xAB, #0x3000:8
  end
`
	image, err := asm.Assemble(src)
	require.NoError(t, err)
	require.Equal(t, byte(vm.MovLitMem8), image[0])
}

func TestAssembleWidthSuffixDefaultsToSixteen(t *testing.T) {
	src := `
.code
start:
  mov 0xAB, #0x3000
  end
`
	image, err := asm.Assemble(src)
	require.NoError(t, err)
	require.Equal(t, byte(vm.MovLitMem16), image[0])
}

func TestAssembleBracketExpression(t *testing.T) {
	src := `
.code
start:
  mov [1 + 2 * 3], ax
  end
`
	image, err := asm.Assemble(src)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x07}, image[1:3])
}

func TestAssembleMissingStart(t *testing.T) {
	src := `
.code
begin:
  end
`
	_, err := asm.Assemble(src)
	require.ErrorIs(t, err, asm.ErrMissingStart)
}

func TestAssembleDuplicateLabel(t *testing.T) {
	src := `
.code
start:
  end
start:
  end
`
	_, err := asm.Assemble(src)
	require.Error(t, err)
	require.IsType(t, &asm.DuplicateLabel{}, err)
}

func TestAssembleUnknownMnemonic(t *testing.T) {
	src := `
.code
start:
  frobnicate ax
  end
`
	_, err := asm.Assemble(src)
	require.Error(t, err)
	require.IsType(t, &asm.UnknownMnemonic{}, err)
}

func TestAssembleUnknownType(t *testing.T) {
	src := `
.code
start:
  end
.data
foo: u32 1,2,3
`
	_, err := asm.Assemble(src)
	require.Error(t, err)
	require.IsType(t, &asm.UnknownType{}, err)
}

func TestAssembleUnresolvedLabel(t *testing.T) {
	src := `
.code
start:
  jmp nowhere
  end
`
	_, err := asm.Assemble(src)
	require.Error(t, err)
	require.IsType(t, &asm.UnresolvedLabel{}, err)
}

func TestAssembleUnknownVariable(t *testing.T) {
	src := `
.code
start:
  mov [:nope], ax
  end
`
	_, err := asm.Assemble(src)
	require.Error(t, err)
	require.IsType(t, &asm.UnknownVariable{}, err)
}
