package vm

import "fmt"

// Memory-level errors (§7.1).

// OutOfBounds reports an access past the end of a Device's addressable
// length.
type OutOfBounds struct {
	Address int
}

func (e *OutOfBounds) Error() string {
	return fmt.Sprintf("address 0x%04X out of bounds", e.Address)
}

// UnaddressableRegion reports a MemoryMap.AddDevice call whose region would
// extend past the top of the 16-bit address space.
type UnaddressableRegion struct {
	End int
}

func (e *UnaddressableRegion) Error() string {
	return fmt.Sprintf("region end 0x%X exceeds address space", e.End)
}

// BadRegisterLen reports a RegisterFile entry whose declared size is
// neither 1 nor 2 bytes. This can only happen from a programming error in
// the register table itself, never from user-supplied bytecode.
type BadRegisterLen struct {
	Size int
}

func (e *BadRegisterLen) Error() string {
	return fmt.Sprintf("bad register size %d", e.Size)
}

// NoRegister reports lookup of an unknown register identifier.
type NoRegister struct {
	Name string
}

func (e *NoRegister) Error() string {
	return fmt.Sprintf("no such register: %s", e.Name)
}

// Execution-level errors (§7.2).

// InternalMemoryError wraps a Memory/MemoryMap failure surfaced through the
// CPU.
type InternalMemoryError struct {
	Inner error
}

func (e *InternalMemoryError) Error() string {
	return fmt.Sprintf("internal memory error: %s", e.Inner)
}

func (e *InternalMemoryError) Unwrap() error { return e.Inner }

// UnexpectedInstruction reports an opcode byte with no entry in the
// instruction table.
type UnexpectedInstruction struct {
	Opcode byte
}

func (e *UnexpectedInstruction) Error() string {
	return fmt.Sprintf("unexpected instruction 0x%02X", e.Opcode)
}

// ErrBadRegisterPtrLen is returned when an 8-bit register is used where a
// 16-bit pointer register is required (MOV_PTRREG_REG, MOV_REG_PTRREG,
// MOV_LITOFF_REG, CALL_REG, PSH/POP _PTRREG*).
var ErrBadRegisterPtrLen = fmt.Errorf("register must be 16-bit to be used as a pointer")

// ErrBadReturn is returned by RET when there is no live call frame to
// return from (more RETs have run than CALLs). It is raised before SP or
// FP is touched.
var ErrBadReturn = fmt.Errorf("return with no live call frame")

// ErrEndOfExecution is the normal termination signal raised by END. The
// driver treats it as success, not failure.
var ErrEndOfExecution = fmt.Errorf("end of execution")
