package vm

import "fmt"

// Flags byte bits (§3).
const (
	FlagZero  uint8 = 1 << 0
	FlagNeg   uint8 = 1 << 1
	FlagCarry uint8 = 1 << 2
)

const initialStackPointer uint16 = 0xFFFE

// screenBase is the canonical attach point for a memory-mapped Screen,
// §6 "Memory-mapped devices".
const screenBase uint16 = 0x3000

// CPU owns a RegisterFile and a MemoryMap and runs the fetch/decode/
// dispatch loop described in §4.6. It holds no other state than the
// flags byte, the running stack_frame_size counter and the count of live
// CALL frames (callDepth, checked by RET); there is no
// cyclic ownership and nothing outside the CPU mutates the RegisterFile
// or MemoryMap.
type CPU struct {
	Regs *RegisterFile
	Mem  *MemoryMap

	flags          uint8
	stackFrameSize uint16
	callDepth      int
}

// NewCPU wires a fresh RegisterFile to mem and sets SP = FP = 0xFFFE per
// §3. IP starts at 0, where the program loader places the image.
func NewCPU(mem *MemoryMap) *CPU {
	c := &CPU{Regs: NewRegisterFile(), Mem: mem}
	_ = c.Regs.Set(SP, initialStackPointer)
	_ = c.Regs.Set(FP, initialStackPointer)
	return c
}

// Load copies image into RAM starting at address 0 and resets IP to 0.
func (c *CPU) Load(image []byte) error {
	for i, b := range image {
		if err := c.Mem.WriteU8(uint16(i), b); err != nil {
			return &InternalMemoryError{Inner: err}
		}
	}
	return c.Regs.Set(IP, 0)
}

// AttachScreen registers a Screen device at the canonical base address.
func (c *CPU) AttachScreen(s *Screen) error {
	return c.Mem.AddDevice(s, screenBase)
}

func (c *CPU) fetchU8() (uint8, error) {
	ip, _ := c.Regs.Get(IP)
	b, err := c.Mem.ReadU8(ip)
	if err != nil {
		return 0, &InternalMemoryError{Inner: err}
	}
	_ = c.Regs.Set(IP, ip+1)
	return b, nil
}

func (c *CPU) fetchU16() (uint16, error) {
	ip, _ := c.Regs.Get(IP)
	v, err := c.Mem.ReadU16(ip)
	if err != nil {
		return 0, &InternalMemoryError{Inner: err}
	}
	_ = c.Regs.Set(IP, ip+2)
	return v, nil
}

func (c *CPU) fetchReg() (RegIndex, error) {
	b, err := c.fetchU8()
	if err != nil {
		return 0, err
	}
	return RegIndex(int(b) % NumRegisters), nil
}

func (c *CPU) requirePtr(reg RegIndex) error {
	size, err := c.Regs.Size(reg)
	if err != nil {
		return &InternalMemoryError{Inner: err}
	}
	if size != 2 {
		return ErrBadRegisterPtrLen
	}
	return nil
}

// setFlags derives ZERO and NEG from value at the given width in bytes (1
// for 8-bit, 2 for 16-bit) and sets CARRY from carry. This is the width-correct rule: NEG tests bit
// 7 for 8-bit results and bit 15 for 16-bit results, never a fixed 16-bit
// comparison (§9, open question 1).
func (c *CPU) setFlags(value uint32, width uint8, carry bool) {
	var mask, signBit uint32
	if width == 1 {
		mask, signBit = 0xFF, 0x80
	} else {
		mask, signBit = 0xFFFF, 0x8000
	}
	v := value & mask
	c.flags = 0
	if v == 0 {
		c.flags |= FlagZero
	}
	if v&signBit != 0 {
		c.flags |= FlagNeg
	}
	if carry {
		c.flags |= FlagCarry
	}
}

func (c *CPU) push16(v uint16) error {
	sp, _ := c.Regs.Get(SP)
	if err := c.Mem.WriteU16(sp, v); err != nil {
		return &InternalMemoryError{Inner: err}
	}
	_ = c.Regs.Set(SP, sp-2)
	c.stackFrameSize += 2
	return nil
}

func (c *CPU) pop16() (uint16, error) {
	sp, _ := c.Regs.Get(SP)
	sp += 2
	v, err := c.Mem.ReadU16(sp)
	if err != nil {
		return 0, &InternalMemoryError{Inner: err}
	}
	_ = c.Regs.Set(SP, sp)
	if c.stackFrameSize >= 2 {
		c.stackFrameSize -= 2
	} else {
		c.stackFrameSize = 0
	}
	return v, nil
}

// call implements the CALL protocol of §4.6: save the eight general
// 16-bit registers and IP, save the running frame size, then transfer
// control.
func (c *CPU) call(target uint16) error {
	for _, r := range callFrameRegs {
		v, _ := c.Regs.Get(r)
		if err := c.push16(v); err != nil {
			return err
		}
	}
	ip, _ := c.Regs.Get(IP)
	if err := c.push16(ip); err != nil {
		return err
	}
	if err := c.push16(c.stackFrameSize + 2); err != nil {
		return err
	}

	sp, _ := c.Regs.Get(SP)
	_ = c.Regs.Set(FP, sp)
	c.stackFrameSize = 0
	c.callDepth++
	return c.Regs.Set(IP, target)
}

// ret implements RET (§4.6): restore SP from FP, pop the saved frame
// size into FP, then pop IP and the eight general registers in reverse
// push order.
func (c *CPU) ret() error {
	if c.callDepth == 0 {
		return ErrBadReturn
	}

	fp, _ := c.Regs.Get(FP)
	_ = c.Regs.Set(SP, fp)
	c.stackFrameSize = 2

	savedFrameSize, err := c.pop16()
	if err != nil {
		return err
	}
	_ = c.Regs.Set(FP, savedFrameSize)
	c.stackFrameSize = savedFrameSize

	ip, err := c.pop16()
	if err != nil {
		return err
	}
	_ = c.Regs.Set(IP, ip)

	for i := len(callFrameRegs) - 1; i >= 0; i-- {
		v, err := c.pop16()
		if err != nil {
			return err
		}
		_ = c.Regs.Set(callFrameRegs[i], v)
	}

	c.callDepth--
	return nil
}

// Step fetches and executes one instruction. It returns nil to continue,
// ErrEndOfExecution on END (a normal termination signal, not a failure),
// or any other error the driver should halt and report.
func (c *CPU) Step() error {
	opByte, err := c.fetchU8()
	if err != nil {
		return err
	}
	op := Opcode(opByte)

	switch op {
	case MovLitReg:
		lit, err := c.fetchU16()
		if err != nil {
			return err
		}
		reg, err := c.fetchReg()
		if err != nil {
			return err
		}
		if err := c.Regs.Set(reg, lit); err != nil {
			return &InternalMemoryError{Inner: err}
		}
		size, _ := c.Regs.Size(reg)
		c.setFlags(uint32(lit), size, false)

	case MovLitMem8:
		lit, err := c.fetchU16()
		if err != nil {
			return err
		}
		addr, err := c.fetchU16()
		if err != nil {
			return err
		}
		if err := c.Mem.WriteU8(addr, uint8(lit)); err != nil {
			return &InternalMemoryError{Inner: err}
		}
		c.setFlags(uint32(uint8(lit)), 1, false)

	case MovLitMem16:
		lit, err := c.fetchU16()
		if err != nil {
			return err
		}
		addr, err := c.fetchU16()
		if err != nil {
			return err
		}
		if err := c.Mem.WriteU16(addr, lit); err != nil {
			return &InternalMemoryError{Inner: err}
		}
		c.setFlags(uint32(lit), 2, false)

	case MovRegReg:
		r1, err := c.fetchReg()
		if err != nil {
			return err
		}
		r2, err := c.fetchReg()
		if err != nil {
			return err
		}
		v, _ := c.Regs.Get(r1)
		if err := c.Regs.Set(r2, v); err != nil {
			return &InternalMemoryError{Inner: err}
		}
		size, _ := c.Regs.Size(r2)
		c.setFlags(uint32(v), size, false)

	case MovRegMem:
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		addr, err := c.fetchU16()
		if err != nil {
			return err
		}
		v, _ := c.Regs.Get(r)
		size, _ := c.Regs.Size(r)
		if size == 1 {
			err = c.Mem.WriteU8(addr, uint8(v))
		} else {
			err = c.Mem.WriteU16(addr, v)
		}
		if err != nil {
			return &InternalMemoryError{Inner: err}
		}
		c.setFlags(uint32(v), size, false)

	case MovMemReg:
		addr, err := c.fetchU16()
		if err != nil {
			return err
		}
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		size, _ := c.Regs.Size(r)
		var v uint16
		if size == 1 {
			b, err := c.Mem.ReadU8(addr)
			if err != nil {
				return &InternalMemoryError{Inner: err}
			}
			v = uint16(b)
		} else {
			v, err = c.Mem.ReadU16(addr)
			if err != nil {
				return &InternalMemoryError{Inner: err}
			}
		}
		if err := c.Regs.Set(r, v); err != nil {
			return &InternalMemoryError{Inner: err}
		}
		c.setFlags(uint32(v), size, false)

	case MovPtrRegReg:
		r1, err := c.fetchReg()
		if err != nil {
			return err
		}
		r2, err := c.fetchReg()
		if err != nil {
			return err
		}
		if err := c.requirePtr(r1); err != nil {
			return err
		}
		ptr, _ := c.Regs.Get(r1)
		size, _ := c.Regs.Size(r2)
		var v uint16
		if size == 1 {
			b, err := c.Mem.ReadU8(ptr)
			if err != nil {
				return &InternalMemoryError{Inner: err}
			}
			v = uint16(b)
		} else {
			v, err = c.Mem.ReadU16(ptr)
			if err != nil {
				return &InternalMemoryError{Inner: err}
			}
		}
		if err := c.Regs.Set(r2, v); err != nil {
			return &InternalMemoryError{Inner: err}
		}
		c.setFlags(uint32(v), size, false)

	case MovRegPtrReg:
		r1, err := c.fetchReg()
		if err != nil {
			return err
		}
		r2, err := c.fetchReg()
		if err != nil {
			return err
		}
		if err := c.requirePtr(r2); err != nil {
			return err
		}
		ptr, _ := c.Regs.Get(r2)
		v, _ := c.Regs.Get(r1)
		size, _ := c.Regs.Size(r1)
		var werr error
		if size == 1 {
			werr = c.Mem.WriteU8(ptr, uint8(v))
		} else {
			werr = c.Mem.WriteU16(ptr, v)
		}
		if werr != nil {
			return &InternalMemoryError{Inner: werr}
		}
		c.setFlags(uint32(v), size, false)

	case MovLitOffReg:
		lit, err := c.fetchU16()
		if err != nil {
			return err
		}
		r1, err := c.fetchReg()
		if err != nil {
			return err
		}
		r2, err := c.fetchReg()
		if err != nil {
			return err
		}
		if err := c.requirePtr(r1); err != nil {
			return err
		}
		off, _ := c.Regs.Get(r1)
		v, err := c.Mem.ReadU16(lit + off)
		if err != nil {
			return &InternalMemoryError{Inner: err}
		}
		if err := c.Regs.Set(r2, v); err != nil {
			return &InternalMemoryError{Inner: err}
		}
		size, _ := c.Regs.Size(r2)
		c.setFlags(uint32(v), size, false)

	case AddRegReg:
		r1, r2, err := c.fetch2Reg()
		if err != nil {
			return err
		}
		v1, _ := c.Regs.Get(r1)
		v2, _ := c.Regs.Get(r2)
		sum := uint32(v1) + uint32(v2)
		_ = c.Regs.Set(ACC, uint16(sum))
		c.setFlags(sum, 2, sum > 0xFFFF)

	case AddRegLit:
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		lit, err := c.fetchU16()
		if err != nil {
			return err
		}
		v, _ := c.Regs.Get(r)
		sum := uint32(v) + uint32(lit)
		_ = c.Regs.Set(ACC, uint16(sum))
		c.setFlags(sum, 2, sum > 0xFFFF)

	case SubRegLit:
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		lit, err := c.fetchU16()
		if err != nil {
			return err
		}
		v, _ := c.Regs.Get(r)
		diff := int32(lit) - int32(v)
		_ = c.Regs.Set(ACC, uint16(diff))
		c.setFlags(uint32(uint16(diff)), 2, diff < 0)

	case SubLitReg:
		lit, err := c.fetchU16()
		if err != nil {
			return err
		}
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		v, _ := c.Regs.Get(r)
		diff := int32(v) - int32(lit)
		_ = c.Regs.Set(ACC, uint16(diff))
		c.setFlags(uint32(uint16(diff)), 2, diff < 0)

	case SubRegReg:
		r1, r2, err := c.fetch2Reg()
		if err != nil {
			return err
		}
		v1, _ := c.Regs.Get(r1)
		v2, _ := c.Regs.Get(r2)
		diff := int32(v2) - int32(v1)
		_ = c.Regs.Set(ACC, uint16(diff))
		c.setFlags(uint32(uint16(diff)), 2, diff < 0)

	case MulRegReg:
		r1, r2, err := c.fetch2Reg()
		if err != nil {
			return err
		}
		v1, _ := c.Regs.Get(r1)
		v2, _ := c.Regs.Get(r2)
		prod := uint32(v1) * uint32(v2)
		_ = c.Regs.Set(ACC, uint16(prod))
		c.setFlags(prod, 2, prod > 0xFFFF)

	case MulRegLit:
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		lit, err := c.fetchU16()
		if err != nil {
			return err
		}
		v, _ := c.Regs.Get(r)
		prod := uint32(v) * uint32(lit)
		_ = c.Regs.Set(ACC, uint16(prod))
		c.setFlags(prod, 2, prod > 0xFFFF)

	case CmpRegReg:
		r1, r2, err := c.fetch2Reg()
		if err != nil {
			return err
		}
		v1, _ := c.Regs.Get(r1)
		v2, _ := c.Regs.Get(r2)
		diff := int32(v1) - int32(v2)
		c.setFlags(uint32(uint16(diff)), 2, diff < 0)

	case CmpRegLit:
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		lit, err := c.fetchU16()
		if err != nil {
			return err
		}
		v, _ := c.Regs.Get(r)
		diff := int32(v) - int32(lit)
		c.setFlags(uint32(uint16(diff)), 2, diff < 0)

	case IncReg:
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		size, _ := c.Regs.Size(r)
		v, _ := c.Regs.Get(r)
		sum := uint32(v) + 1
		limit := uint32(0xFFFF)
		if size == 1 {
			limit = 0xFF
		}
		_ = c.Regs.Set(r, uint16(sum))
		c.setFlags(sum, size, sum > limit)

	case DecReg:
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		size, _ := c.Regs.Size(r)
		v, _ := c.Regs.Get(r)
		diff := int32(v) - 1
		_ = c.Regs.Set(r, uint16(diff))
		c.setFlags(uint32(uint16(diff)), size, diff < 0)

	case JmpLit:
		target, err := c.fetchU16()
		if err != nil {
			return err
		}
		_ = c.Regs.Set(IP, target)

	case JmpReg:
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		target, _ := c.Regs.Get(r)
		_ = c.Regs.Set(IP, target)

	case JeqLit, JneLit, JgtLit, JgeLit, JltLit, JleLit:
		target, err := c.fetchU16()
		if err != nil {
			return err
		}
		if c.jumpPredicate(op) {
			_ = c.Regs.Set(IP, target)
		}

	case JeqReg, JneReg, JgtReg, JgeReg, JltReg, JleReg:
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		target, _ := c.Regs.Get(r)
		if c.jumpPredicate(op) {
			_ = c.Regs.Set(IP, target)
		}

	case PshLit:
		lit, err := c.fetchU16()
		if err != nil {
			return err
		}
		if err := c.push16(lit); err != nil {
			return err
		}
		c.setFlags(uint32(lit), 2, false)

	case PshReg:
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		v, _ := c.Regs.Get(r)
		if err := c.push16(v); err != nil {
			return err
		}
		c.setFlags(uint32(v), 2, false)

	case PshMem8:
		addr, err := c.fetchU16()
		if err != nil {
			return err
		}
		b, err := c.Mem.ReadU8(addr)
		if err != nil {
			return &InternalMemoryError{Inner: err}
		}
		if err := c.push16(uint16(b)); err != nil {
			return err
		}
		c.setFlags(uint32(b), 2, false)

	case PshMem16:
		addr, err := c.fetchU16()
		if err != nil {
			return err
		}
		v, err := c.Mem.ReadU16(addr)
		if err != nil {
			return &InternalMemoryError{Inner: err}
		}
		if err := c.push16(v); err != nil {
			return err
		}
		c.setFlags(uint32(v), 2, false)

	case PshPtrReg8:
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		if err := c.requirePtr(r); err != nil {
			return err
		}
		ptr, _ := c.Regs.Get(r)
		b, err := c.Mem.ReadU8(ptr)
		if err != nil {
			return &InternalMemoryError{Inner: err}
		}
		if err := c.push16(uint16(b)); err != nil {
			return err
		}
		c.setFlags(uint32(b), 2, false)

	case PshPtrReg16:
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		if err := c.requirePtr(r); err != nil {
			return err
		}
		ptr, _ := c.Regs.Get(r)
		v, err := c.Mem.ReadU16(ptr)
		if err != nil {
			return &InternalMemoryError{Inner: err}
		}
		if err := c.push16(v); err != nil {
			return err
		}
		c.setFlags(uint32(v), 2, false)

	case PopReg:
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		v, err := c.pop16()
		if err != nil {
			return err
		}
		if err := c.Regs.Set(r, v); err != nil {
			return &InternalMemoryError{Inner: err}
		}
		size, _ := c.Regs.Size(r)
		c.setFlags(uint32(v), size, false)

	case PopMem8:
		addr, err := c.fetchU16()
		if err != nil {
			return err
		}
		v, err := c.pop16()
		if err != nil {
			return err
		}
		if err := c.Mem.WriteU8(addr, uint8(v)); err != nil {
			return &InternalMemoryError{Inner: err}
		}
		c.setFlags(uint32(uint8(v)), 1, false)

	case PopMem16:
		addr, err := c.fetchU16()
		if err != nil {
			return err
		}
		v, err := c.pop16()
		if err != nil {
			return err
		}
		if err := c.Mem.WriteU16(addr, v); err != nil {
			return &InternalMemoryError{Inner: err}
		}
		c.setFlags(uint32(v), 2, false)

	case PopPtrReg8:
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		if err := c.requirePtr(r); err != nil {
			return err
		}
		ptr, _ := c.Regs.Get(r)
		v, err := c.pop16()
		if err != nil {
			return err
		}
		if err := c.Mem.WriteU8(ptr, uint8(v)); err != nil {
			return &InternalMemoryError{Inner: err}
		}
		c.setFlags(uint32(uint8(v)), 1, false)

	case PopPtrReg16:
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		if err := c.requirePtr(r); err != nil {
			return err
		}
		ptr, _ := c.Regs.Get(r)
		v, err := c.pop16()
		if err != nil {
			return err
		}
		if err := c.Mem.WriteU16(ptr, v); err != nil {
			return &InternalMemoryError{Inner: err}
		}
		c.setFlags(uint32(v), 2, false)

	case CallLit:
		target, err := c.fetchU16()
		if err != nil {
			return err
		}
		return c.call(target)

	case CallReg:
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		if err := c.requirePtr(r); err != nil {
			return err
		}
		target, _ := c.Regs.Get(r)
		return c.call(target)

	case Ret:
		return c.ret()

	case LsfRegReg, RsfRegReg, AndRegReg, OrRegReg, XorRegReg:
		r1, r2, err := c.fetch2Reg()
		if err != nil {
			return err
		}
		lhs, _ := c.Regs.Get(r1)
		rhs, _ := c.Regs.Get(r2)
		size, _ := c.Regs.Size(r1)
		result := binaryOp(op, uint32(lhs), uint32(rhs))
		_ = c.Regs.Set(r1, uint16(result))
		c.setFlags(result, size, false)

	case LsfRegLit, RsfRegLit, AndRegLit, OrRegLit, XorRegLit:
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		lit, err := c.fetchU16()
		if err != nil {
			return err
		}
		lhs, _ := c.Regs.Get(r)
		size, _ := c.Regs.Size(r)
		result := binaryOp(op, uint32(lhs), uint32(lit))
		_ = c.Regs.Set(r, uint16(result))
		c.setFlags(result, size, false)

	case NotReg:
		r, err := c.fetchReg()
		if err != nil {
			return err
		}
		size, _ := c.Regs.Size(r)
		v, _ := c.Regs.Get(r)
		result := ^uint32(v)
		_ = c.Regs.Set(r, uint16(result))
		c.setFlags(result, size, false)

	case End:
		return ErrEndOfExecution

	default:
		return &UnexpectedInstruction{Opcode: opByte}
	}

	return nil
}

func (c *CPU) fetch2Reg() (RegIndex, RegIndex, error) {
	r1, err := c.fetchReg()
	if err != nil {
		return 0, 0, err
	}
	r2, err := c.fetchReg()
	if err != nil {
		return 0, 0, err
	}
	return r1, r2, nil
}

func (c *CPU) jumpPredicate(op Opcode) bool {
	zero := c.flags&FlagZero != 0
	neg := c.flags&FlagNeg != 0
	switch op {
	case JeqLit, JeqReg:
		return zero
	case JneLit, JneReg:
		return !zero
	case JgtLit, JgtReg:
		return !zero && !neg
	case JgeLit, JgeReg:
		return !neg
	case JltLit, JltReg:
		return !zero && neg
	case JleLit, JleReg:
		return neg
	default:
		return false
	}
}

func binaryOp(op Opcode, lhs, rhs uint32) uint32 {
	switch op {
	case LsfRegReg, LsfRegLit:
		return lhs << (rhs & 0xF)
	case RsfRegReg, RsfRegLit:
		return lhs >> (rhs & 0xF)
	case AndRegReg, AndRegLit:
		return lhs & rhs
	case OrRegReg, OrRegLit:
		return lhs | rhs
	case XorRegReg, XorRegLit:
		return lhs ^ rhs
	default:
		panic(fmt.Sprintf("binaryOp: unhandled opcode %s", op))
	}
}
