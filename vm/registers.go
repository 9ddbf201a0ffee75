package vm

// RegIndex identifies one of the 20 well-known registers. Order fixes the
// numeric id, and is significant: fetch_reg() reduces a raw byte modulo
// NumRegisters to land inside this table.
type RegIndex uint8

const (
	IP RegIndex = iota
	ACC
	AX
	AH
	AL
	BX
	BH
	BL
	CX
	CH
	CL
	DX
	DH
	DL
	EX
	FX
	GX
	HX
	SP
	FP

	NumRegisters = int(FP) + 1
)

type regInfo struct {
	name string
	base uint16
	size uint8
}

// registerTable is the {id -> (base, size)} table the design notes call
// for: 8-bit halves alias their 16-bit parent's base rather than owning
// separate storage.
var registerTable = [NumRegisters]regInfo{
	IP:  {"IP", 0, 2},
	ACC: {"ACC", 2, 2},
	AX:  {"AX", 4, 2},
	AH:  {"AH", 4, 1},
	AL:  {"AL", 5, 1},
	BX:  {"BX", 6, 2},
	BH:  {"BH", 6, 1},
	BL:  {"BL", 7, 1},
	CX:  {"CX", 8, 2},
	CH:  {"CH", 8, 1},
	CL:  {"CL", 9, 1},
	DX:  {"DX", 10, 2},
	DH:  {"DH", 10, 1},
	DL:  {"DL", 11, 1},
	EX:  {"EX", 12, 2},
	FX:  {"FX", 14, 2},
	GX:  {"GX", 16, 2},
	HX:  {"HX", 18, 2},
	SP:  {"SP", 20, 2},
	FP:  {"FP", 22, 2},
}

// registerFileLen is the sum of all unique 16-bit parent widths.
const registerFileLen = 24

var registerByName = func() map[string]RegIndex {
	m := make(map[string]RegIndex, NumRegisters)
	for i, info := range registerTable {
		m[info.name] = RegIndex(i)
	}
	return m
}()

// callFrameRegs lists the general registers CALL saves (in push order) and
// RET restores (in reverse); IP is pushed separately after them. ACC, SP
// and FP are deliberately excluded: ACC is
// caller-saved implicitly via its role as the ALU's scratch destination, SP
// is the stack itself, and FP is overwritten by the frame protocol.
var callFrameRegs = [...]RegIndex{AX, BX, CX, DX, EX, FX, GX, HX}

// RegisterFile is a Memory of registerFileLen bytes addressed by RegIndex
// rather than raw offsets.
type RegisterFile struct {
	mem *Memory
}

func NewRegisterFile() *RegisterFile {
	return &RegisterFile{mem: NewMemory(registerFileLen)}
}

// ByName resolves a register name to its index, for use by the assembler
// and by tests.
func ByName(name string) (RegIndex, bool) {
	idx, ok := registerByName[name]
	return idx, ok
}

func (rf *RegisterFile) info(reg RegIndex) (regInfo, error) {
	if int(reg) >= NumRegisters {
		return regInfo{}, &NoRegister{Name: "?"}
	}
	info := registerTable[reg]
	if info.size != 1 && info.size != 2 {
		return regInfo{}, &BadRegisterLen{Size: int(info.size)}
	}
	return info, nil
}

// Size reports the register's width in bytes (1 or 2).
func (rf *RegisterFile) Size(reg RegIndex) (uint8, error) {
	info, err := rf.info(reg)
	if err != nil {
		return 0, err
	}
	return info.size, nil
}

// Get reads a register, zero-extending 8-bit halves to 16 bits.
func (rf *RegisterFile) Get(reg RegIndex) (uint16, error) {
	info, err := rf.info(reg)
	if err != nil {
		return 0, err
	}
	if info.size == 1 {
		b, err := rf.mem.ReadU8(info.base)
		if err != nil {
			return 0, err
		}
		return uint16(b), nil
	}
	return rf.mem.ReadU16(info.base)
}

// Set writes a register. For 1-byte registers only the low 8 bits of v are
// stored; that changes only the matching byte of the 16-bit parent, and
// the sibling half is unaffected since halves alias distinct bytes of the
// same word.
func (rf *RegisterFile) Set(reg RegIndex, v uint16) error {
	info, err := rf.info(reg)
	if err != nil {
		return err
	}
	if info.size == 1 {
		return rf.mem.WriteU8(info.base, uint8(v))
	}
	return rf.mem.WriteU16(info.base, v)
}

// Name returns the canonical register name, or "" for an out-of-range
// index.
func (rf *RegisterFile) Name(reg RegIndex) string {
	if int(reg) >= NumRegisters {
		return ""
	}
	return registerTable[reg].name
}
