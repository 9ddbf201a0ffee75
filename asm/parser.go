package asm

import (
	"strconv"
	"strings"

	"rvm16/vm"
)

// operandClass is the syntactic shape of a parsed operand, independent of
// its resolved value. Mnemonic-to-opcode resolution is driven entirely by
// the sequence of operandClass values a line produces.
type operandClass int

const (
	classValue operandClass = iota // bare literal, bracketed expression, or label
	classReg
	classMem    // #expr
	classPtrReg // *reg
)

type rawOperand struct {
	class operandClass
	expr  string // for classValue/classMem: text to evaluate
	reg   vm.RegIndex
	width int // 8 or 16, for classMem/classPtrReg; meaningless otherwise
}

type rawInstruction struct {
	line     int
	mnemonic string
	operands []rawOperand
	offset   int // byte offset within the (pre-rotation) code section
	opcode   vm.Opcode
}

type dataVar struct {
	line   int
	name   string
	isStr  bool
	width  int // 1 or 2, for the non-string case
	values []uint16
	str    string
	offset int // byte offset within the data section
	length int // byte length
}

// stripComment removes a ";"-introduced comment and trims whitespace.
func stripComment(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

func splitOperands(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

// parseOperand classifies one operand token. Register names are resolved
// immediately since that never depends on anything not yet known; literal
// and memory expressions are kept as text and evaluated once labels and
// data variables are fully known (see encodeInstruction in assemble.go).
func parseOperand(text string) (rawOperand, error) {
	switch {
	case strings.HasPrefix(text, "*"):
		name, width := splitWidthSuffix(text[1:])
		reg, ok := vm.ByName(strings.ToUpper(strings.TrimSpace(name)))
		if !ok {
			return rawOperand{}, &ParseError{Reason: "unknown register: " + name}
		}
		return rawOperand{class: classPtrReg, reg: reg, width: width}, nil

	case strings.HasPrefix(text, "#"):
		expr, width := splitWidthSuffix(text[1:])
		return rawOperand{class: classMem, expr: stripBrackets(expr), width: width}, nil

	default:
		if reg, ok := vm.ByName(strings.ToUpper(text)); ok {
			return rawOperand{class: classReg, reg: reg}, nil
		}
		return rawOperand{class: classValue, expr: stripBrackets(text)}, nil
	}
}

// splitWidthSuffix splits a trailing ":8" or ":16" size annotation off a
// memory or pointer-register operand, defaulting to 16 when absent. This
// is the assembler's own convention for disambiguating the MEM8/MEM16 and
// PTRREG8/PTRREG16 opcode pairs, which are indistinguishable from operand
// shape alone.
func splitWidthSuffix(s string) (string, int) {
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		if w, err := strconv.Atoi(strings.TrimSpace(s[i+1:])); err == nil && (w == 8 || w == 16) {
			return strings.TrimSpace(s[:i]), w
		}
	}
	return strings.TrimSpace(s), 16
}

func stripBrackets(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func classesOf(ops []rawOperand) []operandClass {
	out := make([]operandClass, len(ops))
	for i, o := range ops {
		out[i] = o.class
	}
	return out
}

// resolveOpcode picks the canonical opcode variant for a source mnemonic
// given the syntactic shape of its operands, per the table in §4.6 and the
// surface grammar of §6.
func resolveOpcode(mnemonic string, ops []rawOperand) (vm.Opcode, error) {
	c := classesOf(ops)
	eq := func(want ...operandClass) bool {
		if len(want) != len(c) {
			return false
		}
		for i := range want {
			if want[i] != c[i] {
				return false
			}
		}
		return true
	}
	memWidth := func(i int) int {
		if i < len(ops) {
			return ops[i].width
		}
		return 16
	}

	switch mnemonic {
	case "mov":
		switch {
		case eq(classValue, classPtrReg, classReg):
			return vm.MovLitOffReg, nil
		case eq(classValue, classReg):
			return vm.MovLitReg, nil
		case eq(classValue, classMem):
			if memWidth(1) == 8 {
				return vm.MovLitMem8, nil
			}
			return vm.MovLitMem16, nil
		case eq(classReg, classReg):
			return vm.MovRegReg, nil
		case eq(classReg, classMem):
			return vm.MovRegMem, nil
		case eq(classMem, classReg):
			return vm.MovMemReg, nil
		case eq(classPtrReg, classReg):
			return vm.MovPtrRegReg, nil
		case eq(classReg, classPtrReg):
			return vm.MovRegPtrReg, nil
		}
	case "add":
		switch {
		case eq(classReg, classReg):
			return vm.AddRegReg, nil
		case eq(classReg, classValue):
			return vm.AddRegLit, nil
		}
	case "sub":
		switch {
		case eq(classReg, classReg):
			return vm.SubRegReg, nil
		case eq(classReg, classValue):
			return vm.SubRegLit, nil
		case eq(classValue, classReg):
			return vm.SubLitReg, nil
		}
	case "mul":
		switch {
		case eq(classReg, classReg):
			return vm.MulRegReg, nil
		case eq(classReg, classValue):
			return vm.MulRegLit, nil
		}
	case "cmp":
		switch {
		case eq(classReg, classReg):
			return vm.CmpRegReg, nil
		case eq(classReg, classValue):
			return vm.CmpRegLit, nil
		}
	case "inc":
		if eq(classReg) {
			return vm.IncReg, nil
		}
	case "dec":
		if eq(classReg) {
			return vm.DecReg, nil
		}
	case "jmp", "jeq", "jne", "jgt", "jge", "jlt", "jle":
		litOp, regOp := jumpOpcodes(mnemonic)
		switch {
		case eq(classValue):
			return litOp, nil
		case eq(classReg):
			return regOp, nil
		}
	case "psh":
		switch {
		case eq(classValue):
			return vm.PshLit, nil
		case eq(classReg):
			return vm.PshReg, nil
		case eq(classMem):
			if memWidth(0) == 8 {
				return vm.PshMem8, nil
			}
			return vm.PshMem16, nil
		case eq(classPtrReg):
			if memWidth(0) == 8 {
				return vm.PshPtrReg8, nil
			}
			return vm.PshPtrReg16, nil
		}
	case "pop":
		switch {
		case eq(classReg):
			return vm.PopReg, nil
		case eq(classMem):
			if memWidth(0) == 8 {
				return vm.PopMem8, nil
			}
			return vm.PopMem16, nil
		case eq(classPtrReg):
			if memWidth(0) == 8 {
				return vm.PopPtrReg8, nil
			}
			return vm.PopPtrReg16, nil
		}
	case "cal", "call":
		switch {
		case eq(classValue):
			return vm.CallLit, nil
		case eq(classReg):
			return vm.CallReg, nil
		}
	case "ret":
		if eq() {
			return vm.Ret, nil
		}
	case "lsf":
		return regOrLitOpcode(c, vm.LsfRegReg, vm.LsfRegLit)
	case "rsf":
		return regOrLitOpcode(c, vm.RsfRegReg, vm.RsfRegLit)
	case "and":
		return regOrLitOpcode(c, vm.AndRegReg, vm.AndRegLit)
	case "or":
		return regOrLitOpcode(c, vm.OrRegReg, vm.OrRegLit)
	case "xor":
		return regOrLitOpcode(c, vm.XorRegReg, vm.XorRegLit)
	case "not":
		if eq(classReg) {
			return vm.NotReg, nil
		}
	case "end":
		if eq() {
			return vm.End, nil
		}
	}
	return 0, nil
}

func regOrLitOpcode(c []operandClass, regVariant, litVariant vm.Opcode) (vm.Opcode, error) {
	if len(c) == 2 && c[0] == classReg && c[1] == classReg {
		return regVariant, nil
	}
	if len(c) == 2 && c[0] == classReg && c[1] == classValue {
		return litVariant, nil
	}
	return 0, nil
}

func jumpOpcodes(mnemonic string) (lit, reg vm.Opcode) {
	switch mnemonic {
	case "jmp":
		return vm.JmpLit, vm.JmpReg
	case "jeq":
		return vm.JeqLit, vm.JeqReg
	case "jne":
		return vm.JneLit, vm.JneReg
	case "jgt":
		return vm.JgtLit, vm.JgtReg
	case "jge":
		return vm.JgeLit, vm.JgeReg
	case "jlt":
		return vm.JltLit, vm.JltReg
	case "jle":
		return vm.JleLit, vm.JleReg
	}
	return 0, 0
}
