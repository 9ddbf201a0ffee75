package asm

import (
	"strconv"
	"strings"
	"unicode/utf16"

	"rvm16/vm"
)

const startLabel = "start"

// Assemble turns line-oriented source text into a bytecode image the vm
// package's CPU can load and run: a .code section of instructions (rotated
// so execution begins at the "start" label) followed immediately by the
// .data section's variables.
func Assemble(source string) ([]byte, error) {
	image, _, err := AssembleWithSymbols(source)
	return image, err
}

// AssembleWithSymbols does the same work as Assemble but also returns the
// resolved address of every .data variable, keyed by name, for callers that
// want to report where a variable landed without re-parsing the source.
func AssembleWithSymbols(source string) ([]byte, map[string]uint16, error) {
	var instrs []rawInstruction
	labels := make(map[string]int)
	var dataDecls []dataVar
	codeOffset := 0

	section := ""
	for lineNo, raw := range strings.Split(source, "\n") {
		line := stripComment(raw)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ".") {
			switch strings.ToLower(line) {
			case ".code":
				section = "code"
			case ".data":
				section = "data"
			default:
				return nil, nil, &ParseError{Line: lineNo + 1, Reason: "unknown section " + line}
			}
			continue
		}

		switch section {
		case "code":
			if strings.HasSuffix(line, ":") && !strings.Contains(line, " ") {
				name := strings.TrimSuffix(line, ":")
				if _, exists := labels[name]; exists {
					return nil, nil, &DuplicateLabel{Name: name, Line: lineNo + 1}
				}
				labels[name] = codeOffset
				continue
			}

			instr, err := parseInstructionLine(line, lineNo+1)
			if err != nil {
				return nil, nil, err
			}
			instr.offset = codeOffset
			codeOffset += instr.opcode.EncodedLen()
			instrs = append(instrs, instr)

		case "data":
			dv, err := parseDataLine(line, lineNo+1)
			if err != nil {
				return nil, nil, err
			}
			dataDecls = append(dataDecls, dv)

		default:
			return nil, nil, &ParseError{Line: lineNo + 1, Reason: "instruction outside any section"}
		}
	}

	startOffset, ok := labels[startLabel]
	if !ok {
		return nil, nil, ErrMissingStart
	}
	codeLen := codeOffset

	rotate := func(off int) uint16 {
		return uint16((off - startOffset + codeLen) % codeLen)
	}

	dataBase := codeLen
	dataOffset := 0
	dataAddr := make(map[string]uint16, len(dataDecls))
	for i := range dataDecls {
		dataDecls[i].offset = dataOffset
		dataAddr[dataDecls[i].name] = uint16(dataBase + dataOffset)
		dataOffset += dataDecls[i].length
	}

	res := resolver{
		label: func(name string) (uint16, bool) {
			off, ok := labels[name]
			if !ok {
				return 0, false
			}
			return rotate(off), true
		},
		vari: func(name string) (uint16, bool) {
			addr, ok := dataAddr[name]
			return addr, ok
		},
	}

	image := make([]byte, codeLen+dataOffset)
	for _, instr := range instrs {
		pos := rotate(instr.offset)
		if err := encodeInstruction(image, pos, instr, res); err != nil {
			return nil, nil, err
		}
	}
	for _, dv := range dataDecls {
		writeDataVar(image, uint16(dataBase+dv.offset), dv)
	}

	return image, dataAddr, nil
}

func parseInstructionLine(line string, lineNo int) (rawInstruction, error) {
	fields := strings.SplitN(line, " ", 2)
	mnemonic := strings.ToLower(strings.TrimSpace(fields[0]))

	var operandText string
	if len(fields) == 2 {
		operandText = fields[1]
	}

	var ops []rawOperand
	for _, tok := range splitOperands(operandText) {
		op, err := parseOperand(tok)
		if err != nil {
			return rawInstruction{}, &ParseError{Line: lineNo, Reason: err.Error()}
		}
		ops = append(ops, op)
	}

	opcode, err := resolveOpcode(mnemonic, ops)
	if err != nil {
		return rawInstruction{}, err
	}
	if opcode == 0 {
		return rawInstruction{}, &UnknownMnemonic{Line: lineNo, Text: line}
	}

	return rawInstruction{line: lineNo, mnemonic: mnemonic, operands: ops, opcode: opcode}, nil
}

func encodeInstruction(image []byte, pos uint16, instr rawInstruction, res resolver) error {
	p := int(pos)
	image[p] = byte(instr.opcode)
	p++

	kinds, _ := instr.opcode.Operands()
	for i, kind := range kinds {
		op := instr.operands[i]
		switch kind {
		case vm.OperandReg:
			image[p] = byte(op.reg)
			p++
		case vm.OperandLit, vm.OperandMem:
			v, err := evalExpr(op.expr, res)
			if err != nil {
				return err
			}
			image[p] = byte(v >> 8)
			image[p+1] = byte(v)
			p += 2
		}
	}
	return nil
}

func parseDataLine(line string, lineNo int) (dataVar, error) {
	fields := strings.SplitN(line, " ", 2)
	nameField := strings.TrimSpace(fields[0])
	name := strings.TrimSuffix(nameField, ":")
	if len(fields) < 2 {
		return dataVar{}, &ParseError{Line: lineNo, Reason: "missing data declaration for " + name}
	}

	rest := strings.TrimSpace(fields[1])
	typeFields := strings.SplitN(rest, " ", 2)
	typ := strings.ToLower(strings.TrimSpace(typeFields[0]))
	if typ != "u8" && typ != "u16" {
		return dataVar{}, &UnknownType{Line: lineNo}
	}
	if len(typeFields) < 2 {
		return dataVar{}, &ParseError{Line: lineNo, Reason: "missing values for " + name}
	}
	valuesText := strings.TrimSpace(typeFields[1])

	if strings.HasPrefix(valuesText, "\"") && strings.HasSuffix(valuesText, "\"") && len(valuesText) >= 2 {
		str := valuesText[1 : len(valuesText)-1]
		units := utf16.Encode([]rune(str))
		return dataVar{line: lineNo, name: name, isStr: true, str: str, length: 2 * len(units)}, nil
	}

	width := 1
	if typ == "u16" {
		width = 2
	}
	var values []uint16
	for _, v := range strings.Split(valuesText, ",") {
		n, ok := parseNumber(strings.TrimSpace(v))
		if !ok {
			return dataVar{}, &ParseError{Line: lineNo, Reason: "bad literal in data: " + v}
		}
		values = append(values, n)
	}
	return dataVar{line: lineNo, name: name, width: width, values: values, length: width * len(values)}, nil
}

func writeDataVar(image []byte, addr uint16, dv dataVar) {
	p := int(addr)
	if dv.isStr {
		for _, u := range utf16.Encode([]rune(dv.str)) {
			image[p] = byte(u >> 8)
			image[p+1] = byte(u)
			p += 2
		}
		return
	}
	for _, v := range dv.values {
		if dv.width == 1 {
			image[p] = byte(v)
			p++
		} else {
			image[p] = byte(v >> 8)
			image[p+1] = byte(v)
			p += 2
		}
	}
}

// DataVarAddressString formats a resolved .data variable address the way
// rvmasm's -verbose output does, without callers needing to know the image
// layout themselves.
func DataVarAddressString(addr uint16) string {
	return "0x" + strconv.FormatUint(uint64(addr), 16)
}
