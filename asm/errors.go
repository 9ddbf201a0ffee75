// Package asm assembles the line-oriented source language of §6 into the
// bytecode image the vm package's CPU executes. The engine itself never
// parses source; this package exists only to produce bytecode images that
// satisfy that contract, and to make the toolchain runnable end to end.
package asm

import "fmt"

// ErrMissingStart is returned when a .code section has no "start:" label.
var ErrMissingStart = fmt.Errorf("missing required start label")

// DuplicateLabel reports a label declared more than once.
type DuplicateLabel struct {
	Name string
	Line int
}

func (e *DuplicateLabel) Error() string {
	return fmt.Sprintf("line %d: duplicate label %q", e.Line, e.Name)
}

// UnknownMnemonic reports a line whose instruction mnemonic isn't
// recognized, or whose operands don't match any variant of it.
type UnknownMnemonic struct {
	Line int
	Text string
}

func (e *UnknownMnemonic) Error() string {
	return fmt.Sprintf("line %d: unknown mnemonic or operand shape: %s", e.Line, e.Text)
}

// UnknownType reports a .data declaration with a type other than u8/u16.
type UnknownType struct {
	Line int
}

func (e *UnknownType) Error() string {
	return fmt.Sprintf("line %d: unknown data type, want u8 or u16", e.Line)
}

// UnresolvedLabel reports a reference to a label that was never declared.
type UnresolvedLabel struct {
	Name string
}

func (e *UnresolvedLabel) Error() string {
	return fmt.Sprintf("unresolved label: %s", e.Name)
}

// UnknownVariable reports a :name reference to an undeclared .data
// variable.
type UnknownVariable struct {
	Name string
}

func (e *UnknownVariable) Error() string {
	return fmt.Sprintf("unknown variable: %s", e.Name)
}

// ParseError reports any other malformed line.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}
