package vm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
)

// Driver loops calling CPU.Step until it signals termination, per §4.7.
type Driver struct {
	CPU *CPU
}

func NewDriver(cpu *CPU) *Driver {
	return &Driver{CPU: cpu}
}

// Run executes to completion. It returns nil on END, and any other error
// the CPU raised otherwise. The garbage collector is disabled for the
// duration of the run and restored afterward: instruction dispatch is the
// hot loop and allocates nothing of its own, so GC pauses here are pure
// overhead.
func (d *Driver) Run() error {
	key, ok := os.LookupEnv("GOGC")
	if !ok {
		key = "100"
	}
	gcPercent, err := strconv.Atoi(key)
	if err != nil {
		gcPercent = 100
	}

	debug.SetGCPercent(-1)
	defer debug.SetGCPercent(gcPercent)

	for {
		err := d.CPU.Step()
		if err == nil {
			continue
		}
		if errors.Is(err, ErrEndOfExecution) {
			return nil
		}
		return err
	}
}

// RunDebug runs in single-step mode, printing state to w after every
// single-stepped instruction and at each breakpoint hit, and accepting
// "n"/"next", "r"/"run", and "b <addr>" commands from stdin. After "r" the
// program runs without per-instruction output until a breakpoint or the end.
func (d *Driver) RunDebug(w io.Writer) error {
	fmt.Fprintf(w, "Commands:\n\tn or next: execute next instruction\n\tr or run: run program\n\tb or break <addr>: toggle breakpoint\n\n")
	d.CPU.DumpRegisters(w)

	reader := bufio.NewReader(os.Stdin)
	waitForInput := true
	breakpoints := make(map[int]struct{})
	lastBreak := -1

	for {
		line := ""
		if waitForInput {
			fmt.Fprint(w, "\n->")
			line, _ = reader.ReadString('\n')
			line = strings.ToLower(strings.TrimSpace(line))
		} else {
			ip, _ := d.CPU.Regs.Get(IP)
			if _, ok := breakpoints[int(ip)]; ok && lastBreak != int(ip) {
				fmt.Fprintln(w, "breakpoint")
				d.CPU.DumpRegisters(w)
				waitForInput = true
				lastBreak = int(ip)
				continue
			}
		}

		switch {
		case !waitForInput || line == "n" || line == "next":
			lastBreak = -1
			err := d.CPU.Step()
			if waitForInput {
				d.CPU.DumpRegisters(w)
			}
			if err != nil {
				if errors.Is(err, ErrEndOfExecution) {
					return nil
				}
				return err
			}
		case line == "r" || line == "run":
			waitForInput = false
		case strings.HasPrefix(line, "b"):
			fields := strings.Fields(line)
			if len(fields) < 2 {
				fmt.Fprintln(w, "usage: b <addr>")
				continue
			}
			addr, err := strconv.ParseInt(fields[1], 0, 32)
			if err != nil {
				fmt.Fprintln(w, "unknown address:", err)
				continue
			}
			if _, ok := breakpoints[int(addr)]; ok {
				delete(breakpoints, int(addr))
			} else {
				breakpoints[int(addr)] = struct{}{}
			}
		}
	}
}

// DumpRegisters writes every register's current value, grounded on
// original_source's print_registers debug helper. It is introspection
// only and has no effect on instruction semantics.
func (c *CPU) DumpRegisters(w io.Writer) {
	for i := 0; i < NumRegisters; i++ {
		reg := RegIndex(i)
		v, _ := c.Regs.Get(reg)
		fmt.Fprintf(w, "%-4s 0x%04X  ", c.Regs.Name(reg), v)
		if i%4 == 3 {
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintf(w, "\nFLAGS Z=%d N=%d C=%d\n",
		boolBit(c.flags&FlagZero != 0), boolBit(c.flags&FlagNeg != 0), boolBit(c.flags&FlagCarry != 0))
}

// DumpMemory writes a formatted chunk of the address space, eight entries
// per row, as either individual bytes (width==1) or big-endian words
// (width==2). Grounded on original_source's print_memory_chunk_u8/u16.
func (c *CPU) DumpMemory(w io.Writer, start, end int, width int) {
	for addr := start; addr < end; addr += width {
		if (addr-start)%(8*width) == 0 {
			fmt.Fprintf(w, "\n0x%04X: ", addr)
		}
		if width == 1 {
			b, _ := c.Mem.ReadU8(uint16(addr))
			fmt.Fprintf(w, "%02X ", b)
		} else {
			v, _ := c.Mem.ReadU16(uint16(addr))
			fmt.Fprintf(w, "%04X ", v)
		}
	}
	fmt.Fprintln(w)
}

func boolBit(b bool) int {
	if b {
		return 1
	}
	return 0
}
