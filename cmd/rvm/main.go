// Command rvm runs a .vmo bytecode image to completion, optionally
// attaching a terminal-backed screen device and/or dropping into the
// single-step debug driver.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gdamore/tcell/v2"
	"github.com/urfave/cli/v2"

	"rvm16/vm"
)

func main() {
	app := &cli.App{
		Name:  "rvm",
		Usage: "run a .vmo bytecode image",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "name",
				Aliases:  []string{"n"},
				Usage:    "basename under data/output, without extension",
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "single-step through the program, printing state after each instruction",
			},
			&cli.BoolFlag{
				Name:  "screen",
				Usage: "attach a terminal-backed screen device at the canonical base address",
			},
			&cli.IntFlag{
				Name:  "screen-width",
				Value: 80,
				Usage: "screen device width in character cells",
			},
			&cli.IntFlag{
				Name:  "screen-height",
				Value: 24,
				Usage: "screen device height in character cells",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	name := c.String("name")
	imagePath := filepath.Join("data", "output", name+".vmo")
	image, err := os.ReadFile(imagePath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("reading %s: %v", imagePath, err), 1)
	}

	cpu := vm.NewCPU(vm.NewMemoryMap())
	if err := cpu.Load(image); err != nil {
		return cli.Exit(fmt.Sprintf("loading %s: %v", imagePath, err), 1)
	}

	var screen *vm.Screen
	if c.Bool("screen") {
		term, err := tcell.NewScreen()
		if err != nil {
			return cli.Exit(fmt.Sprintf("opening terminal: %v", err), 1)
		}
		if err := term.Init(); err != nil {
			return cli.Exit(fmt.Sprintf("initializing terminal: %v", err), 1)
		}
		screen = vm.NewScreen(c.Int("screen-width"), c.Int("screen-height"), term)
		if err := cpu.AttachScreen(screen); err != nil {
			screen.Close()
			return cli.Exit(fmt.Sprintf("attaching screen: %v", err), 1)
		}
		defer screen.Close()
	}

	driver := vm.NewDriver(cpu)

	if c.Bool("debug") {
		if err := driver.RunDebug(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, "execution halted:", err)
			return cli.Exit("", 1)
		}
		return nil
	}

	if err := driver.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "execution halted:", err)
		return cli.Exit("", 1)
	}
	return nil
}
