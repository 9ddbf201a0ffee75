// Command rvmasm assembles a .vms source file into a .vmo bytecode image,
// following the basename-in/basename-out convention of chr2png: given a
// basename, it reads data/scripts/<name>.vms and writes
// data/output/<name>.vmo.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/urfave/cli/v2"

	"rvm16/asm"
)

func main() {
	app := &cli.App{
		Name:  "rvmasm",
		Usage: "assemble a .vms source file into a .vmo bytecode image",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "name",
				Aliases:  []string{"n"},
				Usage:    "basename under data/scripts and data/output, without extension",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "output basename, defaults to -name",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "print the resolved address of every .data variable",
			},
		},
		Action: func(c *cli.Context) error {
			name := c.String("name")
			out := c.String("out")
			if out == "" {
				out = name
			}

			srcPath := filepath.Join("data", "scripts", name+".vms")
			src, err := os.ReadFile(srcPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("reading %s: %v", srcPath, err), 1)
			}

			image, dataAddr, err := asm.AssembleWithSymbols(string(src))
			if err != nil {
				return cli.Exit(fmt.Sprintf("assembling %s: %v", srcPath, err), 1)
			}

			outPath := filepath.Join("data", "output", out+".vmo")
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return cli.Exit(fmt.Sprintf("creating output directory: %v", err), 1)
			}
			if err := os.WriteFile(outPath, image, 0o644); err != nil {
				return cli.Exit(fmt.Sprintf("writing %s: %v", outPath, err), 1)
			}

			fmt.Printf("wrote %s (%d bytes)\n", outPath, len(image))

			if c.Bool("verbose") {
				names := make([]string, 0, len(dataAddr))
				for name := range dataAddr {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Printf("  %s = %s\n", name, asm.DataVarAddressString(dataAddr[name]))
				}
			}
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
