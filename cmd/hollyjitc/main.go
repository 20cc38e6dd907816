// Command hollyjitc exercises the compile pipeline end to end: it reads a
// guest IR program from a JSON fixture, compiles it for a chosen target
// architecture, and either writes out the emitted machine code, prints its
// disassembly, or reports the allocator's spill/touched-register
// statistics.
//
// Grounded on oisee/z80-optimizer's cmd/z80opt/main.go: a root cobra.Command
// with flag-bearing subcommands, RunE returning wrapped errors.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hollyjit/hollyjit/internal/backend"
	"github.com/hollyjit/hollyjit/internal/compiler"
	"github.com/hollyjit/hollyjit/internal/jitlog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var arch string
	var regStride int
	var guestLoadHex string
	var guestStoreHex string
	var verbose bool

	root := &cobra.Command{
		Use:   "hollyjitc",
		Short: "Drive the hollyjit guest-IR-to-machine-code compile pipeline",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				jitlog.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVar(&arch, "arch", "amd64", "target architecture: amd64 or arm64")
	root.PersistentFlags().IntVar(&regStride, "reg-stride", 8, "byte stride between guest registers in the register file")
	root.PersistentFlags().StringVar(&guestLoadHex, "guest-load", "0", "host address of the guest_load helper, decimal or 0x-prefixed hex (unused unless the routine is actually executed)")
	root.PersistentFlags().StringVar(&guestStoreHex, "guest-store", "0", "host address of the guest_store helper, decimal or 0x-prefixed hex")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	buildCompiler := func() (*compiler.Compiler, error) {
		a, err := parseArch(arch)
		if err != nil {
			return nil, err
		}
		load, err := strconv.ParseUint(guestLoadHex, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("--guest-load: %w", err)
		}
		store, err := strconv.ParseUint(guestStoreHex, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("--guest-store: %w", err)
		}

		c := compiler.NewCompiler(a, compiler.Helpers{GuestLoad: uintptr(load), GuestStore: uintptr(store)})
		stride := int32(regStride)
		c.SetRegisterAddressCallback(func(index int) int32 { return int32(index) * stride })
		return c, nil
	}

	compileFixture := func(path string) (*backend.Routine, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		prog, err := parseFixture(f)
		if err != nil {
			return nil, err
		}

		c, err := buildCompiler()
		if err != nil {
			return nil, err
		}
		return c.Compile(prog)
	}

	root.AddCommand(newCompileCmd(compileFixture), newDisasmCmd(compileFixture), newStatsCmd(compileFixture))
	return root
}

func parseArch(s string) (backend.Arch, error) {
	switch s {
	case "amd64":
		return backend.AMD64, nil
	case "arm64":
		return backend.ARM64, nil
	default:
		return backend.ArchInvalid, fmt.Errorf("unknown --arch %q: want amd64 or arm64", s)
	}
}

func newCompileCmd(compileFixture func(string) (*backend.Routine, error)) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "compile [fixture.json]",
		Short: "Compile a guest IR fixture and write the emitted machine code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			routine, err := compileFixture(args[0])
			if err != nil {
				return fmt.Errorf("compile: %w", err)
			}
			if out == "" {
				fmt.Println(hex.EncodeToString(routine.Data()))
				return nil
			}
			return os.WriteFile(out, routine.Data(), 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file for the raw machine code (default: print hex to stdout)")
	return cmd
}

func newDisasmCmd(compileFixture func(string) (*backend.Routine, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "disasm [fixture.json]",
		Short: "Compile a guest IR fixture and print its disassembly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			routine, err := compileFixture(args[0])
			if err != nil {
				return fmt.Errorf("compile: %w", err)
			}
			text, err := routine.Disassemble()
			if err != nil {
				return err
			}
			fmt.Print(text)
			return nil
		},
	}
}

func newStatsCmd(compileFixture func(string) (*backend.Routine, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [fixture.json]",
		Short: "Compile a guest IR fixture and report allocator/emitted-code statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			routine, err := compileFixture(args[0])
			if err != nil {
				return fmt.Errorf("compile: %w", err)
			}
			fmt.Printf("target:  %s\n", routine.Target)
			fmt.Printf("bytes:   %d\n", routine.Size())
			fmt.Printf("spills:  %d\n", routine.Spills)
			fmt.Printf("touched: %d registers\n", len(routine.Touched))
			return nil
		},
	}
}
