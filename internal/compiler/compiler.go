// Package compiler provides the per-architecture Compiler facade spec.md §6
// and §2's "driver layer" describe: it wires guestir.Program through a
// back-end's Lower, a configured internal/regalloc.Allocator, and that
// back-end's Assemble into a backend.Routine, and is the single place in
// the whole pipeline that recovers an InvariantViolation panic.
package compiler

import (
	"time"

	"github.com/hollyjit/hollyjit/internal/backend"
	"github.com/hollyjit/hollyjit/internal/backend/amd64"
	"github.com/hollyjit/hollyjit/internal/backend/arm64"
	"github.com/hollyjit/hollyjit/internal/guestir"
	"github.com/hollyjit/hollyjit/internal/jiterr"
	"github.com/hollyjit/hollyjit/internal/jitlog"
	"github.com/hollyjit/hollyjit/internal/regalloc"
	"github.com/hollyjit/hollyjit/internal/rtl"
	"github.com/sirupsen/logrus"
)

// Helpers holds the absolute host addresses of the guest_load/guest_store
// functions spec.md §6 defines. Both back-ends' own Helpers types have this
// exact shape; compiler.Helpers is the architecture-independent copy a
// caller builds once and NewCompiler converts to whichever concrete type
// the chosen architecture needs.
type Helpers struct {
	GuestLoad  uintptr
	GuestStore uintptr
}

// Compiler is a facade bound to one target architecture at construction
// time, implementing backend.Compiler. Grounded on spec.md §6's Compiler
// interface and, for the recover boundary, on wazero's convention of
// panicking deep in its compiler and recovering only at the public
// CompileModule edge (internal/engine/wazevo).
type Compiler struct {
	arch    backend.Arch
	helpers Helpers
	regAddr backend.RegisterAddressFunc
	logger  *logrus.Logger
}

// Option configures a Compiler at construction time.
type Option func(*Compiler)

// WithLogger overrides the package-default logrus logger, letting tests
// install a discard logger instead of writing to the process-wide default.
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Compiler) {
		c.logger = logger
	}
}

// NewCompiler builds a Compiler targeting arch, calling guest_load/
// guest_store through helpers whenever the lowered routine needs guest
// memory access.
func NewCompiler(arch backend.Arch, helpers Helpers, opts ...Option) *Compiler {
	c := &Compiler{arch: arch, helpers: helpers, logger: jitlog.Logger()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetRegisterAddressCallback implements backend.Compiler.
func (c *Compiler) SetRegisterAddressCallback(fn backend.RegisterAddressFunc) {
	c.regAddr = fn
}

// Compile implements backend.Compiler: lower program to RTL, run the
// linear-scan allocator, assemble the result, recovering any
// InvariantViolation panic raised by any of the three stages and returning
// it as a plain error instead.
func (c *Compiler) Compile(program guestir.Program) (routine *backend.Routine, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			iv, ok := r.(*jiterr.InvariantViolation)
			if !ok {
				panic(r)
			}
			err = iv
			c.logger.WithFields(logrus.Fields{
				"block":        program.Name,
				"architecture": c.arch.String(),
				"stage":        iv.Stage,
			}).Warn("compile failed: invariant violation")
		}
	}()

	if c.regAddr == nil {
		jiterr.Raise("Compiler.Compile", "register-address callback not set")
	}

	rtlProgram, lowerErr, unsupported := c.lower(program)
	if unsupported {
		c.logger.WithFields(logrus.Fields{
			"block":        program.Name,
			"architecture": c.arch.String(),
		}).Warn(lowerErr.Error())
		return nil, lowerErr
	}

	allocator := c.newAllocator()
	rtlProgram = allocator.Run(rtlProgram)

	routine, err = c.assemble(rtlProgram)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"block":        program.Name,
		"architecture": c.arch.String(),
		"spills":       routine.Spills,
		"bytes":        routine.Size(),
		"duration":     time.Since(start),
	}).Debug("compile succeeded")
	return routine, nil
}

// lower dispatches to the chosen architecture's Lower function. The bool
// result distinguishes an UnsupportedOpcodes diagnostic (reported, not
// panicked) from success; InvariantViolation panics propagate through
// untouched for Compile's recover to catch.
func (c *Compiler) lower(program guestir.Program) (*rtl.Program, error, bool) {
	switch c.arch {
	case backend.AMD64:
		p, err := amd64.Lower(program)
		return p, err, err != nil
	case backend.ARM64:
		p, err := arm64.Lower(program)
		return p, err, err != nil
	default:
		jiterr.Raisef("Compiler.Compile", "unknown target architecture %v", c.arch)
		return nil, nil, false
	}
}

// newAllocator builds an Allocator configured with the chosen
// architecture's GPR/vector pools, each reserving the scratch and
// frame-management registers the back-end's own assembler needs.
func (c *Compiler) newAllocator() *regalloc.Allocator {
	a := regalloc.NewAllocator()
	switch c.arch {
	case backend.AMD64:
		a.DefineRegisterType(rtl.ScalarGPR, regalloc.NewRegisterSet(rtl.ScalarGPR, amd64.NumGPR).WithReserved(fullMask(amd64.NumGPR)&^amd64.GprPool()))
		a.DefineRegisterType(rtl.VectorReg, regalloc.NewRegisterSet(rtl.VectorReg, amd64.NumXMM).WithReserved(fullMask(amd64.NumXMM)&^amd64.VectorPool()))
	case backend.ARM64:
		a.DefineRegisterType(rtl.ScalarGPR, regalloc.NewRegisterSet(rtl.ScalarGPR, arm64.NumGPR).WithReserved(fullMask(arm64.NumGPR)&^arm64.GprPool()))
		a.DefineRegisterType(rtl.VectorReg, regalloc.NewRegisterSet(rtl.VectorReg, arm64.NumVector).WithReserved(fullMask(arm64.NumVector)&^arm64.VectorPool()))
	default:
		jiterr.Raisef("Compiler.Compile", "unknown target architecture %v", c.arch)
	}
	return a
}

func fullMask(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<uint(n) - 1
}

// assemble dispatches to the chosen architecture's Assemble function.
func (c *Compiler) assemble(program *rtl.Program) (*backend.Routine, error) {
	switch c.arch {
	case backend.AMD64:
		return amd64.Assemble(program, c.regAddr, amd64.Helpers{GuestLoad: c.helpers.GuestLoad, GuestStore: c.helpers.GuestStore})
	case backend.ARM64:
		return arm64.Assemble(program, c.regAddr, arm64.Helpers{GuestLoad: c.helpers.GuestLoad, GuestStore: c.helpers.GuestStore})
	default:
		jiterr.Raisef("Compiler.Compile", "unknown target architecture %v", c.arch)
		return nil, nil
	}
}
