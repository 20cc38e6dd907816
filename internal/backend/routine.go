// Package backend defines the architecture-independent surface every
// concrete back-end (amd64, arm64) implements and returns: the Routine
// wrapper around emitted machine code, and the Compiler driver interface.
package backend

import (
	"bytes"
	"fmt"
	"os/exec"

	"github.com/hollyjit/hollyjit/internal/guestir"
)

// Arch identifies the target instruction set a Routine was emitted for.
type Arch uint8

const (
	ArchInvalid Arch = iota
	AMD64
	ARM64
)

// String implements fmt.Stringer.
func (a Arch) String() string {
	switch a {
	case AMD64:
		return "amd64"
	case ARM64:
		return "arm64"
	default:
		return "invalid"
	}
}

// Routine is the opaque result of compiling one guest IR program: a byte
// buffer of native machine code plus the metadata a caller needs to manage
// it (make it executable, pin it, and account for its resource usage).
//
// Grounded on spec.md §6's Routine interface (data()/size()/disassemble()).
type Routine struct {
	Code   []byte
	Target Arch

	// Spills is the number of spill slots the allocator used for this
	// routine; 0 means the routine never touches the stack-based spill
	// area.
	Spills int

	// Touched is the scalar-GPR part of rtl.Program.Touched: the general-
	// purpose registers the allocator actually handed out, keyed by the
	// back-end's own register numbering. The prologue/epilogue save/restore
	// only the callee-saved ones among these.
	Touched map[int]struct{}
}

// Data returns the emitted machine code bytes.
func (r *Routine) Data() []byte {
	return r.Code
}

// Size returns the number of emitted bytes.
func (r *Routine) Size() int {
	return len(r.Code)
}

// Disassemble shells out to objdump when present on PATH, mirroring
// spec.md §6's "via objdump on platforms that provide it"; returns a
// descriptive error rather than panicking when objdump is unavailable.
func (r *Routine) Disassemble() (string, error) {
	path, err := exec.LookPath("objdump")
	if err != nil {
		return "", fmt.Errorf("backend: objdump not found on PATH: %w", err)
	}

	archFlag := "i386:x86-64"
	if r.Target == ARM64 {
		archFlag = "aarch64"
	}

	cmd := exec.Command(path, "-D", "-b", "binary", "-m", archFlag, "/dev/stdin")
	cmd.Stdin = bytes.NewReader(r.Code)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("backend: objdump failed: %w", err)
	}
	return string(out), nil
}

// RegisterAddressFunc maps a guest register index to an absolute byte
// displacement from the register-file base pointer (the third ABI
// argument). Grounded on spec.md §6's guest_register_address callback.
type RegisterAddressFunc func(index int) int32

// Compiler is the per-architecture driver: lower guest IR to RTL, allocate
// registers, emit machine code, return a Routine.
//
// Grounded on spec.md §6's Compiler::compile / set_register_address_callback
// / set_load_emitter surface.
type Compiler interface {
	Compile(program guestir.Program) (*Routine, error)
	SetRegisterAddressCallback(fn RegisterAddressFunc)
}
