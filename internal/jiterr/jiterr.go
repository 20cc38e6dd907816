// Package jiterr defines the two error shapes the compile pipeline can
// fail with: InvariantViolation, a programmer-error panic raised deep in any
// stage and recovered only at the Compiler.Compile boundary, and
// UnsupportedOpcodes, a structured diagnostic accumulated over a whole
// block and returned normally so the caller can fall back to an
// interpreter.
package jiterr

import (
	"fmt"
	"sort"
	"strings"
)

// InvariantViolation reports a contract the pipeline assumes always holds —
// an unknown opcode, a type mismatch, a conflicting pin, a malformed
// operand count. It is raised with panic and is never expected to be
// recovered anywhere but the Compiler.Compile boundary.
type InvariantViolation struct {
	Stage  string
	Reason string
}

// Error implements error.
func (e *InvariantViolation) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("invariant violation: %s", e.Reason)
	}
	return fmt.Sprintf("invariant violation in %s: %s", e.Stage, e.Reason)
}

// Raise panics with an InvariantViolation built from stage and reason. It
// is the single assertion primitive used throughout the pipeline.
func Raise(stage, reason string) {
	panic(&InvariantViolation{Stage: stage, Reason: reason})
}

// Raisef is Raise with a formatted reason.
func Raisef(stage, format string, args ...any) {
	panic(&InvariantViolation{Stage: stage, Reason: fmt.Sprintf(format, args...)})
}

// UnsupportedOpcodes reports the set of guest IR opcodes a back-end
// encountered but cannot lower, collected over an entire block before being
// returned. Opcode is typed as int so this package has no dependency on
// guestir; callers pass each opcode's name to Add alongside its value.
type UnsupportedOpcodes struct {
	opcodes map[int]string
}

// NewUnsupportedOpcodes constructs an empty accumulator.
func NewUnsupportedOpcodes() *UnsupportedOpcodes {
	return &UnsupportedOpcodes{opcodes: make(map[int]string)}
}

// Add records one unsupported opcode, identified by its integer value and
// human-readable name.
func (u *UnsupportedOpcodes) Add(opcode int, name string) {
	u.opcodes[opcode] = name
}

// Empty reports whether no unsupported opcodes were recorded.
func (u *UnsupportedOpcodes) Empty() bool {
	return len(u.opcodes) == 0
}

// ToError returns nil if Empty, otherwise an *UnsupportedOpcodes ready to be
// returned as an error.
func (u *UnsupportedOpcodes) ToError() error {
	if u.Empty() {
		return nil
	}
	return u
}

// Error implements error.
func (u *UnsupportedOpcodes) Error() string {
	names := make([]string, 0, len(u.opcodes))
	for _, n := range u.opcodes {
		names = append(names, n)
	}
	sort.Strings(names)
	return fmt.Sprintf("unsupported guest IR opcodes: %s", strings.Join(names, ", "))
}
