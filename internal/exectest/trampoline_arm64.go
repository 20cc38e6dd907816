//go:build arm64

package exectest

// callTrampoline jumps to the routine at code with AAPCS64's first and
// third integer argument registers (X0, X2) loaded from guestPtr and
// regFile, returning whatever the routine leaves in X0. Implemented in
// trampoline_arm64.s.
func callTrampoline(code, guestPtr, regFile uintptr) uint64
