//go:build amd64

package exectest

// callTrampoline jumps to the routine at code with the System V ABI's
// first and third integer argument registers (RDI, RDX) loaded from
// guestPtr and regFile, returning whatever the routine leaves in RAX.
// Implemented in trampoline_amd64.s.
func callTrampoline(code, guestPtr, regFile uintptr) uint64
