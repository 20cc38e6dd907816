// Package exectest maps a compiled Routine's machine code executable and
// calls it through a minimal per-architecture trampoline, for tests that
// need to observe what a Routine actually computes rather than just
// inspecting its byte length or its RTL operand metadata.
//
// Grounded on tetratelabs-wazero's internal/platform.MmapCodeSegment/
// MprotectRX (map read-write, copy the bytes in, remap read-execute) and
// internal/engine/wazevo's go:linkname'd, architecture-specific entrypoint
// functions (entrypoint_arm64.go / entrypoint_others.go): a Routine's entry
// convention isn't Go's, so a hand-written assembly stub loads the target
// ABI's argument registers explicitly before jumping in, rather than
// casting the code pointer to a Go func value.
package exectest

import (
	"fmt"
	"runtime"
	"unsafe"
)

// Run maps code as executable memory and calls it as the back-ends'
// shared routine entry convention expects: the guest-state pointer in the
// first integer argument register, the register-file base in the third
// (amd64: RDI/RDX; arm64: X0/X2), returning whatever the routine leaves in
// its own ABI's return register (amd64: RAX; arm64: X0).
//
// regFile backs READ_GUEST_REGISTER/WRITE_GUEST_REGISTER; guestMemory (may
// be nil for routines that never touch guest memory) backs
// CALL_FRAMED's guest_load/guest_store helpers. Run returns an error
// instead of executing when the host OS or architecture can't run the
// mapped code, so callers can t.Skip rather than fail.
func Run(code []byte, guestMemory []byte, regFile []uint64) (uint64, error) {
	if len(code) == 0 {
		return 0, fmt.Errorf("exectest: empty code")
	}
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
		return 0, fmt.Errorf("exectest: unsupported host architecture %s", runtime.GOARCH)
	}

	mem, err := mapExecutable(code)
	if err != nil {
		return 0, err
	}
	defer unmapExecutable(mem)

	var guestPtr, regFilePtr uintptr
	if len(guestMemory) > 0 {
		guestPtr = uintptr(unsafe.Pointer(&guestMemory[0]))
	}
	if len(regFile) > 0 {
		regFilePtr = uintptr(unsafe.Pointer(&regFile[0]))
	}

	result := callTrampoline(uintptr(unsafe.Pointer(&mem[0])), guestPtr, regFilePtr)
	runtime.KeepAlive(code)
	runtime.KeepAlive(guestMemory)
	runtime.KeepAlive(regFile)
	return result, nil
}

// Helper builds an executable mapping of a standalone helper routine (a
// hand-assembled guest_load/guest_store stand-in) and returns its host
// address, suitable for compiler.Helpers/amd64.Helpers/arm64.Helpers. The
// caller is responsible for keeping the returned release func reachable
// for as long as anything may still call the address.
func Helper(code []byte) (addr uintptr, release func(), err error) {
	if len(code) == 0 {
		return 0, nil, fmt.Errorf("exectest: empty helper code")
	}
	mem, err := mapExecutable(code)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(unsafe.Pointer(&mem[0])), func() { unmapExecutable(mem) }, nil
}
