//go:build !amd64 && !arm64

package exectest

import "runtime"

// callTrampoline has no implementation on architectures the compiled
// back-ends never target; Run already rejects these before reaching here,
// so this only guards against a direct, misuse-level call.
func callTrampoline(code, guestPtr, regFile uintptr) uint64 {
	panic("exectest: unsupported host architecture " + runtime.GOARCH)
}
