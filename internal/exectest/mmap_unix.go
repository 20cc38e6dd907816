//go:build unix

package exectest

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapExecutable mmaps a fresh PROT_READ|PROT_WRITE anonymous region, copies
// code in, then mprotects it PROT_READ|PROT_EXEC — the W^X-respecting
// two-step wazero's platform.MmapCodeSegment/MprotectRX split performs,
// rather than mapping PROT_WRITE|PROT_EXEC directly.
func mapExecutable(code []byte) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, len(code), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("exectest: mmap: %w", err)
	}
	copy(mem, code)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("exectest: mprotect: %w", err)
	}
	return mem, nil
}

func unmapExecutable(mem []byte) {
	unix.Munmap(mem)
}
