//go:build !unix

package exectest

import "fmt"

// mapExecutable has no portable implementation outside unix-like OSes;
// Run/Helper surface that as an error so callers skip rather than fail.
func mapExecutable(code []byte) ([]byte, error) {
	return nil, fmt.Errorf("exectest: unsupported host OS")
}

func unmapExecutable(mem []byte) {}
