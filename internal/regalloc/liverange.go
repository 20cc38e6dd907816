package regalloc

import "github.com/hollyjit/hollyjit/internal/rtl"

// noParent marks a liveRange with no parent (it is its own root).
const noParent = ^uint32(0)

// noSaveSlot marks a liveRange with no associated SaveState snapshot.
const noSaveSlot = -1

// liveRange is the allocator's bookkeeping record for one contiguous
// assignment of a hardware register (or spill slot) to an SSA register —
// or, for a SaveState instruction with no result, a placeholder range that
// exists only to capture a snapshot at the right point in time.
//
// Grounded on fox::jit::LinearAllocator::LiveRange.
type liveRange struct {
	reg      rtl.Register // invalid for a SaveState placeholder range
	hw       rtl.HwRegister
	saveSlot int // index into Program.Snapshots, or noSaveSlot
	from, to uint32
	parent   uint32
}

// root follows the parent chain and returns the index of range i's root.
func (a *Allocator) root(i uint32) uint32 {
	for a.liveRanges[i].parent != noParent {
		i = a.liveRanges[i].parent
	}
	return i
}
