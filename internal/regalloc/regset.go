// Package regalloc implements the linear-scan register allocator: it
// consumes an rtl.Program and assigns every virtual register a concrete
// hardware register or spill slot, inserting moves to repair constraint
// conflicts and reporting the total spill footprint.
//
// Grounded directly on fox::jit::LinearAllocator
// (original_source/fox/jit/linear_register_allocator.{h,cpp}): the stage
// order, the parent/child coalescing model, and the assign-by-scanning-
// forward-for-fixed-conflicts rule all follow that implementation's
// algorithm rather than the teacher's own (graph-coloring) allocator, since
// this is the allocator design the specification actually describes.
package regalloc

import (
	"math/bits"

	"github.com/hollyjit/hollyjit/internal/jiterr"
	"github.com/hollyjit/hollyjit/internal/rtl"
)

const maxRegistersPerSet = 64

// RegisterSet is a fixed-capacity bitset of hardware register indices of one
// HwType: the pool of registers a caller makes available to the allocator,
// minus any "pre-allocated"/reserved subset it must not touch. Grounded on
// fox::jit::RegisterSet (referenced throughout linear_register_allocator.cpp
// as the type backing m_hw_registers/m_hw_unused/"available").
type RegisterSet struct {
	typ      rtl.HwType
	capacity int
	free     uint64
}

// NewRegisterSet builds a pool of capacity registers of type t, all free.
func NewRegisterSet(t rtl.HwType, capacity int) RegisterSet {
	if capacity < 0 || capacity > maxRegistersPerSet {
		jiterr.Raisef("RegisterSet", "capacity %d out of range [0,%d]", capacity, maxRegistersPerSet)
	}
	var free uint64
	if capacity > 0 {
		free = ^uint64(0) >> (64 - capacity)
	}
	return RegisterSet{typ: t, capacity: capacity, free: free}
}

// WithReserved returns a copy of s with the registers named by reserved
// (one bit per index) removed from the free set — the "pre-allocated"
// subset the allocator must never hand out.
func (s RegisterSet) WithReserved(reserved uint64) RegisterSet {
	s.free &^= reserved
	return s
}

// Type returns the hardware register class this set draws from.
func (s RegisterSet) Type() rtl.HwType {
	return s.typ
}

// Empty reports whether no registers remain free.
func (s RegisterSet) Empty() bool {
	return s.free == 0
}

// IsFree reports whether hw is currently free in this set.
func (s RegisterSet) IsFree(hw rtl.HwRegister) bool {
	if hw.Type() != s.typ || !hw.Assigned() {
		return false
	}
	return s.free&(uint64(1)<<uint(hw.Index())) != 0
}

// Allocate removes and returns the lowest-indexed free register. Panics via
// InvariantViolation if the set is empty; callers must check Empty first.
func (s *RegisterSet) Allocate() rtl.HwRegister {
	if s.free == 0 {
		jiterr.Raise("RegisterSet.Allocate", "no free register available")
	}
	idx := bits.TrailingZeros64(s.free)
	s.free &^= uint64(1) << uint(idx)
	return rtl.Hw(s.typ, idx)
}

// MarkAllocated removes hw from the free set. It is a no-op if hw is
// already allocated or unassigned.
func (s *RegisterSet) MarkAllocated(hw rtl.HwRegister) {
	if hw.Type() != s.typ || !hw.Assigned() {
		return
	}
	s.free &^= uint64(1) << uint(hw.Index())
}

// MarkAllocatedMask removes every register named in mask from the free set.
func (s *RegisterSet) MarkAllocatedMask(mask uint64) {
	s.free &^= mask
}

// Free returns hw to the free set.
func (s *RegisterSet) Free(hw rtl.HwRegister) {
	if hw.Type() != s.typ || !hw.Assigned() {
		return
	}
	s.free |= uint64(1) << uint(hw.Index())
}
