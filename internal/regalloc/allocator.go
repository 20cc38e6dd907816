package regalloc

import (
	"github.com/hollyjit/hollyjit/internal/jiterr"
	"github.com/hollyjit/hollyjit/internal/rtl"
)

const defaultSpillCapacity = 64

// Allocator runs the linear-scan pipeline over one rtl.Program. A fresh
// Allocator should be constructed per compilation; it is not safe to reuse
// across programs or to share across goroutines.
type Allocator struct {
	pools [rtl.NumHwTypes]RegisterSet

	program    *rtl.Program
	liveRanges []liveRange
	reverse    []uint32 // SSA id -> index into liveRanges
	hwRanges   [rtl.NumHwTypes]*rtl.RangeSet

	// touched accumulates, per HwType, the set of hardware indices handed
	// out at least once — including ones that arrived pre-pinned.
	touched [rtl.NumHwTypes]map[int]struct{}
}

// NewAllocator constructs an allocator with a default 64-slot spill pool
// and empty GPR/vector pools; callers must call DefineRegisterType for
// ScalarGPR and VectorReg before Run.
func NewAllocator() *Allocator {
	a := &Allocator{}
	a.pools[rtl.Spill] = NewRegisterSet(rtl.Spill, defaultSpillCapacity)
	for t := range a.touched {
		a.touched[t] = make(map[int]struct{})
	}
	return a
}

// DefineRegisterType installs the usable register pool for one hardware
// register class. t must not be Spill — use SetSpillCapacity for that pool.
func (a *Allocator) DefineRegisterType(t rtl.HwType, pool RegisterSet) {
	if t == rtl.Spill {
		jiterr.Raise("Allocator.DefineRegisterType", "use SetSpillCapacity to configure the spill pool")
	}
	a.pools[t] = pool
}

// SetSpillCapacity overrides the default 64-slot spill pool size.
func (a *Allocator) SetSpillCapacity(capacity int) {
	a.pools[rtl.Spill] = NewRegisterSet(rtl.Spill, capacity)
}

// Touched returns the set of hardware register indices of type t that were
// assigned at least once during the most recent Run.
func (a *Allocator) Touched(t rtl.HwType) map[int]struct{} {
	return a.touched[t]
}

// Run executes prepare -> calculate_live_ranges -> join_live_ranges ->
// assign_registers -> encode_rtl -> prune_rtl over p and returns the same
// program with every operand's hardware field resolved. p.SpillCount and
// p.Touched are filled in as a side effect.
func (a *Allocator) Run(p *rtl.Program) *rtl.Program {
	a.program = p
	a.prepare()
	a.calculateLiveRanges()
	a.joinLiveRanges()
	a.assignRegisters()
	a.encodeRTL()
	a.pruneRTL()

	// Spill slots are handed out lowest-index first, so the number of
	// distinct slots touched is one past the largest index used.
	p.SpillCount = len(a.touched[rtl.Spill])
	for t := rtl.HwType(0); t < rtl.NumHwTypes; t++ {
		for idx := range a.touched[t] {
			p.Touched[t][idx] = struct{}{}
		}
	}
	return p
}

func countAllocated(s RegisterSet) int {
	count := 0
	for i := 0; i < s.capacity; i++ {
		if !s.IsFree(rtl.Hw(s.typ, i)) {
			count++
		}
	}
	return count
}

// prepare lifts every pinned operand onto a trivial Move: a fresh SSA name
// replaces the pinned one on the original instruction, and a Move carries
// the pin. Sources get a Move inserted before the instruction, results
// after. This guarantees pins can never conflict with an arbitrary
// algebraic operation — only with another Move, which coalescing handles.
//
// Grounded on LinearAllocator::prepare.
func (a *Allocator) prepare() {
	original := a.program.Instructions
	result := make([]rtl.Instruction, 0, len(original)*2)

	for idx := range original {
		entry := original[idx]

		// A pinned source: the main instruction keeps its pin but is
		// renamed; a Move feeds it from an unpinned copy of the original
		// value, inserted immediately before.
		for i := range entry.Sources {
			src := &entry.Sources[i]
			if !src.Reg.Valid() || !src.Hw.Assigned() {
				continue
			}
			originalReg, originalHw := src.Reg, src.Hw
			renamed := a.ssaAllocate(originalReg.Type())
			result = append(result, rtl.Instruction{
				Op:      rtl.OpMove,
				Results: []rtl.Operand{rtl.Pinned(renamed, originalHw)},
				Sources: []rtl.Operand{rtl.AnyOf(originalReg)},
			})
			src.Reg = renamed
		}

		entryIndex := len(result)
		result = append(result, entry)

		// A pinned result: the main instruction is renamed to produce the
		// pinned value directly; a Move immediately after copies it into
		// the unpinned name every later consumer actually references.
		for i := range entry.Results {
			res := &result[entryIndex].Results[i]
			if !res.Reg.Valid() || !res.Hw.Assigned() {
				continue
			}
			originalReg, originalHw := res.Reg, res.Hw
			renamed := a.ssaAllocate(originalReg.Type())
			res.Reg = renamed
			result = append(result, rtl.Instruction{
				Op:      rtl.OpMove,
				Results: []rtl.Operand{rtl.AnyOf(originalReg)},
				Sources: []rtl.Operand{rtl.Pinned(renamed, originalHw)},
			})
		}
	}

	a.program.Instructions = result
}

// ssaAllocate mints a fresh SSA register in the program being built,
// mirroring RtlProgram::ssa_allocate as used from within the allocator
// itself (as opposed to a back-end's Builder).
func (a *Allocator) ssaAllocate(t rtl.RegType) rtl.Register {
	return rtl.SSA(a.program.NextSSAID(), t)
}

// calculateLiveRanges assigns each SSA register [first_def, last_use+1).
// SaveState instructions with no result get a placeholder range with an
// invalid register so a snapshot slot is still captured at the right
// point.
//
// Grounded on LinearAllocator::calculate_live_ranges.
func (a *Allocator) calculateLiveRanges() {
	n := int(a.program.SSACount())
	a.liveRanges = a.liveRanges[:0]
	a.reverse = make([]uint32, n)
	for i := range a.reverse {
		a.reverse[i] = noParent
	}

	instrs := a.program.Instructions
	for i := range instrs {
		entry := &instrs[i]

		for j := range entry.Sources {
			src := &entry.Sources[j]
			if !src.Reg.Valid() {
				continue
			}
			rangeIndex := a.reverse[src.Reg.ID()]
			if rangeIndex == noParent {
				jiterr.Raisef("Allocator.calculateLiveRanges", "source references SSA %d before it is defined", src.Reg.ID())
			}
			if src.Hw.Assigned() && src.Hw != a.liveRanges[rangeIndex].hw {
				jiterr.Raise("Allocator.calculateLiveRanges", "pinned source hw disagrees with its range's assignment")
			}
			a.liveRanges[rangeIndex].to = uint32(i)
		}

		if entry.Flags.Has(rtl.SaveState) && len(entry.Results) > 1 {
			jiterr.Raise("Allocator.calculateLiveRanges", "SaveState instructions support at most one result")
		}

		for j := range entry.Results {
			res := &entry.Results[j]
			if !res.Reg.Valid() {
				continue
			}
			if a.reverse[res.Reg.ID()] != noParent {
				jiterr.Raisef("Allocator.calculateLiveRanges", "SSA %d defined more than once", res.Reg.ID())
			}
			slot := noSaveSlot
			if entry.Flags.Has(rtl.SaveState) {
				slot = a.newSaveSlot()
			}
			a.reverse[res.Reg.ID()] = uint32(len(a.liveRanges))
			a.liveRanges = append(a.liveRanges, liveRange{
				reg:      res.Reg,
				hw:       res.Hw,
				saveSlot: slot,
				from:     uint32(i),
				to:       uint32(i) + 1,
				parent:   noParent,
			})
			entry.SaveSlot = slot
		}

		if len(entry.Results) == 0 && entry.Flags.Has(rtl.SaveState) {
			slot := a.newSaveSlot()
			entry.SaveSlot = slot
			a.liveRanges = append(a.liveRanges, liveRange{
				reg:      rtl.Register{},
				saveSlot: slot,
				from:     uint32(i),
				to:       uint32(i) + 1,
				parent:   noParent,
			})
		}
	}
}

func (a *Allocator) newSaveSlot() int {
	a.program.Snapshots = append(a.program.Snapshots, rtl.NewRegisterSnapshot())
	return len(a.program.Snapshots) - 1
}

// joinLiveRanges attempts to coalesce each instruction's result range with
// a source range to eliminate a move: for Destructive instructions, only
// with source 0; for everything else, with the first source for which the
// join succeeds.
//
// Grounded on LinearAllocator::join_live_ranges.
func (a *Allocator) joinLiveRanges() {
	for t := range a.hwRanges {
		a.hwRanges[t] = rtl.NewRangeSet()
	}
	for _, r := range a.liveRanges {
		if r.hw.Assigned() {
			a.hwRanges[r.hw.Type()].AddRange(uint32(r.hw.Index()), r.from, r.to)
		}
	}

	instrs := a.program.Instructions
	for i := range instrs {
		entry := &instrs[i]
		if len(entry.Results) == 0 || !entry.Results[0].Reg.Valid() {
			continue
		}
		resultRange := a.reverse[entry.Results[0].Reg.ID()]

		if entry.Destructive() {
			if len(entry.Sources) == 0 || !entry.Sources[0].Reg.Valid() {
				jiterr.Raise("Allocator.joinLiveRanges", "Destructive instruction missing a valid first source")
			}
			a.joinRanges(resultRange, a.reverse[entry.Sources[0].Reg.ID()])
			continue
		}

		for j := range entry.Sources {
			src := &entry.Sources[j]
			if !src.Reg.Valid() {
				continue
			}
			if a.joinRanges(resultRange, a.reverse[src.Reg.ID()]) {
				break
			}
		}
	}
}

// joinRanges attempts to merge the live ranges at aIndex and bIndex
// (indices into a.liveRanges, not necessarily roots) into one, the later
// becoming a child of the earlier. Returns whether the join succeeded.
//
// Grounded verbatim on LinearAllocator::join_ranges, including its
// tie-breaking and fixed-hw-contention rules.
func (a *Allocator) joinRanges(aIndex, bIndex uint32) bool {
	aIndex = a.root(aIndex)
	bIndex = a.root(bIndex)

	if aIndex > bIndex {
		aIndex, bIndex = bIndex, aIndex
	} else if aIndex == bIndex {
		return true
	}

	target := &a.liveRanges[aIndex]
	later := &a.liveRanges[bIndex]

	if target.to > later.from || target.from == later.from {
		return false
	}
	if target.hw.Type() != later.hw.Type() {
		return false
	}

	fixedHw := rtl.UnassignedHw(target.hw.Type())
	switch {
	case target.hw.Assigned():
		if later.hw.Assigned() && later.hw != target.hw {
			return false
		}
		fixedHw = target.hw
	case later.hw.Assigned():
		fixedHw = later.hw
	}

	var newFixedStart, newFixedEnd uint32
	if fixedHw.Assigned() {
		switch {
		case !later.hw.Assigned():
			newFixedStart, newFixedEnd = target.to, later.to
		case !target.hw.Assigned():
			newFixedStart, newFixedEnd = target.from, later.from
		default:
			newFixedStart, newFixedEnd = target.to, later.from
		}

		if newFixedStart != newFixedEnd {
			if a.hwRanges[fixedHw.Type()].IsContendedRange(uint32(fixedHw.Index()), newFixedStart, newFixedEnd) {
				return false
			}
		}
	}

	target.hw = fixedHw
	target.to = later.to
	later.parent = aIndex

	if newFixedStart != newFixedEnd {
		a.hwRanges[fixedHw.Type()].AddRange(uint32(fixedHw.Index()), newFixedStart, newFixedEnd)
	}

	return true
}

// assignRegisters walks live ranges in start order, retiring active ranges
// as they end, and gives each root range a concrete hardware register or a
// spill slot.
//
// Grounded on LinearAllocator::assign_registers.
func (a *Allocator) assignRegisters() {
	available := a.pools

	type activeEntry struct {
		to  uint32
		idx int
	}
	var active []activeEntry

	for idx := range a.liveRanges {
		r := &a.liveRanges[idx]

		remaining := active[:0]
		for _, ae := range active {
			if ae.to <= r.from {
				done := &a.liveRanges[ae.idx]
				available[done.hw.Type()].Free(done.hw)
				continue
			}
			remaining = append(remaining, ae)
		}
		active = remaining

		if r.saveSlot != noSaveSlot {
			snapshotAvailable(available, a.program.Snapshots[r.saveSlot])
		}

		if r.parent != noParent {
			continue
		}
		if !r.reg.Valid() {
			continue
		}

		active = append(active, activeEntry{to: r.to, idx: idx})

		if r.hw.Assigned() {
			available[r.hw.Type()].MarkAllocated(r.hw)
			a.markTouched(r.hw)
			continue
		}

		pool := available[rtl.HwTypeForReg(r.reg.Type())]
		pool.MarkAllocatedMask(a.fixedInRangeMask(pool.Type(), idx+1, r.to))
		if !pool.Empty() {
			hw := pool.Allocate()
			available[hw.Type()].MarkAllocated(hw)
			a.markTouched(hw)
			r.hw = hw
			continue
		}

		spill := available[rtl.Spill]
		if spill.Empty() {
			jiterr.Raise("Allocator.assignRegisters", "spill pool exhausted")
		}
		hw := spill.Allocate()
		available[rtl.Spill] = spill
		a.markTouched(hw)
		r.hw = hw
	}
}

func (a *Allocator) markTouched(hw rtl.HwRegister) {
	if !hw.Assigned() {
		return
	}
	a.touched[hw.Type()][hw.Index()] = struct{}{}
}

// snapshotAvailable records, into snap, every register currently NOT free
// in available (i.e. currently holding a live value) — the allocator state
// "just before" the current range's own result becomes live.
func snapshotAvailable(available [rtl.NumHwTypes]RegisterSet, snap rtl.RegisterSnapshot) {
	for t := range available {
		set := available[t]
		for i := 0; i < set.capacity; i++ {
			hw := rtl.Hw(set.typ, i)
			if !set.IsFree(hw) {
				snap.Mark(hw)
			}
		}
	}
}

// fixedInRangeMask scans forward from fromIdx (a live range index,
// exclusive of the current range) while the range's start is below
// untilInstruction, collecting a bitmask of every free register of type t
// that some upcoming root range has already pinned — these must not be
// handed out to the current range even though they're nominally free.
//
// Grounded on LinearAllocator::fixed_in_range.
func (a *Allocator) fixedInRangeMask(t rtl.HwType, fromIdx int, untilInstruction uint32) uint64 {
	var mask uint64
	for i := fromIdx; i < len(a.liveRanges); i++ {
		r := &a.liveRanges[i]
		if r.from >= untilInstruction {
			break
		}
		if r.parent == noParent && r.hw.Assigned() && r.hw.Type() == t {
			mask |= uint64(1) << uint(r.hw.Index())
		}
	}
	return mask
}

// encodeRTL copies each range's (or its root's) resolved hardware field
// into every operand referencing that SSA register.
//
// Grounded on LinearAllocator::encode_rtl.
func (a *Allocator) encodeRTL() {
	instrs := a.program.Instructions
	for i := range instrs {
		entry := &instrs[i]
		for j := range entry.Results {
			res := &entry.Results[j]
			if !res.Reg.Valid() {
				continue
			}
			res.Hw = a.resolvedHw(a.reverse[res.Reg.ID()])
		}
		for j := range entry.Sources {
			src := &entry.Sources[j]
			if !src.Reg.Valid() {
				continue
			}
			src.Hw = a.resolvedHw(a.reverse[src.Reg.ID()])
		}
	}
}

func (a *Allocator) resolvedHw(idx uint32) rtl.HwRegister {
	r := &a.liveRanges[idx]
	if r.parent == noParent {
		return r.hw
	}
	return a.liveRanges[r.parent].hw
}

// pruneRTL turns any Move whose resolved source and destination coincide
// into a no-op: the join succeeded and no code needs to be emitted for it.
//
// Grounded on LinearAllocator::prune_rtl.
func (a *Allocator) pruneRTL() {
	instrs := a.program.Instructions
	for i := range instrs {
		entry := &instrs[i]
		if entry.Op != rtl.OpMove {
			continue
		}
		if entry.Results[0].Hw == entry.Sources[0].Hw {
			entry.Op = rtl.OpNone
		}
	}
}
