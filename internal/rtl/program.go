package rtl

import "github.com/hollyjit/hollyjit/internal/jiterr"

// Label is a small integer identifying a branch target. It is bound to a
// byte offset only after machine code emission; the RTL-level program only
// ever refers to labels by id.
type Label uint32

// Program is the target-independent RTL representation of one guest code
// block: a single extended basic block of Instructions in SSA form, plus
// the bookkeeping the allocator and emitter consult.
//
// Grounded on spec.md §3/§4.1 and fox::jit::RtlProgram referenced throughout
// linear_register_allocator.h: a monotonic SSA counter, allocated labels,
// running spill count, and per-register-class touched sets.
type Program struct {
	Name         string
	Instructions []Instruction

	ssaCount   uint32
	labelCount uint32

	// SpillCount is the number of spill slots consumed by the allocator.
	// Filled in by the Assign stage.
	SpillCount int

	// Touched holds, per HwType, the set of hardware register indices that
	// were allocated at least once. The epilogue uses this to restore only
	// what was actually clobbered.
	Touched [NumHwTypes]map[int]struct{}

	// Snapshots holds one RegisterSnapshot per SaveState point, indexed by
	// Instruction.SaveSlot. Filled in by the Assign stage.
	Snapshots []RegisterSnapshot
}

// NewProgram constructs an empty program ready for a Builder to populate.
func NewProgram(name string) *Program {
	p := &Program{Name: name}
	for t := range p.Touched {
		p.Touched[t] = make(map[int]struct{})
	}
	return p
}

// MarkTouched records that hw was handed out by the allocator at least
// once.
func (p *Program) MarkTouched(hw HwRegister) {
	if !hw.Assigned() || hw.IsSpill() {
		return
	}
	p.Touched[hw.Type()][hw.Index()] = struct{}{}
}

// NextSSAID mints and returns a fresh SSA index, advancing the program's
// monotonic counter. Used both by Builder and by the allocator's Prepare
// stage, which mints fresh names to carry lifted pins.
func (p *Program) NextSSAID() uint32 {
	id := p.ssaCount
	p.ssaCount++
	return id
}

// SSACount returns the number of SSA registers minted so far.
func (p *Program) SSACount() uint32 {
	return p.ssaCount
}

// Builder accumulates Instructions into a Program, minting fresh SSA
// registers and label ids as it goes. Grounded on spec.md §4.1's
// allocate_block/ssa_allocate/allocate_label/append surface.
type Builder struct {
	program *Program
}

// NewBuilder starts a new RTL program under construction, the RTL analogue
// of guestir.Builder.
func NewBuilder(name string) *Builder {
	return &Builder{program: NewProgram(name)}
}

// SSAAllocate mints a fresh SSA register of the given type.
func (b *Builder) SSAAllocate(t RegType) Register {
	return SSA(b.program.NextSSAID(), t)
}

// AllocateLabel mints a fresh label id. Labels carry no name.
func (b *Builder) AllocateLabel() Label {
	id := b.program.labelCount
	b.program.labelCount++
	return Label(id)
}

// Append records an instruction, enforcing the builder-level invariants
// from spec.md §4.1: every result is a fresh SSA name is the caller's
// responsibility (callers mint via SSAAllocate immediately before
// building the Operand), but Append does check that a Destructive
// instruction has at least one result and one source, and that no result
// operand is null.
func (b *Builder) Append(i Instruction) *Instruction {
	if i.Destructive() && (len(i.Results) == 0 || len(i.Sources) == 0) {
		jiterr.Raise("Builder.Append", "Destructive instruction must have a result and a source")
	}
	for _, r := range i.Results {
		if !r.Reg.Valid() {
			jiterr.Raise("Builder.Append", "result operand must name a valid SSA register")
		}
	}
	b.program.Instructions = append(b.program.Instructions, i)
	return &b.program.Instructions[len(b.program.Instructions)-1]
}

// Len returns the number of instructions appended so far.
func (b *Builder) Len() int {
	return len(b.program.Instructions)
}

// Build finalizes and returns the constructed program.
func (b *Builder) Build() *Program {
	return b.program
}
