package guestir

// Builder accumulates Instructions into a Program. It exists mainly to give
// front-ends (and tests) a convenient, allocation-light way to mint guest
// registers and append instructions without hand-managing slices.
type Builder struct {
	name    string
	nextReg Register
	instrs  []Instruction
}

// NewBuilder starts a new guest IR program under construction.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// AllocReg mints a fresh guest-virtual register. Front-ends are free to use
// their own numbering instead; this is a convenience for tests and for
// front-ends that don't already track a register namespace.
func (b *Builder) AllocReg() Register {
	r := b.nextReg
	b.nextReg++
	return r
}

// Append records an instruction and returns it for chaining/inspection.
func (b *Builder) Append(i Instruction) Instruction {
	b.instrs = append(b.instrs, i)
	return i
}

// ReadGuest appends an OpReadGuest producing a fresh register of type t that
// holds the contents of guest register index.
func (b *Builder) ReadGuest(t Type, index uint32) Register {
	r := b.AllocReg()
	b.Append(Instruction{
		Op:      OpReadGuest,
		Type:    t,
		Results: []Register{r},
		Sources: []Operand{ImmU32(index)},
	})
	return r
}

// WriteGuest appends an OpWriteGuest storing value into guest register index.
func (b *Builder) WriteGuest(t Type, index uint32, value Operand) {
	b.Append(Instruction{
		Op:      OpWriteGuest,
		Type:    t,
		Sources: []Operand{ImmU32(index), value},
	})
}

// Binary appends a two-source, one-result arithmetic/bitwise instruction.
func (b *Builder) Binary(op Opcode, t Type, lhs, rhs Operand) Register {
	r := b.AllocReg()
	b.Append(Instruction{
		Op:      op,
		Type:    t,
		Results: []Register{r},
		Sources: []Operand{lhs, rhs},
	})
	return r
}

// Compare appends a comparison producing a Bool result.
func (b *Builder) Compare(op Opcode, t Type, lhs, rhs Operand) Register {
	r := b.AllocReg()
	b.Append(Instruction{
		Op:      op,
		Type:    t,
		Results: []Register{r},
		Sources: []Operand{lhs, rhs},
	})
	return r
}

// Select appends a branchless ternary: decision ? onTrue : onFalse.
func (b *Builder) Select(t Type, decision, onFalse, onTrue Operand) Register {
	r := b.AllocReg()
	b.Append(Instruction{
		Op:      OpSelect,
		Type:    t,
		Results: []Register{r},
		Sources: []Operand{decision, onFalse, onTrue},
	})
	return r
}

// Load appends a guest memory load of the given type at address.
func (b *Builder) Load(t Type, address Operand) Register {
	r := b.AllocReg()
	b.Append(Instruction{
		Op:      OpLoad,
		Type:    t,
		Results: []Register{r},
		Sources: []Operand{address},
	})
	return r
}

// Store appends a guest memory store of value at address.
func (b *Builder) Store(t Type, address, value Operand) {
	b.Append(Instruction{
		Op:      OpStore,
		Type:    t,
		Sources: []Operand{address, value},
	})
}

// ExitIf appends a conditional routine exit: when decision is truthy the
// routine returns exitValue immediately; otherwise execution continues.
func (b *Builder) ExitIf(decision Operand, exitValue uint64) {
	b.Append(Instruction{
		Op:      OpExitIf,
		Sources: []Operand{decision, Imm(I64, Constant(exitValue))},
	})
}

// Build finalizes the program.
func (b *Builder) Build() Program {
	return Program{Name: b.name, Instructions: b.instrs}
}
