// Package rtl implements the target-independent Register Transfer List
// program representation: a single-extended-basic-block SSA form with
// explicit register-allocation constraints, sitting between a back-end's
// guest IR lowering and its machine code emitter.
package rtl

import "fmt"

// RegType is the native size/kind a Register carries.
type RegType uint8

const (
	RegTypeInvalid RegType = iota
	BYTE
	WORD
	DWORD
	QWORD
	VECSS
	VECSD
	VECPS
	VECPD
)

// String implements fmt.Stringer.
func (t RegType) String() string {
	switch t {
	case BYTE:
		return "byte"
	case WORD:
		return "word"
	case DWORD:
		return "dword"
	case QWORD:
		return "qword"
	case VECSS:
		return "vecss"
	case VECSD:
		return "vecsd"
	case VECPS:
		return "vecps"
	case VECPD:
		return "vecpd"
	default:
		return "invalid"
	}
}

// IsVector reports whether values of this type live in the vector register
// file rather than the scalar GPR file.
func (t RegType) IsVector() bool {
	return t == VECSS || t == VECSD || t == VECPS || t == VECPD
}

// invalidSSA marks a Register as a placeholder (no SSA identity), used for
// operands that exist purely to express a hardware-register constraint.
const invalidSSA = ^uint32(0)

// Register is a typed SSA name. The zero value is not valid; use NullReg or
// SSA to construct one.
type Register struct {
	id  uint32
	typ RegType
}

// SSA constructs a valid SSA register reference.
func SSA(id uint32, t RegType) Register {
	return Register{id: id, typ: t}
}

// NullReg constructs a placeholder register of type t that carries no SSA
// identity. Used to pin a hardware register at a call site without naming a
// value.
func NullReg(t RegType) Register {
	return Register{id: invalidSSA, typ: t}
}

// Valid reports whether this register carries an SSA index.
func (r Register) Valid() bool {
	return r.id != invalidSSA
}

// ID returns the SSA index. Only meaningful if Valid().
func (r Register) ID() uint32 {
	return r.id
}

// Type returns the register's native size/kind.
func (r Register) Type() RegType {
	return r.typ
}

// String implements fmt.Stringer.
func (r Register) String() string {
	if !r.Valid() {
		return fmt.Sprintf("null:%s", r.typ)
	}
	return fmt.Sprintf("v%d:%s", r.id, r.typ)
}

// HwType partitions the hardware register namespace. Indices are not
// distinct across types: GPR 0 and Vector 0 name different registers.
type HwType uint8

const (
	ScalarGPR HwType = iota
	VectorReg
	Spill
	NumHwTypes
)

// String implements fmt.Stringer.
func (t HwType) String() string {
	switch t {
	case ScalarGPR:
		return "gpr"
	case VectorReg:
		return "vec"
	case Spill:
		return "spill"
	default:
		return "invalid"
	}
}

const unassignedIndex = -1

// HwRegister is a concrete hardware location: a register number of a given
// type, a spill-slot index (also modeled as a Spill-typed index), or
// unassigned.
type HwRegister struct {
	typ   HwType
	index int32
}

// Hw constructs an assigned hardware register.
func Hw(t HwType, index int) HwRegister {
	return HwRegister{typ: t, index: int32(index)}
}

// UnassignedHw constructs a not-yet-assigned hardware slot of a given type;
// used before allocation runs, or for the "any free register of type T"
// request.
func UnassignedHw(t HwType) HwRegister {
	return HwRegister{typ: t, index: unassignedIndex}
}

// Assigned reports whether a concrete register/slot has been chosen.
func (h HwRegister) Assigned() bool {
	return h.index != unassignedIndex
}

// Type returns the hardware register class.
func (h HwRegister) Type() HwType {
	return h.typ
}

// Index returns the concrete register number or spill slot index. Only
// meaningful if Assigned().
func (h HwRegister) Index() int {
	return int(h.index)
}

// IsSpill reports whether this assignment is to spill memory.
func (h HwRegister) IsSpill() bool {
	return h.typ == Spill
}

// String implements fmt.Stringer.
func (h HwRegister) String() string {
	if !h.Assigned() {
		return fmt.Sprintf("%s:unassigned", h.typ)
	}
	return fmt.Sprintf("%s:%d", h.typ, h.index)
}

// HwTypeForReg maps an SSA register's native type to the hardware register
// class it must be assigned from.
func HwTypeForReg(t RegType) HwType {
	if t.IsVector() {
		return VectorReg
	}
	return ScalarGPR
}
