package amd64

import "encoding/binary"

// emitter accumulates machine code bytes and the branch-displacement patch
// list spec.md §4.5's "Branches and labels" describes: a first pass emits
// each branch with a placeholder 32-bit displacement and records its byte
// offset, a second pass walks the list and writes the resolved signed
// displacement in place.
type emitter struct {
	buf          []byte
	labelOffsets map[label]int
	patches      []patch
}

// label is the emitter's own notion of a bound branch target; amd64's
// lowering/assembly keep this distinct from rtl.Label so the emitter never
// needs to import the allocator-facing program model.
type label uint32

type patch struct {
	pos   int
	label label
}

func newEmitter() *emitter {
	return &emitter{labelOffsets: make(map[label]int)}
}

func (e *emitter) byte(b byte) {
	e.buf = append(e.buf, b)
}

func (e *emitter) bytes(bs ...byte) {
	e.buf = append(e.buf, bs...)
}

func (e *emitter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *emitter) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *emitter) offset() int {
	return len(e.buf)
}

func (e *emitter) bindLabel(l label) {
	e.labelOffsets[l] = e.offset()
}

// disp32Patch reserves a placeholder 32-bit displacement and records a
// patch entry to resolve it once every label is bound.
func (e *emitter) disp32Patch(l label) {
	e.patches = append(e.patches, patch{pos: e.offset(), label: l})
	e.u32(0)
}

// resolvePatches writes every recorded branch displacement as
// target_label_offset - (patch_offset + 4), matching spec.md §8 scenario 6.
func (e *emitter) resolvePatches() {
	for _, p := range e.patches {
		target, ok := e.labelOffsets[p.label]
		if !ok {
			continue
		}
		disp := int32(target - (p.pos + 4))
		binary.LittleEndian.PutUint32(e.buf[p.pos:p.pos+4], uint32(disp))
	}
}

// rex builds a REX prefix. The emitter always issues one (even when every
// bit is clear) rather than only when an extended register or 64-bit
// operand demands it: a bare 0x40 prefix is legal on every instruction
// that accepts REX and forces BYTE operands onto SPL/BPL/SIL/DIL instead of
// AH/CH/DH/BH, which is exactly what this back-end's uniform GPR numbering
// (registers.go) assumes. This trades a handful of redundant prefix bytes
// for one code path instead of two.
func rex(w, r, x, b bool) byte {
	const base = 0x40
	v := byte(base)
	if w {
		v |= 1 << 3
	}
	if r {
		v |= 1 << 2
	}
	if x {
		v |= 1 << 1
	}
	if b {
		v |= 1 << 0
	}
	return v
}

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | (rm & 7)
}

// regReg emits a REX-prefixed opcode byte followed by a register-direct
// ModRM byte (mod=11). reg is the ModRM.reg field (often an opcode
// extension for single-operand forms), rm is the ModRM.rm field.
func (e *emitter) regReg(w bool, opcode byte, reg, rm int) {
	e.byte(rex(w, reg >= 8, false, rm >= 8))
	e.byte(opcode)
	e.byte(modrm(3, byte(reg), byte(rm)))
}

// regRegN is regReg for a multi-byte opcode sequence (e.g. the 0x0F
// two-byte opcode map SETcc/CMOVcc use).
func (e *emitter) regRegN(w bool, opcode []byte, reg, rm int) {
	e.byte(rex(w, reg >= 8, false, rm >= 8))
	e.bytes(opcode...)
	e.byte(modrm(3, byte(reg), byte(rm)))
}

// regMemBaseDisp emits reg, [base + disp32] using a SIB byte unconditionally
// (scale=0, index=none) so the same encoding works regardless of which GPR
// is the base register — RSP and R12 normally require SIB as the base of a
// ModRM memory operand, and this back-end's spill/register-file bases are
// fixed registers chosen without regard to that restriction, so always
// emitting the SIB byte sidesteps the special case entirely.
func (e *emitter) regMemBaseDisp(w bool, opcode byte, reg, base int, disp int32) {
	e.byte(rex(w, reg >= 8, false, base >= 8))
	e.byte(opcode)
	e.byte(modrm(2, byte(reg), 4)) // rm=100b: SIB follows
	e.byte((0 << 6) | (4 << 3) | byte(base&7))
	e.u32(uint32(disp))
}

func (e *emitter) push(r int) {
	e.byte(rex(false, false, false, r >= 8))
	e.byte(0x50 + byte(r&7))
}

func (e *emitter) pop(r int) {
	e.byte(rex(false, false, false, r >= 8))
	e.byte(0x58 + byte(r&7))
}

func (e *emitter) ret() {
	e.byte(0xc3)
}

// movImm64 emits `mov r64, imm64` (opcode 0xB8+r, REX.W).
func (e *emitter) movImm64(r int, imm uint64) {
	e.byte(rex(true, false, false, r >= 8))
	e.byte(0xb8 + byte(r&7))
	e.u64(imm)
}

// movImm32 emits `mov r32, imm32` (opcode 0xB8+r, zero-extended to 64 bits
// by the processor).
func (e *emitter) movImm32(r int, imm uint32) {
	e.byte(rex(false, false, false, r >= 8))
	e.byte(0xb8 + byte(r&7))
	e.u32(imm)
}

// movRegImm32Sext emits `mov r/m32, imm32` (opcode 0xC7 /0) sign-extended
// into a 64-bit destination when w is set, used for the guest memory byte
// count constants CALL_FRAMED marshals.
func (e *emitter) movRegImm32Sext(w bool, r int, imm uint32) {
	e.byte(rex(w, false, false, r >= 8))
	e.byte(0xc7)
	e.byte(modrm(3, 0, byte(r)))
	e.u32(imm)
}

// callReg emits `call r64` (opcode 0xFF /2).
func (e *emitter) callReg(r int) {
	e.byte(rex(false, false, false, r >= 8))
	e.byte(0xff)
	e.byte(modrm(3, 2, byte(r)))
}

// jmpRel32/jccRel32 reserve a placeholder displacement and record a patch.
func (e *emitter) jmpRel32(l label) {
	e.byte(0xe9)
	e.disp32Patch(l)
}

// cc is one of the x86 condition codes used by Jcc/SETcc/CMOVcc (0x4 = e/z,
// 0x5 = ne/nz, 0xc = l, 0xe = le, 0x2 = b, 0x6 = be).
func (e *emitter) jccRel32(cc byte, l label) {
	e.byte(0x0f)
	e.byte(0x80 | cc)
	e.disp32Patch(l)
}
