package amd64

import (
	"fmt"

	"github.com/hollyjit/hollyjit/internal/backend"
	"github.com/hollyjit/hollyjit/internal/jiterr"
	"github.com/hollyjit/hollyjit/internal/rtl"
)

// x86 condition codes used by Jcc/SETcc/CMOVcc.
const (
	ccZ  = 0x4 // e/z
	ccNZ = 0x5 // ne/nz
	ccL  = 0xc
	ccLE = 0xe
	ccB  = 0x2
	ccBE = 0x6
)

// Assemble walks an already-allocated, pruned RTL program and emits x86-64
// machine code, bracketing it with the prologue/epilogue spec.md §4.5
// describes (callee-saved push/pop, spill frame, exit-value move into
// RAX). regAddr resolves READ_GUEST_REGISTER/WRITE_GUEST_REGISTER
// displacements; helpers supplies the guest_load/guest_store host
// addresses CALL_FRAMED sites call through.
func Assemble(program *rtl.Program, regAddr backend.RegisterAddressFunc, helpers Helpers) (*backend.Routine, error) {
	e := newEmitter()
	labels := make(map[rtl.Label]label)
	labelFor := func(l rtl.Label) label {
		if lbl, ok := labels[l]; ok {
			return lbl
		}
		lbl := label(len(labels))
		labels[l] = lbl
		return lbl
	}

	touchedCallee := touchedCalleeSaved(program)
	frameBytes := roundUp16(program.SpillCount * 8)

	emitPrologue(e, touchedCallee, frameBytes)

	for i := range program.Instructions {
		instr := &program.Instructions[i]
		if err := assembleOne(e, program, instr, labelFor, regAddr, helpers); err != nil {
			return nil, err
		}
	}

	emitEpilogue(e, touchedCallee, frameBytes)
	e.resolvePatches()

	return &backend.Routine{
		Code:    e.buf,
		Target:  backend.AMD64,
		Spills:  program.SpillCount,
		Touched: program.Touched[rtl.ScalarGPR],
	}, nil
}

func roundUp16(n int) int {
	return (n + 15) &^ 15
}

// touchedCalleeSaved returns the pool-allocatable callee-saved GPRs the
// allocator actually handed out (R13/R14/R15 — the only members of
// abiCalleeSaved the pool ever offers, since RBX/RBP/R12 are reserved
// frame registers pushed unconditionally).
func touchedCalleeSaved(program *rtl.Program) []int {
	var out []int
	for i := 0; i < NumGPR; i++ {
		if abiCalleeSaved&(1<<uint(i)) == 0 {
			continue
		}
		if i == guestPtrReg || i == regFileBaseReg {
			continue
		}
		if _, ok := program.Touched[rtl.ScalarGPR][i]; ok {
			out = append(out, i)
		}
	}
	return out
}

func emitPrologue(e *emitter, touchedCallee []int, frameBytes int) {
	e.push(RBP)
	e.push(guestPtrReg)
	e.push(regFileBaseReg)
	for _, r := range touchedCallee {
		e.push(r)
	}
	if len(touchedCallee)%2 == 1 {
		e.push(RAX) // alignment padding, popped symmetrically in the epilogue
	}
	// RBP is the spill base: set below every pushed register so spill slots
	// (spillDisp) land in the frame reserved below, not on a saved register.
	e.regReg(true, 0x89, RSP, RBP) // mov rbp, rsp

	// Save the volatile argument registers into the registers that hold
	// them for the routine's whole body: rdi (Guest*) -> guestPtrReg,
	// rdx (register-file base) -> regFileBaseReg.
	e.regReg(true, 0x89, RDI, guestPtrReg)
	e.regReg(true, 0x89, RDX, regFileBaseReg)

	if frameBytes > 0 {
		subRSP(e, int32(frameBytes))
	}
}

func emitEpilogue(e *emitter, touchedCallee []int, frameBytes int) {
	if frameBytes > 0 {
		addRSP(e, int32(frameBytes))
	}
	if len(touchedCallee)%2 == 1 {
		e.pop(RAX)
	}
	for i := len(touchedCallee) - 1; i >= 0; i-- {
		e.pop(touchedCallee[i])
	}
	e.pop(regFileBaseReg)
	e.pop(guestPtrReg)
	e.pop(RBP)
	e.ret()
}

func assembleOne(e *emitter, program *rtl.Program, instr *rtl.Instruction, labelFor func(rtl.Label) label, regAddr backend.RegisterAddressFunc, helpers Helpers) error {
	switch instr.Op {
	case rtl.OpNone:
		return nil
	case rtl.OpMove:
		emitMove(e, instr.Results[0], instr.Sources[0])
		return nil

	case opLabel:
		e.bindLabel(labelFor(rtl.Label(instr.Payload)))
		return nil
	case opRet:
		// The routine-wide epilogue already emits `ret`; a body-level
		// opRet is only ever the one Lower appends right before it, and
		// Assemble's own emitEpilogue supersedes it.
		return nil

	case opLoadImm32:
		dst := loadToReg(e, instr.Results[0].Hw)
		e.movImm32(dst, uint32(instr.Payload))
		storeFromReg(e, instr.Results[0].Hw, dst)
		return nil
	case opLoadImm64:
		dst := loadToReg(e, instr.Results[0].Hw)
		e.movImm64(dst, instr.Payload)
		storeFromReg(e, instr.Results[0].Hw, dst)
		return nil

	case opReadGuestRegister32, opReadGuestRegister64:
		w := instr.Op == opReadGuestRegister64
		disp := regAddr(int(instr.Payload))
		dst := instr.Results[0].Hw.Index()
		if instr.Results[0].Hw.IsSpill() {
			e.regMemBaseDisp(w, 0x8b, scratchGPR, regFileBaseReg, disp)
			storeFromReg(e, instr.Results[0].Hw, scratchGPR)
			return nil
		}
		e.regMemBaseDisp(w, 0x8b, dst, regFileBaseReg, disp)
		return nil
	case opWriteGuestRegister32, opWriteGuestRegister64:
		w := instr.Op == opWriteGuestRegister64
		disp := regAddr(int(instr.Payload))
		src := loadToReg(e, instr.Sources[0].Hw)
		e.regMemBaseDisp(w, 0x89, src, regFileBaseReg, disp)
		return nil

	case opLoadGuestMemory:
		addr := loadToReg(e, instr.Sources[0].Hw)
		snap := program.Snapshots[instr.SaveSlot]
		callFramed(e, snap, addr, nil, uint32(instr.Payload), helpers.GuestLoad)
		storeFromReg(e, instr.Results[0].Hw, RAX)
		return nil
	case opStoreGuestMemory:
		addr := loadToReg(e, instr.Sources[0].Hw)
		value := loadToRegAlt(e, instr.Sources[1].Hw, scratchGPR2)
		snap := program.Snapshots[instr.SaveSlot]
		callFramed(e, snap, addr, &value, uint32(instr.Payload), helpers.GuestStore)
		return nil

	case opAndDwordImm32:
		return emitAluImm(e, instr, false, 0x81, 4)
	case opAndByte, opAndWord, opAndDword, opAndQword:
		return emitAluRR(e, instr, widthOf(instr.Op, opAndByte), 0x21, 0x23)
	case opOrByte, opOrWord, opOrDword, opOrQword:
		return emitAluRR(e, instr, widthOf(instr.Op, opOrByte), 0x09, 0x0b)
	case opXorByte, opXorWord, opXorDword, opXorQword:
		return emitAluRR(e, instr, widthOf(instr.Op, opXorByte), 0x31, 0x33)
	case opAddByte, opAddWord, opAddDword, opAddQword:
		return emitAluRR(e, instr, widthOf(instr.Op, opAddByte), 0x01, 0x03)
	case opSubByte, opSubWord, opSubDword, opSubQword:
		return emitAluRR(e, instr, widthOf(instr.Op, opSubByte), 0x29, 0x2b)

	case opNotByte, opNotWord, opNotDword, opNotQword:
		w := widthOf(instr.Op, opNotByte) == 64
		dst := instr.Results[0].Hw
		src0 := instr.Sources[0].Hw
		dstReg := loadToReg(e, dst)
		if !sameLocation(dst, src0) {
			src0Reg := loadToReg(e, src0)
			e.regReg(w, 0x89, src0Reg, dstReg)
		}
		e.regReg(w, 0xf7, 2, dstReg)
		storeFromReg(e, dst, dstReg)
		return nil

	case opMulDword:
		// lhs is pinned to RAX by Lower and is MUL's implicit accumulator
		// operand; only rhs needs resolving into the ModRM r/m field.
		rhsReg := loadToReg(e, instr.Sources[1].Hw)
		e.regReg(false, 0xf7, 4, rhsReg)
		return nil
	case opImulWord, opImulDword, opImulQword:
		w := instr.Op == opImulQword
		dst := instr.Results[0].Hw
		src0 := instr.Sources[0].Hw
		dstReg := loadToReg(e, dst)
		if !sameLocation(dst, src0) {
			src0Reg := loadToReg(e, src0)
			e.regReg(w, 0x89, src0Reg, dstReg)
		}
		rhsReg := loadToRegAlt(e, instr.Sources[1].Hw, scratchGPR2)
		e.regRegN(w, []byte{0x0f, 0xaf}, dstReg, rhsReg)
		storeFromReg(e, dst, dstReg)
		return nil

	case opShiftrDword:
		return emitShiftCL(e, instr, 5)
	case opShiftlDword:
		return emitShiftCL(e, instr, 4)
	case opAshiftrDword:
		return emitShiftCL(e, instr, 7)
	case opShiftrDwordImm8:
		return emitShiftImm(e, instr, 5)
	case opShiftlDwordImm8:
		return emitShiftImm(e, instr, 4)
	case opAshiftrDwordImm8:
		return emitShiftImm(e, instr, 7)

	case opCmpByte, opCmpWord, opCmpDword, opCmpQword:
		w := widthOf(instr.Op, opCmpByte) == 64
		lhs := loadToReg(e, instr.Sources[0].Hw)
		rhs := loadToRegAlt(e, instr.Sources[1].Hw, scratchGPR2)
		e.regReg(w, 0x39, rhs, lhs)
		return nil

	case opSetnz, opSetz, opSetl, opSetle, opSetb, opSetbe:
		cc := setccCondition(instr.Op)
		dst := loadToReg(e, instr.Results[0].Hw)
		e.regRegN(false, []byte{0x0f, 0x90 | cc}, 0, dst)
		// SETcc only ever writes the low byte; zero-extend it so the whole
		// DWORD is 0/1, since opTestByte's TEST and a guest register write
		// both read the full register.
		e.regRegN(false, []byte{0x0f, 0xb6}, dst, dst) // movzx dst32, dst8
		storeFromReg(e, instr.Results[0].Hw, dst)
		return nil

	case opCmovnzDword, opCmovzDword, opCmovnzQword:
		cc := ccNZ
		if instr.Op == opCmovzDword {
			cc = ccZ
		}
		w := instr.Op == opCmovnzQword
		dst := loadToReg(e, instr.Results[0].Hw)
		if !sameLocation(instr.Results[0].Hw, instr.Sources[0].Hw) {
			src0Reg := loadToReg(e, instr.Sources[0].Hw)
			e.regReg(w, 0x89, src0Reg, dst) // mov dst, src0 (MOV leaves flags intact)
		}
		src := loadToRegAlt(e, instr.Sources[1].Hw, scratchGPR2)
		e.regRegN(w, []byte{0x0f, 0x40 | byte(cc)}, dst, src)
		storeFromReg(e, instr.Results[0].Hw, dst)
		return nil

	case opTestByte:
		reg := loadToReg(e, instr.Sources[0].Hw)
		w := instr.Sources[0].Reg.Type() == rtl.QWORD
		e.regReg(w, 0x85, reg, reg)
		return nil

	case opMovByte, opMovWord, opMovDword, opMovQword:
		emitMove(e, instr.Results[0], instr.Sources[0])
		return nil

	case opJmp:
		e.jmpRel32(labelFor(rtl.Label(instr.Payload)))
		return nil
	case opJnz:
		e.jccRel32(ccNZ, labelFor(rtl.Label(instr.Payload)))
		return nil

	default:
		jiterr.Raisef("amd64.Assemble", "no encoding for RTL opcode %d", instr.Op)
		return nil
	}
}

// widthOf maps a per-size opcode onto its operand width in bits, using its
// offset from the family's BYTE variant (each family is declared
// byte/word/dword/qword in that order in opcodes.go).
func widthOf(op, byteVariant rtl.Opcode) int {
	switch op - byteVariant {
	case 0:
		return 8
	case 1:
		return 16
	case 2:
		return 32
	default:
		return 64
	}
}

func setccCondition(op rtl.Opcode) byte {
	switch op {
	case opSetz:
		return ccZ
	case opSetnz:
		return ccNZ
	case opSetl:
		return ccL
	case opSetle:
		return ccLE
	case opSetb:
		return ccB
	case opSetbe:
		return ccBE
	default:
		jiterr.Raisef("amd64.setccCondition", "opcode %d is not a SETcc variant", op)
		return 0
	}
}

// emitAluRR encodes a Destructive two-operand ALU instruction. Prepare and
// the allocator's coalescing are expected to have already merged result
// and source0 into the same hardware location the common case; when they
// didn't, a reconciling mov brings source0's value into the result's
// location first (spec.md §4.5's operand-mode reconciliation, case (c):
// the destination doesn't yet hold what source0 holds).
// opcodeMR (the R,R/M direction) is accepted for symmetry with the
// instruction family's table shape but never used: every operand this
// back-end's ALU ops touch is already resolved into a real register by
// loadToReg before encoding, so the R/M-as-destination form (opcodeRM) is
// always sufficient.
func emitAluRR(e *emitter, instr *rtl.Instruction, widthBits int, opcodeRM, opcodeMR byte) error {
	w := widthBits == 64
	dst := instr.Results[0].Hw
	src0 := instr.Sources[0].Hw
	src1 := instr.Sources[1].Hw

	dstReg := loadToReg(e, dst)
	if !sameLocation(dst, src0) {
		src0Reg := loadToReg(e, src0)
		e.regReg(w, 0x89, src0Reg, dstReg) // mov dst, src0
	}
	src1Reg := loadToRegAlt(e, src1, scratchGPR2)
	e.regReg(w, opcodeRM, src1Reg, dstReg) // op dst, src1 (dst is r/m, src1 is reg... )
	storeFromReg(e, dst, dstReg)
	return nil
}

func emitAluImm(e *emitter, instr *rtl.Instruction, w bool, opcode byte, ext int) error {
	dst := instr.Results[0].Hw
	src0 := instr.Sources[0].Hw
	dstReg := loadToReg(e, dst)
	if !sameLocation(dst, src0) {
		src0Reg := loadToReg(e, src0)
		e.regReg(w, 0x89, src0Reg, dstReg)
	}
	e.byte(rex(w, false, false, dstReg >= 8))
	e.byte(opcode)
	e.byte(modrm(3, byte(ext), byte(dstReg)))
	e.u32(uint32(instr.Payload))
	storeFromReg(e, dst, dstReg)
	return nil
}

func emitShiftCL(e *emitter, instr *rtl.Instruction, ext int) error {
	dst := instr.Results[0].Hw
	src0 := instr.Sources[0].Hw
	dstReg := loadToReg(e, dst)
	if !sameLocation(dst, src0) {
		src0Reg := loadToReg(e, src0)
		e.regReg(false, 0x89, src0Reg, dstReg)
	}
	// Source 1 is pinned to RCX by Lower; SHL/SHR/SAR r/m,CL always reads
	// the low byte of RCX regardless, so no explicit load is needed here.
	e.byte(rex(false, false, false, dstReg >= 8))
	e.byte(0xd3)
	e.byte(modrm(3, byte(ext), byte(dstReg)))
	storeFromReg(e, dst, dstReg)
	return nil
}

func emitShiftImm(e *emitter, instr *rtl.Instruction, ext int) error {
	dst := instr.Results[0].Hw
	src0 := instr.Sources[0].Hw
	dstReg := loadToReg(e, dst)
	if !sameLocation(dst, src0) {
		src0Reg := loadToReg(e, src0)
		e.regReg(false, 0x89, src0Reg, dstReg)
	}
	e.byte(rex(false, false, false, dstReg >= 8))
	e.byte(0xc1)
	e.byte(modrm(3, byte(ext), byte(dstReg)))
	e.byte(byte(instr.Payload))
	storeFromReg(e, dst, dstReg)
	return nil
}

// emitMove copies src into dst, routing through scratchGPR when either
// side is a spill slot (a register/memory ISA never allows mem-to-mem).
func emitMove(e *emitter, dst, src rtl.Operand) {
	w := dst.Reg.Type() == rtl.QWORD
	if sameLocation(dst.Hw, src.Hw) {
		return
	}
	if !dst.Hw.IsSpill() && !src.Hw.IsSpill() {
		e.regReg(w, 0x89, src.Hw.Index(), dst.Hw.Index())
		return
	}
	srcReg := loadToReg(e, src.Hw)
	storeFromReg(e, dst.Hw, srcReg)
}

func sameLocation(a, b rtl.HwRegister) bool {
	return a.Type() == b.Type() && a.Index() == b.Index() && a.Assigned() == b.Assigned()
}
