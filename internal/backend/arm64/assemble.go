package arm64

import (
	"github.com/hollyjit/hollyjit/internal/backend"
	"github.com/hollyjit/hollyjit/internal/jiterr"
	"github.com/hollyjit/hollyjit/internal/rtl"
)

// AArch64 condition-field encodings used by B.cond/CSEL/CSET.
const (
	condEQ = 0x0
	condNE = 0x1
	condLT = 0xb
	condLE = 0xd
	condLO = 0x3
	condLS = 0x9
)

// Assemble is the AArch64 counterpart of amd64.Assemble: same two-pass
// shape (emit with placeholder branch immediates, then resolvePatches),
// same prologue/epilogue bracketing (though no spill frame is reserved;
// see emitPrologue), but no operand-mode
// reconciliation anywhere in assembleOne — every RTL opcode this back-end
// lowers into already names Rd/Rn/Rm independently, so there is nothing
// to reconcile before encoding.
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
		Target:  backend.ARM64,
		Spills:  program.SpillCount,
		Touched: program.Touched[rtl.ScalarGPR],
	}, nil
}

func roundUp16(n int) int {
	return (n + 15) &^ 15
}

// touchedCalleeSaved returns the pool-allocatable callee-saved GPRs the
// allocator actually handed out (X21-X28 — the members of abiCalleeSaved
// the pool offers once FP/LR/guestPtrReg/regFileBaseReg are excluded from
// it, mirroring amd64's touchedCalleeSaved).
func touchedCalleeSaved(program *rtl.Program) []int {
	var out []int
	for i := 0; i < NumGPR; i++ {
		if abiCalleeSaved&(1<<uint(i)) == 0 {
			continue
		}
		if i == guestPtrReg || i == regFileBaseReg || i == FP || i == LR {
			continue
		}
		if _, ok := program.Touched[rtl.ScalarGPR][i]; ok {
			out = append(out, i)
		}
	}
	return out
}

// emitPrologue pushes FP/LR first, AAPCS64's usual frame-record order, but
// deliberately never materializes `mov fp, sp`: nothing in this back-end
// addresses a spill slot relative to FP in practice (see spillDisp's doc
// comment — the pool is sized to avoid spilling), so FP here is carried
// purely as a pushed/popped callee-saved register bracketing the frame,
// not a live frame-pointer base the way amd64's RBP is.
func emitPrologue(e *emitter, touchedCallee []int, frameBytes int) {
	_ = frameBytes // no spill ever reaches the frame; see spillDisp's doc comment
	e.push(FP)
	e.push(LR)
	e.push(guestPtrReg)
	e.push(regFileBaseReg)
	for _, r := range touchedCallee {
		e.push(r)
	}

	// Save the routine's first and third AAPCS64 arguments (X0: Guest*,
	// X2: register-file base — AAPCS64 passes them in the normal integer
	// argument registers, unlike amd64's System V rdi/rdx split) into the
	// registers that hold them for the whole routine body.
	e.logical(true, logOrr, false, guestPtrReg, xzrReg, X0)
	e.logical(true, logOrr, false, regFileBaseReg, xzrReg, X2)
}

func emitEpilogue(e *emitter, touchedCallee []int, frameBytes int) {
	_ = frameBytes
	for i := len(touchedCallee) - 1; i >= 0; i-- {
		e.pop(touchedCallee[i])
	}
	e.pop(regFileBaseReg)
	e.pop(guestPtrReg)
	e.pop(LR)
	e.pop(FP)
	e.ret(LR)
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
		// The routine-wide epilogue already emits `ret`; see amd64's
		// matching case for why this no-ops here too.
		return nil

	case opLoadImm32, opLoadImm64:
		sf := instr.Op == opLoadImm64
		dst := loadToReg(e, instr.Results[0].Hw, sf)
		e.movWideImm64(dst, instr.Payload)
		storeFromReg(e, instr.Results[0].Hw, dst, sf)
		return nil

	// Guest register-file offsets are assumed to fit LDUR/STUR's 9-bit
	// signed byte range off regFileBaseReg, the same ±256-byte scoping
	// limitation abi.go's spillDisp doc comment records for spill slots —
	// a register file bigger than that needs a scaled LDR/STR-immediate
	// encoder this back-end doesn't carry.
	case opReadGuestRegister32, opReadGuestRegister64:
		sf := instr.Op == opReadGuestRegister64
		disp := regAddr(int(instr.Payload))
		dst := loadToReg(e, instr.Results[0].Hw, sf)
		e.ldrStrImm(sf, 1, 0, dst, regFileBaseReg, disp)
		storeFromReg(e, instr.Results[0].Hw, dst, sf)
		return nil
	case opWriteGuestRegister32, opWriteGuestRegister64:
		sf := instr.Op == opWriteGuestRegister64
		disp := regAddr(int(instr.Payload))
		src := loadToReg(e, instr.Sources[0].Hw, sf)
		e.ldrStrImm(sf, 0, 0, src, regFileBaseReg, disp)
		return nil

	case opLoadGuestMemory:
		addr := loadToReg(e, instr.Sources[0].Hw, true)
		snap := program.Snapshots[instr.SaveSlot]
		callFramed(e, snap, addr, nil, uint32(instr.Payload), helpers.GuestLoad)
		sf := regSize(instr.Results[0].Reg.Type()) == 8
		storeFromReg(e, instr.Results[0].Hw, X0, sf)
		return nil
	case opStoreGuestMemory:
		addr := loadToReg(e, instr.Sources[0].Hw, true)
		sf := regSize(instr.Sources[1].Reg.Type()) == 8
		value := loadToRegAlt(e, instr.Sources[1].Hw, sf, scratchGPR2)
		snap := program.Snapshots[instr.SaveSlot]
		callFramed(e, snap, addr, &value, uint32(instr.Payload), helpers.GuestStore)
		return nil

	case opAddDword, opAddQword:
		return emitAluRRR(e, instr, instr.Op == opAddQword, func(sf bool, rd, rn, rm int) {
			e.addSub(sf, false, false, rd, rn, rm)
		})
	case opSubDword, opSubQword:
		return emitAluRRR(e, instr, instr.Op == opSubQword, func(sf bool, rd, rn, rm int) {
			e.addSub(sf, true, false, rd, rn, rm)
		})
	case opAndDword, opAndQword:
		return emitAluRRR(e, instr, instr.Op == opAndQword, func(sf bool, rd, rn, rm int) {
			e.logical(sf, logAnd, false, rd, rn, rm)
		})
	case opOrDword, opOrQword:
		return emitAluRRR(e, instr, instr.Op == opOrQword, func(sf bool, rd, rn, rm int) {
			e.logical(sf, logOrr, false, rd, rn, rm)
		})
	case opXorDword, opXorQword:
		return emitAluRRR(e, instr, instr.Op == opXorQword, func(sf bool, rd, rn, rm int) {
			e.logical(sf, logEor, false, rd, rn, rm)
		})

	case opNotDword, opNotQword:
		sf := instr.Op == opNotQword
		dst := loadToReg(e, instr.Results[0].Hw, sf)
		src := loadToReg(e, instr.Sources[0].Hw, sf)
		e.logical(sf, logOrr, true, dst, xzrReg, src) // orn rd, xzr, rm == mvn rd, rm
		storeFromReg(e, instr.Results[0].Hw, dst, sf)
		return nil

	case opMulDword, opMulQword:
		sf := instr.Op == opMulQword
		dst := loadToReg(e, instr.Results[0].Hw, sf)
		lhs := loadToReg(e, instr.Sources[0].Hw, sf)
		rhs := loadToRegAlt(e, instr.Sources[1].Hw, sf, scratchGPR2)
		e.madd(sf, dst, lhs, rhs, xzrReg)
		storeFromReg(e, instr.Results[0].Hw, dst, sf)
		return nil

	case opShiftlDword:
		return emitShiftReg(e, instr, 0b001000)
	case opShiftrDword:
		return emitShiftReg(e, instr, 0b001001)
	case opAshiftrDword:
		return emitShiftReg(e, instr, 0b001010)

	case opCmpDword, opCmpQword:
		sf := instr.Op == opCmpQword
		lhs := loadToReg(e, instr.Sources[0].Hw, sf)
		rhs := loadToRegAlt(e, instr.Sources[1].Hw, sf, scratchGPR2)
		e.addSub(sf, true, true, xzrReg /* discard into wzr/xzr */, lhs, rhs)
		return nil

	case opCsetEq, opCsetLt, opCsetLe, opCsetLo, opCsetLs:
		cond := csetCondition(instr.Op)
		dst := loadToReg(e, instr.Results[0].Hw, false)
		// CSET Rd, cond is the CSINC Rd, XZR, XZR, invert(cond) alias.
		e.csel(false, 0b01, dst, xzrReg, xzrReg, cond^1)
		storeFromReg(e, instr.Results[0].Hw, dst, false)
		return nil

	case opCselNeDword, opCselNeQword:
		sf := instr.Op == opCselNeQword
		dst := loadToReg(e, instr.Results[0].Hw, sf)
		onTrue := loadToReg(e, instr.Sources[0].Hw, sf)
		onFalse := loadToRegAlt(e, instr.Sources[1].Hw, sf, scratchGPR2)
		e.csel(sf, 0b00, dst, onTrue, onFalse, condNE)
		storeFromReg(e, instr.Results[0].Hw, dst, sf)
		return nil

	case opTestDword:
		reg := loadToReg(e, instr.Sources[0].Hw, false)
		e.logical(false, logAnds, false, xzrReg, reg, reg) // ands wzr, reg, reg == tst reg, reg
		return nil

	case opMovDword, opMovQword:
		emitMove(e, instr.Results[0], instr.Sources[0])
		return nil

	case opB:
		e.b(labelFor(rtl.Label(instr.Payload)))
		return nil
	case opBNE:
		e.bCond(condNE, labelFor(rtl.Label(instr.Payload)))
		return nil

	default:
		jiterr.Raisef("arm64.Assemble", "no encoding for RTL opcode %d", instr.Op)
		return nil
	}
}

// xzrReg is the 5-bit zero-register encoding shared by every instruction
// family in encoder.go that takes a general register operand.
const xzrReg = 31

func csetCondition(op rtl.Opcode) uint32 {
	switch op {
	case opCsetEq:
		return condEQ
	case opCsetLt:
		return condLT
	case opCsetLe:
		return condLE
	case opCsetLo:
		return condLO
	case opCsetLs:
		return condLS
	default:
		jiterr.Raisef("arm64.csetCondition", "opcode %d is not a CSET variant", op)
		return 0
	}
}

// emitAluRRR encodes a non-destructive three-operand ALU instruction:
// result, source0 and source1 are each loaded independently and the
// encoder writes directly into the result's register — there is no
// reconciling mov here, unlike amd64's emitAluRR, because AArch64 never
// requires the destination to already alias a source.
func emitAluRRR(e *emitter, instr *rtl.Instruction, sf bool, emit func(sf bool, rd, rn, rm int)) error {
	dst := loadToReg(e, instr.Results[0].Hw, sf)
	lhs := loadToReg(e, instr.Sources[0].Hw, sf)
	rhs := loadToRegAlt(e, instr.Sources[1].Hw, sf, scratchGPR2)
	emit(sf, dst, lhs, rhs)
	storeFromReg(e, instr.Results[0].Hw, dst, sf)
	return nil
}

func emitShiftReg(e *emitter, instr *rtl.Instruction, op2 uint32) error {
	sf := instr.Results[0].Reg.Type() == rtl.QWORD
	dst := loadToReg(e, instr.Results[0].Hw, sf)
	lhs := loadToReg(e, instr.Sources[0].Hw, sf)
	rhs := loadToRegAlt(e, instr.Sources[1].Hw, sf, scratchGPR2)
	e.shiftVariable(sf, op2, dst, lhs, rhs)
	storeFromReg(e, instr.Results[0].Hw, dst, sf)
	return nil
}

// emitMove copies src into dst, routing through scratchGPR when either
// side is a spill slot, mirroring amd64's emitMove.
func emitMove(e *emitter, dst, src rtl.Operand) {
	sf := dst.Reg.Type() == rtl.QWORD
	if sameLocation(dst.Hw, src.Hw) {
		return
	}
	if !dst.Hw.IsSpill() && !src.Hw.IsSpill() {
		e.logical(sf, logOrr, false, dst.Hw.Index(), xzrReg, src.Hw.Index())
		return
	}
	srcReg := loadToReg(e, src.Hw, sf)
	storeFromReg(e, dst.Hw, srcReg, sf)
}

func sameLocation(a, b rtl.HwRegister) bool {
	return a.Type() == b.Type() && a.Index() == b.Index() && a.Assigned() == b.Assigned()
}
