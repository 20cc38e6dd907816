package arm64

import "github.com/hollyjit/hollyjit/internal/rtl"

// Helpers holds the absolute host addresses of the two fixed-signature
// guest memory functions spec.md §6 defines, exactly as amd64.Helpers does.
type Helpers struct {
	GuestLoad  uintptr
	GuestStore uintptr
}

// spillDisp converts a spill slot index into its FP-relative byte
// displacement, the AArch64 analogue of amd64's spillDisp. Grounded on the
// same decision recorded in DESIGN.md: the AArch64 pool is sized so a
// spill never actually happens, so spillDisp exists for API symmetry with
// the shared regalloc pipeline rather than ever being exercised, and its
// ±256-byte LDUR/STUR range (see ldrStrImm) is never a real constraint in
// practice as a result.
func spillDisp(slot int) int32 {
	return -8 * int32(slot+1)
}

// loadToReg ensures hw's value is available in a real GPR, loading through
// scratchGPR if hw is (in principle) a spill slot, mirroring amd64's
// loadToReg.
func loadToReg(e *emitter, hw rtl.HwRegister, sf bool) int {
	if hw.IsSpill() {
		opc := uint32(1)
		e.ldrStrImm(sf, opc, 0, scratchGPR, FP, spillDisp(hw.Index()))
		return scratchGPR
	}
	return hw.Index()
}

func loadToRegAlt(e *emitter, hw rtl.HwRegister, sf bool, scratch int) int {
	if hw.IsSpill() {
		opc := uint32(1)
		e.ldrStrImm(sf, opc, 0, scratch, FP, spillDisp(hw.Index()))
		return scratch
	}
	return hw.Index()
}

func storeFromReg(e *emitter, hw rtl.HwRegister, src int, sf bool) {
	if hw.IsSpill() {
		e.ldrStrImm(sf, 0, 0, src, FP, spillDisp(hw.Index()))
	}
}

// callerSavedToSave mirrors amd64's: the caller-saved GPRs/vectors a
// CALL_FRAMED site must preserve across the helper call, per the snapshot
// taken at the SaveState point.
func callerSavedToSave(snapshot rtl.RegisterSnapshot) (gprs []int, vecs []int) {
	for i := 0; i < NumGPR; i++ {
		if i == scratchGPR || i == scratchGPR2 || i == guestPtrReg || i == regFileBaseReg {
			continue
		}
		if abiCallerSaved&(1<<uint(i)) == 0 {
			continue
		}
		if snapshot.IsAllocated(rtl.Hw(rtl.ScalarGPR, i)) {
			gprs = append(gprs, i)
		}
	}
	for i := 0; i < NumVector; i++ {
		if i == vecScratch {
			continue
		}
		if snapshot.IsAllocated(rtl.Hw(rtl.VectorReg, i)) {
			vecs = append(vecs, i)
		}
	}
	return gprs, vecs
}

// push/pop move one 8-byte GPR to/from the stack via pre/post-indexed
// LDR/STR, one register at a time with a 16-byte step — grounded verbatim
// on arm64_compiler.cpp's PUSH_GPRS/POP_GPRS (STR_pre(Xi, SP, -16) /
// LDR_post(Xi, SP, 16)), which keeps SP 16-byte aligned at every push even
// though it wastes 8 bytes per register rather than packing pairs with
// STP/LDP.
func (e *emitter) push(r int) {
	e.ldrStrImm(true, 0, 0b11, r, SP, -16)
}

func (e *emitter) pop(r int) {
	e.ldrStrImm(true, 1, 0b01, r, SP, 16)
}

// callFramed emits the out-of-line call sequence CALL_FRAMED performs:
// save every caller-saved register live per snapshot, marshal arguments
// into X0-X3 per AAPCS64, call the helper through scratchGPR, and restore
// in reverse order. value is nil for a load. Returns nothing; the result
// (for a load) lands in X0 per AAPCS64's return-value register.
func callFramed(e *emitter, snapshot rtl.RegisterSnapshot, addr int, value *int, byteCount uint32, helper uintptr) {
	gprs, vecs := callerSavedToSave(snapshot)

	for _, r := range gprs {
		e.push(r)
	}
	for _, r := range vecs {
		// Vector registers are saved with the same pre-indexed encoding
		// plus the SIMD&FP bit (STR Dn), i.e. their low 64-bit lane —
		// scoped down from amd64's MOVUPS 128-bit save since this
		// back-end's vector usage never exceeds a double-word lane (see
		// registers.go's regSize).
		e.ldrStrImm(true, 0, 0b11, r, SP, -16)
		e.buf[len(e.buf)-1] |= 1 << 2 // bit 26 (V=1): D-register form
	}

	// Stage the call's own arguments through the stack immediately before
	// marshaling into X0-X3 per AAPCS64, exactly like amd64's callFramed:
	// addr/value may already alias an argument register (e.g. value
	// already living in x1), so a direct register-to-register mov risks
	// clobbering a source before it's read. push captures the exact value
	// first regardless of what's written into x0-x3 afterward.
	haveValue := value != nil
	e.push(addr)
	if haveValue {
		e.push(*value)
	}

	const xzr = 31
	if haveValue {
		e.pop(X3) // value argument
		e.pop(X1) // address argument
	} else {
		e.pop(X1) // address argument
	}
	e.movWide(2, false, X2, uint16(byteCount), 0)        // w2 := byte count
	e.logical(true, logOrr, false, X0, xzr, guestPtrReg) // mov x0, guestPtrReg

	e.movWideImm64(scratchGPR, uint64(helper))
	e.blr(scratchGPR)

	for i := len(vecs) - 1; i >= 0; i-- {
		e.ldrStrImm(true, 1, 0b01, vecs[i], SP, 16)
		e.buf[len(e.buf)-1] |= 1 << 2 // bit 26 (V=1): LDR Dn
	}
	for i := len(gprs) - 1; i >= 0; i-- {
		e.pop(gprs[i])
	}
}

// movWideImm64 materializes an arbitrary 64-bit host address into rd via
// MOVZ + up to three MOVK, exactly like amd64.movImm64's single
// instruction but split across A64's 16-bit-immediate move family.
func (e *emitter) movWideImm64(rd int, imm uint64) {
	e.movWide(2, true, rd, uint16(imm), 0)
	if imm>>16 != 0 {
		e.movWide(3, true, rd, uint16(imm>>16), 16)
	}
	if imm>>32 != 0 {
		e.movWide(3, true, rd, uint16(imm>>32), 32)
	}
	if imm>>48 != 0 {
		e.movWide(3, true, rd, uint16(imm>>48), 48)
	}
}
