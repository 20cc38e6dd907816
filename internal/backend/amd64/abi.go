package amd64

import "github.com/hollyjit/hollyjit/internal/rtl"

// Helpers holds the absolute host addresses of the two fixed-signature
// guest memory functions spec.md §6 defines:
//
//	Constant guest_load(Guest*, u32 address, size_t bytes)
//	void     guest_store(Guest*, u32 address, size_t bytes, Constant value)
//
// The emitter loads each address into scratchGPR immediately before the
// call rather than baking it into the instruction stream as a direct
// relative call, since the routine buffer and the helper function may end
// up arbitrarily far apart in the host address space.
type Helpers struct {
	GuestLoad  uintptr
	GuestStore uintptr
}

// spillDisp converts a spill slot index into its RBP-relative byte
// displacement. The prologue points RBP at the last register it pushes,
// so slot 0 (rbp-8) sits at the top of the reserved spill frame; each later
// slot is one qword further down, matching the stack's downward growth.
func spillDisp(slot int) int32 {
	return -8 * int32(slot+1)
}

// loadToReg ensures hw's value is available in a real GPR, spilling
// through scratchGPR when hw is a spill slot, and returns the register to
// use. Callers that need the value copied somewhere stable before
// clobbering scratchGPR again must do so immediately.
func loadToReg(e *emitter, hw rtl.HwRegister) int {
	if hw.IsSpill() {
		e.regMemBaseDisp(true, 0x8b, scratchGPR, RBP, spillDisp(hw.Index()))
		return scratchGPR
	}
	return hw.Index()
}

// loadToRegAlt is loadToReg but spills through scratch instead of
// scratchGPR, for the rare instruction that must resolve two spilled
// operands at once without one clobbering the other.
func loadToRegAlt(e *emitter, hw rtl.HwRegister, scratch int) int {
	if hw.IsSpill() {
		e.regMemBaseDisp(true, 0x8b, scratch, RBP, spillDisp(hw.Index()))
		return scratch
	}
	return hw.Index()
}

// storeFromReg writes src back to hw's spill slot if hw is a spill
// location; a no-op otherwise (the value already landed in its real
// register).
func storeFromReg(e *emitter, hw rtl.HwRegister, src int) {
	if hw.IsSpill() {
		e.regMemBaseDisp(true, 0x89, src, RBP, spillDisp(hw.Index()))
	}
}

// callerSavedToSave collects the caller-saved hardware registers a
// CALL_FRAMED site must preserve: every register the save-state snapshot
// marks allocated, scoped to the ABI's caller-saved set and excluding the
// two reserved frame registers and the emitter's scratch registers (none
// of which the allocator ever hands out, but excluded defensively).
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
	for i := 0; i < NumXMM; i++ {
		if i == vecScratch {
			continue
		}
		if snapshot.IsAllocated(rtl.Hw(rtl.VectorReg, i)) {
			vecs = append(vecs, i)
		}
	}
	return gprs, vecs
}

// movXMM stores (store=true) or loads a 16-byte SSE register to/from
// [RSP+disp] using MOVUPS (0F 10 /r load, 0F 11 /r store).
func (e *emitter) movXMM(store bool, xmm int, disp int32) {
	opcode := byte(0x10)
	if store {
		opcode = 0x11
	}
	e.byte(rex(false, xmm >= 8, false, false))
	e.byte(0x0f)
	e.byte(opcode)
	e.byte(modrm(2, byte(xmm), 4))
	e.byte((0 << 6) | (4 << 3) | byte(RSP&7))
	e.u32(uint32(disp))
}

// callFramed emits the full out-of-line call sequence spec.md §4.5
// describes: save every caller-saved register live per snapshot (with
// alignment padding if the save count is odd), marshal arguments, call the
// helper through scratchGPR, and restore in reverse order.
//
//   - addr is the GPR holding the 32-bit guest address argument (already
//     resolved via loadToReg by the caller).
//   - value, for a store, is the GPR holding the value argument; nil for a
//     load.
//   - byteCount is the access width in bytes.
//   - helper is the absolute address of guest_load or guest_store.
//
// Returns nothing; the helper returns a load's result in RAX.
func callFramed(e *emitter, snapshot rtl.RegisterSnapshot, addr int, value *int, byteCount uint32, helper uintptr) {
	gprs, vecs := callerSavedToSave(snapshot)

	padded := len(gprs)%2 == 1
	if padded {
		e.push(RAX)
	}
	for _, r := range gprs {
		e.push(r)
	}
	vecBytes := int32(16 * len(vecs))
	if vecBytes > 0 {
		subRSP(e, vecBytes)
		for i, r := range vecs {
			e.movXMM(true, r, int32(16*i))
		}
	}

	// Stage the call's own arguments through the stack, immediately
	// before popping them into their final argument registers: a plain
	// register-to-register mov here could clobber a source register that
	// happens to alias a destination argument register (e.g. the address
	// operand already living in rcx) before it's been read; push captures
	// the exact value first regardless of what's written afterward.
	e.push(addr)
	if value != nil {
		e.push(*value)
	}

	if value != nil {
		e.pop(RCX) // value argument (4th)
		e.pop(RSI) // address argument (2nd)
	} else {
		e.pop(RSI) // address argument (2nd)
	}
	e.movRegImm32Sext(true, RDX, byteCount) // byte count (3rd)
	e.regReg(true, 0x89, guestPtrReg, RDI)  // rdi := guestPtrReg (1st, guest pointer)

	e.movImm64(scratchGPR, uint64(helper))
	e.callReg(scratchGPR)

	if vecBytes > 0 {
		for i := len(vecs) - 1; i >= 0; i-- {
			e.movXMM(false, vecs[i], int32(16*i))
		}
		addRSP(e, vecBytes)
	}
	for i := len(gprs) - 1; i >= 0; i-- {
		e.pop(gprs[i])
	}
	if padded {
		e.pop(RAX)
	}
}

// subRSP/addRSP emit `sub rsp, imm32` / `add rsp, imm32` (opcode 0x81 /5
// and /0, REX.W).
func subRSP(e *emitter, imm int32) {
	e.byte(rex(true, false, false, false))
	e.byte(0x81)
	e.byte(modrm(3, 5, RSP))
	e.u32(uint32(imm))
}

func addRSP(e *emitter, imm int32) {
	e.byte(rex(true, false, false, false))
	e.byte(0x81)
	e.byte(modrm(3, 0, RSP))
	e.u32(uint32(imm))
}
