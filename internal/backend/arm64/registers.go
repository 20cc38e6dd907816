// Package arm64 lowers guest IR to RTL and emits AArch64 (AAPCS64) machine
// code, running the shared internal/regalloc linear-scan allocator in
// between.
//
// Grounded on original_source/fox/arm64/arm64_compiler.{hh,cpp} and
// arm64_opcode.h. Scoped down from the original's opcode surface the same
// way internal/backend/amd64 is — see opcode-surface notes in DESIGN.md.
package arm64

import "github.com/hollyjit/hollyjit/internal/rtl"

// General-purpose register numbering: X0-X30 (index 31 is reserved for SP,
// addressed separately since it never participates in the allocator pool
// or a Register's general-purpose encoding field the way X0-X30 do).
const (
	X0 = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30
	NumGPR
)

// SP is the stack pointer's 5-bit encoding, used only by load/store
// addressing and never handed out by the allocator.
const SP = 31

// Vector register numbering: V0-V31.
const (
	V0 = iota
	V1
	V2
	V3
	V4
	V5
	V6
	V7
	V8
	V9
	V10
	V11
	V12
	V13
	V14
	V15
	V16
	V17
	V18
	V19
	V20
	V21
	V22
	V23
	V24
	V25
	V26
	V27
	V28
	V29
	V30
	V31
	NumVector
)

// FP/LR name the frame-pointer and link registers the prologue/epilogue
// manage directly (X29/X30 in AAPCS64), reserved out of the pool like the
// amd64 back-end reserves RBP.
const (
	FP = X29
	LR = X30
)

// scratchGPR/scratchGPR2 are the AAPCS64 intra-procedure-call scratch
// registers (X16/X17, "IP0"/"IP1" — conventionally clobbered by the
// procedure-linkage veneer, so reusing them here for operand-mode
// reconciliation never surprises any caller). Grounded on the same
// reserved-scratch pattern as amd64's registers.go.
const (
	scratchGPR  = X16
	scratchGPR2 = X17
)

// vecScratch is the reserved vector scratch register, mirroring amd64's
// vecScratch.
const vecScratch = V31

// guestPtrReg and regFileBaseReg hold the routine's first and third AAPCS64
// arguments (Guest* and the register-file base) for the whole routine body,
// saved out of the volatile argument registers into callee-saved ones at
// entry so a CALL_FRAMED helper call never loses them.
const (
	guestPtrReg    = X19
	regFileBaseReg = X20
)

// AAPCS64 masks. Grounded on arm64_compiler.cpp's PUSH_GPRS/POP_GPRS usage
// alongside the standard AAPCS64 callee-saved register set (x19-x28, fp,
// lr).
const (
	abiCalleeSaved uint32 = 1<<X19 | 1<<X20 | 1<<X21 | 1<<X22 | 1<<X23 | 1<<X24 |
		1<<X25 | 1<<X26 | 1<<X27 | 1<<X28 | 1<<FP | 1<<LR
	abiCallerSaved uint32 = ^abiCalleeSaved & (uint32(1)<<NumGPR - 1)
)

// argumentRegisters is the AAPCS64 integer argument-passing order.
var argumentRegisters = [...]int{X0, X1, X2, X3, X4, X5, X6, X7}

// gprPool builds the allocator's usable general-purpose register pool:
// every X0-X30 minus the frame/scratch reservations above.
func gprPool() uint64 {
	reserved := uint64(1)<<FP | uint64(1)<<LR | uint64(1)<<scratchGPR | uint64(1)<<scratchGPR2 |
		uint64(1)<<guestPtrReg | uint64(1)<<regFileBaseReg
	all := uint64(1)<<NumGPR - 1
	return all &^ reserved
}

// vectorPool builds the allocator's usable vector register pool.
func vectorPool() uint64 {
	reserved := uint64(1) << vecScratch
	all := uint64(1)<<NumVector - 1
	return all &^ reserved
}

// GprPool and VectorPool are the exported forms of gprPool/vectorPool, for
// internal/compiler to build the allocator's register pools without
// duplicating this package's reserved-register bookkeeping.
func GprPool() uint64    { return gprPool() }
func VectorPool() uint64 { return vectorPool() }

// regSize maps an RTL register type to its native operand width in bytes.
func regSize(t rtl.RegType) int {
	switch t {
	case rtl.DWORD:
		return 4
	case rtl.QWORD:
		return 8
	case rtl.VECSS:
		return 4
	case rtl.VECSD:
		return 8
	default:
		return 0
	}
}
