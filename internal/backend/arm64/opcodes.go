package arm64

import "github.com/hollyjit/hollyjit/internal/rtl"

// RTL opcodes this back-end lowers guest IR into and later assembles.
// Grounded on arm64_opcode.h's Opcode enum, scoped to the families
// spec.md §4.4 names (see the amd64 package's matching note for why the
// full enum isn't reproduced). Unlike amd64, AArch64's data-processing
// instructions are three-operand (Rd, Rn, Rm all independently
// addressable), so none of these opcodes need the Destructive flag —
// there is no result/source0 coalescing to reconcile.
const (
	opLabel rtl.Opcode = rtl.FirstBackendOpcode + iota
	opReadGuestRegister32
	opReadGuestRegister64
	opWriteGuestRegister32
	opWriteGuestRegister64
	opLoadGuestMemory
	opStoreGuestMemory
	opRet

	opLoadImm32
	opLoadImm64

	opAddDword
	opAddQword
	opSubDword
	opSubQword
	opAndDword
	opAndQword
	opOrDword
	opOrQword
	opXorDword
	opXorQword
	opNotDword
	opNotQword

	opMulDword
	opMulQword

	// Shift amount is always resolved into a real register first (an
	// immediate shift materializes its amount via opLoadImm32 into its
	// own allocated register, then falls through to the same variable-shift
	// encoding) — see lower.go's lowerShift for why this collapses what
	// amd64 keeps as two opcode families into one here.
	opShiftlDword
	opShiftrDword
	opAshiftrDword

	opCmpDword
	opCmpQword

	opCsetEq
	opCsetLt
	opCsetLe
	opCsetLo
	opCsetLs

	opCselNeDword
	opCselNeQword

	opTestDword

	opMovDword
	opMovQword

	opB
	opBNE
)
