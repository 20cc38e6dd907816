package amd64

import "github.com/hollyjit/hollyjit/internal/rtl"

// RTL opcodes this back-end lowers guest IR into and later assembles.
// Grounded on the emit_table in amd64_compiler.hh, scoped to the opcode
// families spec.md §4.4 names explicitly: per-size arithmetic/bitwise,
// variable and immediate shifts, compare+setcc, select (via cmov),
// multiply with a D-register tie-down, plus the pseudo-opcodes
// (labels, guest register/memory access, CALL_FRAMED, prologue/epilogue
// bracketing) every back-end needs regardless of arithmetic surface.
// opPushRegisters/opPopRegisters/opCallFramed from the original opcode
// enum have no standalone RTL form here: the callee-saved push/pop
// bitmask is only known once Touched is filled in by the allocator, after
// every SSA-backed RTL opcode has already been through Prepare, so
// assemble.go synthesizes the prologue/epilogue directly against the
// emitter instead of routing it back through another RTL pass; and
// opLoadGuestMemory/opStoreGuestMemory already carry the SaveState flag
// and the call-framed save/restore sequence is implemented as a shared
// helper both of them call into, so a separate generic call-framed
// opcode has no caller to wire it to.
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

	opAndByte
	opAndWord
	opAndDword
	opAndQword
	opAndDwordImm32

	opOrByte
	opOrWord
	opOrDword
	opOrQword

	opXorByte
	opXorWord
	opXorDword
	opXorQword

	opNotByte
	opNotWord
	opNotDword
	opNotQword

	opAddByte
	opAddWord
	opAddDword
	opAddQword

	opSubByte
	opSubWord
	opSubDword
	opSubQword

	opMulDword // unsigned multiply: result(0)=low in RAX, result(1)=high in RDX
	opImulWord
	opImulDword
	opImulQword

	opShiftrDword // logical right, variable amount pinned to CL
	opShiftlDword // logical left, variable amount pinned to CL
	opAshiftrDword

	opShiftrDwordImm8
	opShiftlDwordImm8
	opAshiftrDwordImm8

	opCmpByte
	opCmpWord
	opCmpDword
	opCmpQword

	opSetnz
	opSetz
	opSetl
	opSetle
	opSetb
	opSetbe

	opCmovnzDword
	opCmovzDword
	opCmovnzQword

	opTestByte

	opMovByte
	opMovWord
	opMovDword
	opMovQword

	opJmp
	opJnz
)
