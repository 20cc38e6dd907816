package arm64

import (
	"github.com/hollyjit/hollyjit/internal/guestir"
	"github.com/hollyjit/hollyjit/internal/jiterr"
	"github.com/hollyjit/hollyjit/internal/rtl"
)

// nativeType mirrors amd64's nativeType: sub-word integers widen to DWORD,
// I64/HostPointer map to QWORD, floats to the matching vector width.
func nativeType(t guestir.Type) rtl.RegType {
	switch t {
	case guestir.I8, guestir.I16, guestir.I32, guestir.Bool, guestir.BranchLabel:
		return rtl.DWORD
	case guestir.I64, guestir.HostPointer:
		return rtl.QWORD
	case guestir.F32:
		return rtl.VECSS
	case guestir.F64:
		return rtl.VECSD
	default:
		jiterr.Raisef("arm64.nativeType", "no native type for guest type %s", t)
		panic("unreachable")
	}
}

type lowerer struct {
	b           *rtl.Builder
	vals        map[guestir.Register]rtl.Register
	constCache  map[[2]uint64]rtl.Register
	exitCode    rtl.Register
	exitLabel   rtl.Label
	unsupported *jiterr.UnsupportedOpcodes
}

// Lower is the AArch64 counterpart of amd64.Lower: same guest-opcode
// surface, same shared-exit-label threading (see DESIGN.md's
// "ExitIf lowering" note for the rationale, unchanged here), but no
// Destructive flags anywhere — AArch64's three-operand data-processing
// instructions never need result/source0 coalescing.
func Lower(program guestir.Program) (*rtl.Program, error) {
	l := &lowerer{
		b:           rtl.NewBuilder(program.Name),
		vals:        make(map[guestir.Register]rtl.Register),
		constCache:  make(map[[2]uint64]rtl.Register),
		unsupported: jiterr.NewUnsupportedOpcodes(),
	}

	l.exitCode = l.b.SSAAllocate(rtl.QWORD)
	l.b.Append(rtl.Instruction{
		Op:      opLoadImm64,
		Results: []rtl.Operand{rtl.AnyOf(l.exitCode)},
	})
	l.exitLabel = l.b.AllocateLabel()

	for _, instr := range program.Instructions {
		l.lowerOne(instr)
	}

	l.b.Append(rtl.Instruction{Op: opLabel, Payload: uint64(l.exitLabel)})
	ret := l.b.SSAAllocate(rtl.QWORD)
	l.b.Append(rtl.Instruction{
		Op:      opMovQword,
		Results: []rtl.Operand{rtl.Pinned(ret, rtl.Hw(rtl.ScalarGPR, X0))},
		Sources: []rtl.Operand{rtl.AnyOf(l.exitCode)},
	})
	l.b.Append(rtl.Instruction{Op: opRet})

	if err := l.unsupported.ToError(); err != nil {
		return nil, err
	}
	return l.b.Build(), nil
}

func (l *lowerer) resolve(op guestir.Operand) rtl.Register {
	if op.IsConst {
		return l.loadImmediate(op.Type, op.Constant)
	}
	reg, ok := l.vals[op.Reg]
	if !ok {
		jiterr.Raisef("arm64.Lower", "guest register %d used before it is defined", op.Reg)
	}
	return reg
}

func (l *lowerer) loadImmediate(t guestir.Type, c guestir.Constant) rtl.Register {
	key := [2]uint64{uint64(t), uint64(c)}
	if reg, ok := l.constCache[key]; ok {
		return reg
	}

	rt := nativeType(t)
	dest := l.b.SSAAllocate(rt)
	op := opLoadImm32
	if regSize(rt) == 8 {
		op = opLoadImm64
	}
	l.b.Append(rtl.Instruction{
		Op:      op,
		Payload: uint64(c),
		Results: []rtl.Operand{rtl.AnyOf(dest)},
	})
	l.constCache[key] = dest
	return dest
}

func pickBySize(t rtl.RegType, dwordOp, qwordOp rtl.Opcode) rtl.Opcode {
	switch t {
	case rtl.DWORD:
		return dwordOp
	case rtl.QWORD:
		return qwordOp
	default:
		jiterr.Raisef("arm64.pickBySize", "no opcode for register type %s", t)
		panic("unreachable")
	}
}

func (l *lowerer) lowerBinary(instr guestir.Instruction, dwordOp, qwordOp rtl.Opcode) {
	t := nativeType(instr.Type)
	lhs := l.resolve(instr.Source(0))
	rhs := l.resolve(instr.Source(1))
	dest := l.b.SSAAllocate(t)
	l.b.Append(rtl.Instruction{
		Op:      pickBySize(t, dwordOp, qwordOp),
		Results: []rtl.Operand{rtl.AnyOf(dest)},
		Sources: []rtl.Operand{rtl.AnyOf(lhs), rtl.AnyOf(rhs)},
	})
	l.vals[instr.Result(0)] = dest
}

// lowerShift handles both the variable-amount and constant-amount forms
// with a single variable-shift RTL opcode: a constant shift amount is
// materialized via loadImmediate into its own SSA register first rather
// than encoded as an instruction immediate, since AArch64's immediate
// shift forms (UBFM/SBFM aliases) need a separate encoder this back-end's
// scoped opcode surface doesn't carry (see DESIGN.md). The two guest IR
// shapes collapse into one RTL opcode as a result, unlike amd64's
// dedicated immediate-shift family.
func (l *lowerer) lowerShift(instr guestir.Instruction, op rtl.Opcode) {
	t := nativeType(instr.Type)
	lhs := l.resolve(instr.Source(0))
	rhs := l.resolve(instr.Source(1))
	dest := l.b.SSAAllocate(t)
	l.b.Append(rtl.Instruction{
		Op:      op,
		Results: []rtl.Operand{rtl.AnyOf(dest)},
		Sources: []rtl.Operand{rtl.AnyOf(lhs), rtl.AnyOf(rhs)},
	})
	l.vals[instr.Result(0)] = dest
}

var compareCset = map[guestir.Opcode]rtl.Opcode{
	guestir.OpCompareEq:   opCsetEq,
	guestir.OpCompareLt:   opCsetLt,
	guestir.OpCompareLte:  opCsetLe,
	guestir.OpCompareUlt:  opCsetLo,
	guestir.OpCompareUlte: opCsetLs,
}

func (l *lowerer) lowerOne(instr guestir.Instruction) {
	switch instr.Op {
	case guestir.OpReadGuest:
		idx := uint32(instr.Source(0).Constant)
		t := nativeType(instr.Type)
		dest := l.b.SSAAllocate(t)
		op := opReadGuestRegister32
		if regSize(t) == 8 {
			op = opReadGuestRegister64
		}
		l.b.Append(rtl.Instruction{Op: op, Payload: uint64(idx), Results: []rtl.Operand{rtl.AnyOf(dest)}})
		l.vals[instr.Result(0)] = dest

	case guestir.OpWriteGuest:
		idx := uint32(instr.Source(0).Constant)
		t := nativeType(instr.Type)
		value := l.resolve(instr.Source(1))
		op := opWriteGuestRegister32
		if regSize(t) == 8 {
			op = opWriteGuestRegister64
		}
		l.b.Append(rtl.Instruction{Op: op, Payload: uint64(idx), Sources: []rtl.Operand{rtl.AnyOf(value)}})

	case guestir.OpLoad:
		t := nativeType(instr.Type)
		addr := l.resolve(instr.Source(0))
		dest := l.b.SSAAllocate(t)
		l.b.Append(rtl.Instruction{
			Op:      opLoadGuestMemory,
			Payload: uint64(regSize(t)),
			Flags:   rtl.SaveState,
			Results: []rtl.Operand{rtl.AnyOf(dest)},
			Sources: []rtl.Operand{rtl.AnyOf(addr)},
		})
		l.vals[instr.Result(0)] = dest

	case guestir.OpStore:
		t := nativeType(instr.Type)
		addr := l.resolve(instr.Source(0))
		value := l.resolve(instr.Source(1))
		l.b.Append(rtl.Instruction{
			Op:      opStoreGuestMemory,
			Payload: uint64(regSize(t)),
			Flags:   rtl.SaveState,
			Sources: []rtl.Operand{rtl.AnyOf(addr), rtl.AnyOf(value)},
		})

	case guestir.OpAdd:
		l.lowerBinary(instr, opAddDword, opAddQword)
	case guestir.OpSub:
		l.lowerBinary(instr, opSubDword, opSubQword)
	case guestir.OpOr:
		l.lowerBinary(instr, opOrDword, opOrQword)
	case guestir.OpXor:
		l.lowerBinary(instr, opXorDword, opXorQword)
	case guestir.OpAnd:
		// The original's AND_32_IMM/AND_64_IMM logical-immediate encoding
		// is intentionally not carried over (see DESIGN.md): a constant
		// right-hand side is resolved through the same loadImmediate path
		// as any other constant operand and the register-register form is
		// always used, at the cost of one extra materializing instruction
		// for the rare immediate-AND guest program.
		l.lowerBinary(instr, opAndDword, opAndQword)

	case guestir.OpNot:
		t := nativeType(instr.Type)
		src := l.resolve(instr.Source(0))
		dest := l.b.SSAAllocate(t)
		l.b.Append(rtl.Instruction{
			Op:      pickBySize(t, opNotDword, opNotQword),
			Results: []rtl.Operand{rtl.AnyOf(dest)},
			Sources: []rtl.Operand{rtl.AnyOf(src)},
		})
		l.vals[instr.Result(0)] = dest

	case guestir.OpMul:
		l.lowerBinary(instr, opMulDword, opMulQword)
	case guestir.OpIMul:
		// AArch64's MUL has no implicit high/low split the way x86's
		// MUL/IMUL do (see registers.go/opcodes.go): signed and unsigned
		// 32/64-bit multiply both lower to the same plain three-operand
		// MADD-with-XZR-accumulator encoding.
		l.lowerBinary(instr, opMulDword, opMulQword)

	case guestir.OpShl:
		l.lowerShift(instr, opShiftlDword)
	case guestir.OpShr:
		l.lowerShift(instr, opShiftrDword)
	case guestir.OpSar:
		l.lowerShift(instr, opAshiftrDword)

	case guestir.OpCompareEq, guestir.OpCompareLt, guestir.OpCompareLte, guestir.OpCompareUlt, guestir.OpCompareUlte:
		lhs := l.resolve(instr.Source(0))
		rhs := l.resolve(instr.Source(1))
		t := nativeType(instr.Sources[0].Type)
		l.b.Append(rtl.Instruction{
			Op:      pickBySize(t, opCmpDword, opCmpQword),
			Sources: []rtl.Operand{rtl.AnyOf(lhs), rtl.AnyOf(rhs)},
		})
		dest := l.b.SSAAllocate(rtl.DWORD)
		l.b.Append(rtl.Instruction{
			Op:      compareCset[instr.Op],
			Results: []rtl.Operand{rtl.AnyOf(dest)},
		})
		l.vals[instr.Result(0)] = dest

	case guestir.OpSelect:
		decision := l.resolve(instr.Source(0))
		onFalse := l.resolve(instr.Source(1))
		onTrue := l.resolve(instr.Source(2))
		t := nativeType(instr.Type)
		l.b.Append(rtl.Instruction{Op: opTestDword, Sources: []rtl.Operand{rtl.AnyOf(decision), rtl.AnyOf(decision)}})
		dest := l.b.SSAAllocate(t)
		op := opCselNeDword
		if regSize(t) == 8 {
			op = opCselNeQword
		}
		l.b.Append(rtl.Instruction{
			Op:      op,
			Results: []rtl.Operand{rtl.AnyOf(dest)},
			Sources: []rtl.Operand{rtl.AnyOf(onTrue), rtl.AnyOf(onFalse)},
		})
		l.vals[instr.Result(0)] = dest

	case guestir.OpExitIf:
		decision := l.resolve(instr.Source(0))
		exitVal := l.resolve(instr.Source(1))
		l.b.Append(rtl.Instruction{Op: opTestDword, Sources: []rtl.Operand{rtl.AnyOf(decision), rtl.AnyOf(decision)}})
		newExitCode := l.b.SSAAllocate(rtl.QWORD)
		l.b.Append(rtl.Instruction{
			Op:      opCselNeQword,
			Results: []rtl.Operand{rtl.AnyOf(newExitCode)},
			Sources: []rtl.Operand{rtl.AnyOf(exitVal), rtl.AnyOf(l.exitCode)},
		})
		l.exitCode = newExitCode
		l.b.Append(rtl.Instruction{Op: opBNE, Payload: uint64(l.exitLabel)})

	default:
		l.unsupported.Add(int(instr.Op), instr.Op.String())
	}
}
