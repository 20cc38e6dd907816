package amd64

import (
	"github.com/hollyjit/hollyjit/internal/guestir"
	"github.com/hollyjit/hollyjit/internal/jiterr"
	"github.com/hollyjit/hollyjit/internal/rtl"
)

// nativeType maps a guest value type onto the RTL register type that holds
// it. Sub-word integers are widened to DWORD, matching the common pattern
// of doing 32-bit arithmetic. The guest register read/write paths
// (opReadGuestRegister32/opWriteGuestRegister32) move a full DWORD for
// I8/I16/Bool values; sub-word values are not narrowed on write-back.
//
// Grounded on amd64_compiler.cpp's ir_to_amd64_type.
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
		jiterr.Raisef("amd64.nativeType", "no native type for guest type %s", t)
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

// Lower translates a guest IR program into an RTL program ready for
// internal/regalloc, lowering every opcode spec.md §4.4 names and folding
// guest exits into a single conditional-test-and-branch to one shared exit
// label, per spec.md §4.4's "a label is allocated for the routine's exit"
// description.
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
		Results: []rtl.Operand{rtl.Pinned(ret, rtl.Hw(rtl.ScalarGPR, RAX))},
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
		jiterr.Raisef("amd64.Lower", "guest register %d used before it is defined", op.Reg)
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

func pickBySize(t rtl.RegType, byteOp, wordOp, dwordOp, qwordOp rtl.Opcode) rtl.Opcode {
	switch t {
	case rtl.BYTE:
		return byteOp
	case rtl.WORD:
		return wordOp
	case rtl.DWORD:
		return dwordOp
	case rtl.QWORD:
		return qwordOp
	default:
		jiterr.Raisef("amd64.pickBySize", "no opcode for register type %s", t)
		panic("unreachable")
	}
}

func (l *lowerer) lowerBinary(instr guestir.Instruction, byteOp, wordOp, dwordOp, qwordOp rtl.Opcode) {
	t := nativeType(instr.Type)
	lhs := l.resolve(instr.Source(0))
	rhs := l.resolve(instr.Source(1))
	dest := l.b.SSAAllocate(t)
	l.b.Append(rtl.Instruction{
		Op:      pickBySize(t, byteOp, wordOp, dwordOp, qwordOp),
		Flags:   rtl.Destructive,
		Results: []rtl.Operand{rtl.AnyOf(dest)},
		Sources: []rtl.Operand{rtl.AnyOf(lhs), rtl.AnyOf(rhs)},
	})
	l.vals[instr.Result(0)] = dest
}

func (l *lowerer) lowerShift(instr guestir.Instruction, variable, immediate rtl.Opcode) {
	t := nativeType(instr.Type)
	lhs := l.resolve(instr.Source(0))
	dest := l.b.SSAAllocate(t)

	if instr.Source(1).IsConst {
		l.b.Append(rtl.Instruction{
			Op:      immediate,
			Payload: uint64(instr.Source(1).Constant),
			Flags:   rtl.Destructive,
			Results: []rtl.Operand{rtl.AnyOf(dest)},
			Sources: []rtl.Operand{rtl.AnyOf(lhs)},
		})
	} else {
		rhs := l.resolve(instr.Source(1))
		l.b.Append(rtl.Instruction{
			Op:      variable,
			Flags:   rtl.Destructive,
			Results: []rtl.Operand{rtl.AnyOf(dest)},
			Sources: []rtl.Operand{rtl.AnyOf(lhs), rtl.Pinned(rhs, rtl.Hw(rtl.ScalarGPR, RCX))},
		})
	}
	l.vals[instr.Result(0)] = dest
}

var compareSetcc = map[guestir.Opcode]rtl.Opcode{
	guestir.OpCompareEq:   opSetz,
	guestir.OpCompareLt:   opSetl,
	guestir.OpCompareLte:  opSetle,
	guestir.OpCompareUlt:  opSetb,
	guestir.OpCompareUlte: opSetbe,
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
		valType := instr.Type
		t := nativeType(valType)
		addr := l.resolve(instr.Source(0))
		value := l.resolve(instr.Source(1))
		l.b.Append(rtl.Instruction{
			Op:      opStoreGuestMemory,
			Payload: uint64(regSize(t)),
			Flags:   rtl.SaveState,
			Sources: []rtl.Operand{rtl.AnyOf(addr), rtl.AnyOf(value)},
		})

	case guestir.OpAdd:
		l.lowerBinary(instr, opAddByte, opAddWord, opAddDword, opAddQword)
	case guestir.OpSub:
		l.lowerBinary(instr, opSubByte, opSubWord, opSubDword, opSubQword)
	case guestir.OpOr:
		l.lowerBinary(instr, opOrByte, opOrWord, opOrDword, opOrQword)
	case guestir.OpXor:
		l.lowerBinary(instr, opXorByte, opXorWord, opXorDword, opXorQword)

	case guestir.OpAnd:
		t := nativeType(instr.Type)
		lhs := l.resolve(instr.Source(0))
		if instr.Source(1).IsConst && t == rtl.DWORD {
			dest := l.b.SSAAllocate(t)
			l.b.Append(rtl.Instruction{
				Op:      opAndDwordImm32,
				Payload: uint64(instr.Source(1).Constant),
				Flags:   rtl.Destructive,
				Results: []rtl.Operand{rtl.AnyOf(dest)},
				Sources: []rtl.Operand{rtl.AnyOf(lhs)},
			})
			l.vals[instr.Result(0)] = dest
			return
		}
		l.lowerBinary(instr, opAndByte, opAndWord, opAndDword, opAndQword)

	case guestir.OpNot:
		t := nativeType(instr.Type)
		src := l.resolve(instr.Source(0))
		dest := l.b.SSAAllocate(t)
		l.b.Append(rtl.Instruction{
			Op:      pickBySize(t, opNotByte, opNotWord, opNotDword, opNotQword),
			Flags:   rtl.Destructive,
			Results: []rtl.Operand{rtl.AnyOf(dest)},
			Sources: []rtl.Operand{rtl.AnyOf(src)},
		})
		l.vals[instr.Result(0)] = dest

	case guestir.OpMul:
		lhs := l.resolve(instr.Source(0))
		rhs := l.resolve(instr.Source(1))
		low := l.b.SSAAllocate(rtl.DWORD)
		high := l.b.SSAAllocate(rtl.DWORD)
		l.b.Append(rtl.Instruction{
			Op: opMulDword,
			Results: []rtl.Operand{
				rtl.Pinned(low, rtl.Hw(rtl.ScalarGPR, RAX)),
				rtl.Pinned(high, rtl.Hw(rtl.ScalarGPR, RDX)),
			},
			Sources: []rtl.Operand{
				rtl.Pinned(lhs, rtl.Hw(rtl.ScalarGPR, RAX)),
				rtl.AnyOf(rhs),
			},
		})
		l.vals[instr.Result(0)] = low

	case guestir.OpIMul:
		t := nativeType(instr.Type)
		lhs := l.resolve(instr.Source(0))
		rhs := l.resolve(instr.Source(1))
		dest := l.b.SSAAllocate(t)
		l.b.Append(rtl.Instruction{
			Op:      pickBySize(t, opImulWord, opImulWord, opImulDword, opImulQword),
			Flags:   rtl.Destructive,
			Results: []rtl.Operand{rtl.AnyOf(dest)},
			Sources: []rtl.Operand{rtl.AnyOf(lhs), rtl.AnyOf(rhs)},
		})
		l.vals[instr.Result(0)] = dest

	case guestir.OpShl:
		l.lowerShift(instr, opShiftlDword, opShiftlDwordImm8)
	case guestir.OpShr:
		l.lowerShift(instr, opShiftrDword, opShiftrDwordImm8)
	case guestir.OpSar:
		l.lowerShift(instr, opAshiftrDword, opAshiftrDwordImm8)

	case guestir.OpCompareEq, guestir.OpCompareLt, guestir.OpCompareLte, guestir.OpCompareUlt, guestir.OpCompareUlte:
		lhs := l.resolve(instr.Source(0))
		rhs := l.resolve(instr.Source(1))
		t := nativeType(instr.Sources[0].Type)
		l.b.Append(rtl.Instruction{
			Op:      pickBySize(t, opCmpByte, opCmpWord, opCmpDword, opCmpQword),
			Sources: []rtl.Operand{rtl.AnyOf(lhs), rtl.AnyOf(rhs)},
		})
		dest := l.b.SSAAllocate(rtl.DWORD)
		l.b.Append(rtl.Instruction{
			Op:      compareSetcc[instr.Op],
			Results: []rtl.Operand{rtl.AnyOf(dest)},
		})
		l.vals[instr.Result(0)] = dest

	case guestir.OpSelect:
		decision := l.resolve(instr.Source(0))
		onFalse := l.resolve(instr.Source(1))
		onTrue := l.resolve(instr.Source(2))
		t := nativeType(instr.Type)
		l.b.Append(rtl.Instruction{Op: opTestByte, Sources: []rtl.Operand{rtl.AnyOf(decision), rtl.AnyOf(decision)}})
		dest := l.b.SSAAllocate(t)
		cmov := opCmovnzDword
		if regSize(t) == 8 {
			cmov = opCmovnzQword
		}
		l.b.Append(rtl.Instruction{
			Op:      cmov,
			Flags:   rtl.Destructive,
			Results: []rtl.Operand{rtl.AnyOf(dest)},
			Sources: []rtl.Operand{rtl.AnyOf(onFalse), rtl.AnyOf(onTrue)},
		})
		l.vals[instr.Result(0)] = dest

	case guestir.OpExitIf:
		decision := l.resolve(instr.Source(0))
		exitVal := l.resolve(instr.Source(1))
		l.b.Append(rtl.Instruction{Op: opTestByte, Sources: []rtl.Operand{rtl.AnyOf(decision), rtl.AnyOf(decision)}})
		newExitCode := l.b.SSAAllocate(rtl.QWORD)
		l.b.Append(rtl.Instruction{
			Op:      opCmovnzQword,
			Flags:   rtl.Destructive,
			Results: []rtl.Operand{rtl.AnyOf(newExitCode)},
			Sources: []rtl.Operand{rtl.AnyOf(l.exitCode), rtl.AnyOf(exitVal)},
		})
		l.exitCode = newExitCode
		l.b.Append(rtl.Instruction{Op: opJnz, Payload: uint64(l.exitLabel)})

	default:
		l.unsupported.Add(int(instr.Op), instr.Op.String())
	}
}
