package arm64

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hollyjit/hollyjit/internal/backend"
	"github.com/hollyjit/hollyjit/internal/rtl"
)

func TestRoundUp16(t *testing.T) {
	require.Equal(t, 0, roundUp16(0))
	require.Equal(t, 16, roundUp16(1))
	require.Equal(t, 16, roundUp16(16))
	require.Equal(t, 32, roundUp16(17))
}

func TestCsetConditionCoversEveryVariant(t *testing.T) {
	cases := map[rtl.Opcode]uint32{
		opCsetEq: condEQ, opCsetLt: condLT, opCsetLe: condLE,
		opCsetLo: condLO, opCsetLs: condLS,
	}
	for op, want := range cases {
		require.Equal(t, want, csetCondition(op))
	}
}

func TestSameLocation(t *testing.T) {
	require.True(t, sameLocation(rtl.Hw(rtl.ScalarGPR, X0), rtl.Hw(rtl.ScalarGPR, X0)))
	require.False(t, sameLocation(rtl.Hw(rtl.ScalarGPR, X0), rtl.Hw(rtl.ScalarGPR, X1)))
	require.False(t, sameLocation(rtl.Hw(rtl.ScalarGPR, X0), rtl.Hw(rtl.VectorReg, 0)))
	require.False(t, sameLocation(rtl.UnassignedHw(rtl.ScalarGPR), rtl.UnassignedHw(rtl.ScalarGPR)))
}

func TestTouchedCalleeSavedOnlyReportsX21ThroughX28(t *testing.T) {
	p := rtl.NewProgram("t")
	p.Touched[rtl.ScalarGPR][X21] = struct{}{}
	p.Touched[rtl.ScalarGPR][guestPtrReg] = struct{}{} // must never appear: reserved frame register
	got := touchedCalleeSaved(p)
	require.Equal(t, []int{X21}, got)
}

func noopRegAddr(idx int) int32 { return int32(idx * 8) }

// buildTrivialProgram constructs a program with every operand pre-assigned
// a hardware location, bypassing internal/regalloc entirely: Assemble only
// consumes the already-allocated Hw fields, so a hand-built program
// exercises the same code path a regalloc-produced one would.
func buildTrivialProgram() *rtl.Program {
	b := rtl.NewBuilder("trivial")
	dst := b.SSAAllocate(rtl.QWORD)
	b.Append(rtl.Instruction{
		Op:      opLoadImm64,
		Payload: 0x2a,
		Results: []rtl.Operand{rtl.Pinned(dst, rtl.Hw(rtl.ScalarGPR, X0))},
	})
	b.Append(rtl.Instruction{Op: opRet})
	return b.Build()
}

func TestAssembleEmitsBalancedPrologueEpilogue(t *testing.T) {
	p := buildTrivialProgram()
	routine, err := Assemble(p, noopRegAddr, Helpers{})
	require.NoError(t, err)
	require.Equal(t, backend.ARM64, routine.Target)
	require.Zero(t, routine.Spills)

	code := routine.Code
	require.NotEmpty(t, code)
	// Last word must be the single epilogue-synthesized ret; the body's
	// own opRet is a no-op specifically so this is the only one.
	last := binary.LittleEndian.Uint32(code[len(code)-4:])
	require.Equal(t, uint32(0xd65f03c0), last) // ret x30

	pushes, pops := countPushPop(code)
	// push fp, push lr, push guestPtrReg, push regFileBaseReg (no touched
	// callee regs) mirrored by four pops.
	require.Equal(t, 4, pushes)
	require.Equal(t, 4, pops)
}

func TestAssembleReportsSpillsWithoutReservingFrame(t *testing.T) {
	b := rtl.NewBuilder("spilled")
	dst := b.SSAAllocate(rtl.QWORD)
	b.Append(rtl.Instruction{
		Op:      opLoadImm64,
		Payload: 7,
		Results: []rtl.Operand{rtl.Pinned(dst, rtl.Hw(rtl.Spill, 0))},
	})
	b.Append(rtl.Instruction{Op: opRet})
	p := b.Build()
	p.SpillCount = 1

	routine, err := Assemble(p, noopRegAddr, Helpers{})
	require.NoError(t, err)
	require.Equal(t, 1, routine.Spills)
	// No `sub sp, sp, #16` is ever emitted: see assemble.go's emitPrologue
	// doc comment — FP-relative spill addressing never actually needs an
	// SP adjustment beyond the frame-record pushes already in place.
}

func TestAssembleUnknownOpcodePanicsAsInvariantViolation(t *testing.T) {
	b := rtl.NewBuilder("bad")
	b.Append(rtl.Instruction{Op: rtl.Opcode(0x7fff)})
	p := b.Build()

	require.Panics(t, func() {
		_, _ = Assemble(p, noopRegAddr, Helpers{})
	})
}

func TestAssembleJumpDisplacementMatchesLabelOffset(t *testing.T) {
	b := rtl.NewBuilder("branch")
	lbl := b.AllocateLabel()
	b.Append(rtl.Instruction{Op: opB, Payload: uint64(lbl)})
	b.Append(rtl.Instruction{Op: opLabel, Payload: uint64(lbl)})
	b.Append(rtl.Instruction{Op: opRet})
	p := b.Build()

	routine, err := Assemble(p, noopRegAddr, Helpers{})
	require.NoError(t, err)
	require.NotEmpty(t, routine.Code)

	idx := -1
	for i := 0; i+4 <= len(routine.Code); i += 4 {
		w := binary.LittleEndian.Uint32(routine.Code[i : i+4])
		if w&^0x3ffffff == uint32(0b000101)<<26 {
			idx = i
			break
		}
	}
	require.GreaterOrEqual(t, idx, 0, "expected a B opcode word in the emitted code")
	disp := int32(binary.LittleEndian.Uint32(routine.Code[idx:idx+4])&0x3ffffff) << 6 >> 6
	require.Equal(t, int32(1), disp, "the label sits one word after the branch, before the epilogue")
}
