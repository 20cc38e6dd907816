package amd64

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hollyjit/hollyjit/internal/rtl"
)

func TestSpillDispIsDenseAndDescending(t *testing.T) {
	require.Equal(t, int32(-8), spillDisp(0))
	require.Equal(t, int32(-16), spillDisp(1))
	require.Equal(t, int32(-24), spillDisp(2))
}

func TestLoadToRegReturnsRealRegisterDirectly(t *testing.T) {
	e := newEmitter()
	got := loadToReg(e, rtl.Hw(rtl.ScalarGPR, RCX))
	require.Equal(t, RCX, got)
	require.Empty(t, e.buf, "a non-spill operand must not emit any load")
}

func TestLoadToRegSpillsThroughScratch(t *testing.T) {
	e := newEmitter()
	got := loadToReg(e, rtl.Hw(rtl.Spill, 2))
	require.Equal(t, scratchGPR, got)
	require.NotEmpty(t, e.buf)
}

func TestLoadToRegAltUsesCallerSuppliedScratch(t *testing.T) {
	e := newEmitter()
	got := loadToRegAlt(e, rtl.Hw(rtl.Spill, 0), scratchGPR2)
	require.Equal(t, scratchGPR2, got)
}

func TestStoreFromRegNoOpForNonSpill(t *testing.T) {
	e := newEmitter()
	storeFromReg(e, rtl.Hw(rtl.ScalarGPR, RAX), RAX)
	require.Empty(t, e.buf)
}

func TestStoreFromRegEmitsForSpill(t *testing.T) {
	e := newEmitter()
	storeFromReg(e, rtl.Hw(rtl.Spill, 0), RAX)
	require.NotEmpty(t, e.buf)
}

func TestCallerSavedToSaveExcludesReservedRegisters(t *testing.T) {
	snap := rtl.NewRegisterSnapshot()
	for _, r := range []int{RAX, RCX, scratchGPR, scratchGPR2, guestPtrReg, regFileBaseReg} {
		snap.Mark(rtl.Hw(rtl.ScalarGPR, r))
	}
	gprs, _ := callerSavedToSave(snap)
	require.Contains(t, gprs, RAX)
	require.Contains(t, gprs, RCX)
	require.NotContains(t, gprs, scratchGPR)
	require.NotContains(t, gprs, scratchGPR2)
	require.NotContains(t, gprs, guestPtrReg)
	require.NotContains(t, gprs, regFileBaseReg)
}

func TestCallerSavedToSaveOnlyReportsCallerSavedClass(t *testing.T) {
	snap := rtl.NewRegisterSnapshot()
	snap.Mark(rtl.Hw(rtl.ScalarGPR, R13)) // callee-saved, allocator-visible
	gprs, _ := callerSavedToSave(snap)
	require.NotContains(t, gprs, R13)
}

func TestCallerSavedToSaveExcludesVectorScratch(t *testing.T) {
	snap := rtl.NewRegisterSnapshot()
	snap.Mark(rtl.Hw(rtl.VectorReg, XMM0))
	snap.Mark(rtl.Hw(rtl.VectorReg, vecScratch))
	_, vecs := callerSavedToSave(snap)
	require.Contains(t, vecs, XMM0)
	require.NotContains(t, vecs, vecScratch)
}

// countPushPop walks buf counting single-byte PUSH (0x50-0x57) and POP
// (0x58-0x5F) opcodes, regardless of any preceding REX prefix. Immediate
// operands elsewhere in the stream (movImm64, disp32) could coincidentally
// contain these byte values, so this is only safe to use on a sequence
// known to consist solely of push/pop/call/mov-reg-imm framing like
// callFramed's output with small, distinguishable register operands.
func countPushPop(buf []byte) (pushes, pops int) {
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		isRex := b&0xf0 == 0x40
		opIdx := i
		if isRex {
			opIdx = i + 1
		}
		if opIdx >= len(buf) {
			break
		}
		switch {
		case buf[opIdx] >= 0x50 && buf[opIdx] <= 0x57:
			pushes++
		case buf[opIdx] >= 0x58 && buf[opIdx] <= 0x5f:
			pops++
		}
		if isRex {
			i++ // skip the opcode byte we just classified
		}
	}
	return pushes, pops
}

func TestCallFramedSavesAndRestoresSymmetrically(t *testing.T) {
	snap := rtl.NewRegisterSnapshot()
	snap.Mark(rtl.Hw(rtl.ScalarGPR, RAX))
	snap.Mark(rtl.Hw(rtl.ScalarGPR, RCX))
	snap.Mark(rtl.Hw(rtl.ScalarGPR, RSI))

	e := newEmitter()
	value := RDX
	callFramed(e, snap, RDI, &value, 4, 0x1000)
	require.NotEmpty(t, e.buf)

	pushes, pops := countPushPop(e.buf)
	// 3 saved GPRs (odd -> one padding push) plus the addr/value
	// argument-staging pushes, each mirrored by an equal-count pop.
	require.Equal(t, pushes, pops)
	require.GreaterOrEqual(t, pushes, 4)
}

func TestCallFramedLoadHasNoValueArgument(t *testing.T) {
	snap := rtl.NewRegisterSnapshot()
	e := newEmitter()
	callFramed(e, snap, RDI, nil, 8, 0x2000)
	pushes, pops := countPushPop(e.buf)
	require.Equal(t, pushes, pops)
	// Only the address argument is staged through the stack for a load.
	require.GreaterOrEqual(t, pushes, 1)
}
