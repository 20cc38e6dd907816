package amd64

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hollyjit/hollyjit/internal/rtl"
)

func TestGprPoolExcludesFrameAndScratchRegisters(t *testing.T) {
	pool := gprPool()
	for _, r := range []int{RSP, RBP, scratchGPR, scratchGPR2, guestPtrReg, regFileBaseReg} {
		require.Zero(t, pool&(uint64(1)<<uint(r)), "register %d must be reserved out of the pool", r)
	}
	// Every other GPR stays available.
	for r := 0; r < NumGPR; r++ {
		switch r {
		case RSP, RBP, scratchGPR, scratchGPR2, guestPtrReg, regFileBaseReg:
			continue
		default:
			require.NotZero(t, pool&(uint64(1)<<uint(r)), "register %d should remain in the pool", r)
		}
	}
}

func TestVectorPoolExcludesScratch(t *testing.T) {
	pool := vectorPool()
	require.Zero(t, pool&(uint64(1)<<uint(vecScratch)))
	require.NotZero(t, pool&(uint64(1)<<uint(XMM0)))
}

func TestRegSize(t *testing.T) {
	cases := []struct {
		t    rtl.RegType
		want int
	}{
		{rtl.BYTE, 1},
		{rtl.WORD, 2},
		{rtl.DWORD, 4},
		{rtl.QWORD, 8},
		{rtl.VECSS, 4},
		{rtl.VECSD, 8},
	}
	for _, c := range cases {
		require.Equal(t, c.want, regSize(c.t), "type %s", c.t)
	}
}

func TestAbiMasksAgreeWithReservedRegisters(t *testing.T) {
	// guestPtrReg/regFileBaseReg are callee-saved: the prologue must be
	// able to rely on them surviving any CALL_FRAMED site untouched.
	require.NotZero(t, abiCalleeSaved&(1<<uint(guestPtrReg)))
	require.NotZero(t, abiCalleeSaved&(1<<uint(regFileBaseReg)))
	// scratchGPR/scratchGPR2 are caller-saved: CALL_FRAMED never needs to
	// preserve them across the helper call it uses them to set up.
	require.NotZero(t, abiCallerSaved&(1<<uint(scratchGPR)))
	require.NotZero(t, abiCallerSaved&(1<<uint(scratchGPR2)))
}
