package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hollyjit/hollyjit/internal/guestir"
)

func TestParseFixtureRoundTripsAddRegs(t *testing.T) {
	src := `{
		"name": "add_regs",
		"instructions": [
			{"op": "read_guest", "type": "i32", "results": [0], "sources": [{"type": "i32", "const": 1}]},
			{"op": "read_guest", "type": "i32", "results": [1], "sources": [{"type": "i32", "const": 2}]},
			{"op": "add", "type": "i32", "results": [2], "sources": [{"type": "i32", "reg": 0}, {"type": "i32", "reg": 1}]},
			{"op": "write_guest", "type": "i32", "sources": [{"type": "i32", "const": 3}, {"type": "i32", "reg": 2}]}
		]
	}`

	prog, err := parseFixture(strings.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, "add_regs", prog.Name)
	require.Len(t, prog.Instructions, 4)
	require.Equal(t, guestir.OpAdd, prog.Instructions[2].Op)
	require.Equal(t, guestir.Register(0), prog.Instructions[2].Sources[0].Reg)
	require.True(t, prog.Instructions[0].Sources[0].IsConst)
}

func TestParseFixtureRejectsUnknownOpcode(t *testing.T) {
	_, err := parseFixture(strings.NewReader(`{"instructions":[{"op":"frobnicate"}]}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown opcode")
}

func TestParseFixtureRejectsUnknownType(t *testing.T) {
	_, err := parseFixture(strings.NewReader(`{"instructions":[{"op":"read_guest","type":"i128","results":[0],"sources":[{"type":"i32","const":0}]}]}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown type")
}

func TestParseFixtureRejectsOperandWithNeitherRegNorConst(t *testing.T) {
	_, err := parseFixture(strings.NewReader(`{"instructions":[{"op":"write_guest","type":"i32","sources":[{"type":"i32"}]}]}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "neither reg nor const")
}

func TestParseArchRejectsUnknownName(t *testing.T) {
	_, err := parseArch("mips")
	require.Error(t, err)
}

func TestParseArchAcceptsAmd64AndArm64(t *testing.T) {
	a, err := parseArch("amd64")
	require.NoError(t, err)
	require.Equal(t, "amd64", a.String())

	a, err = parseArch("arm64")
	require.NoError(t, err)
	require.Equal(t, "arm64", a.String())
}
