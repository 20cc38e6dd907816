package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hollyjit/hollyjit/internal/guestir"
)

// fixtureProgram is the on-disk JSON shape a guest IR program is read from:
// mnemonic opcode/type names instead of raw enum numbers, matching the
// teacher-grounded convention (see oisee/z80-optimizer's cmd/z80opt, which
// parses assembly mnemonics rather than opcode bytes from its own CLI
// input) of keeping CLI-facing formats human-readable.
type fixtureProgram struct {
	Name         string               `json:"name"`
	Instructions []fixtureInstruction `json:"instructions"`
}

type fixtureInstruction struct {
	Op      string           `json:"op"`
	Type    string           `json:"type,omitempty"`
	Results []uint32         `json:"results,omitempty"`
	Sources []fixtureOperand `json:"sources,omitempty"`
}

type fixtureOperand struct {
	Type  string  `json:"type"`
	Reg   *uint32 `json:"reg,omitempty"`
	Const *uint64 `json:"const,omitempty"`
}

var opcodeNames = map[string]guestir.Opcode{
	"read_guest": guestir.OpReadGuest,
	"write_guest": guestir.OpWriteGuest,
	"load":        guestir.OpLoad,
	"store":       guestir.OpStore,
	"add":         guestir.OpAdd,
	"sub":         guestir.OpSub,
	"and":         guestir.OpAnd,
	"or":          guestir.OpOr,
	"xor":         guestir.OpXor,
	"not":         guestir.OpNot,
	"mul":         guestir.OpMul,
	"imul":        guestir.OpIMul,
	"shl":         guestir.OpShl,
	"shr":         guestir.OpShr,
	"sar":         guestir.OpSar,
	"cmp_eq":      guestir.OpCompareEq,
	"cmp_lt":      guestir.OpCompareLt,
	"cmp_lte":     guestir.OpCompareLte,
	"cmp_ult":     guestir.OpCompareUlt,
	"cmp_ulte":    guestir.OpCompareUlte,
	"select":      guestir.OpSelect,
	"exit_if":     guestir.OpExitIf,
}

var typeNames = map[string]guestir.Type{
	"i8":      guestir.I8,
	"i16":     guestir.I16,
	"i32":     guestir.I32,
	"i64":     guestir.I64,
	"f32":     guestir.F32,
	"f64":     guestir.F64,
	"bool":    guestir.Bool,
	"label":   guestir.BranchLabel,
	"hostptr": guestir.HostPointer,
}

// parseFixture decodes a JSON guest IR fixture into a guestir.Program,
// reporting the offending instruction index on an unknown mnemonic so a
// fixture author doesn't have to bisect a large file by hand.
func parseFixture(r io.Reader) (guestir.Program, error) {
	var fx fixtureProgram
	if err := json.NewDecoder(r).Decode(&fx); err != nil {
		return guestir.Program{}, fmt.Errorf("decode fixture: %w", err)
	}

	prog := guestir.Program{Name: fx.Name, Instructions: make([]guestir.Instruction, len(fx.Instructions))}
	for i, fi := range fx.Instructions {
		op, ok := opcodeNames[fi.Op]
		if !ok {
			return guestir.Program{}, fmt.Errorf("instruction %d: unknown opcode %q", i, fi.Op)
		}

		instr := guestir.Instruction{Op: op, Results: make([]guestir.Register, len(fi.Results))}
		for j, r := range fi.Results {
			instr.Results[j] = guestir.Register(r)
		}

		if fi.Type != "" {
			t, ok := typeNames[fi.Type]
			if !ok {
				return guestir.Program{}, fmt.Errorf("instruction %d: unknown type %q", i, fi.Type)
			}
			instr.Type = t
		}

		instr.Sources = make([]guestir.Operand, len(fi.Sources))
		for j, so := range fi.Sources {
			t, ok := typeNames[so.Type]
			if !ok {
				return guestir.Program{}, fmt.Errorf("instruction %d, source %d: unknown type %q", i, j, so.Type)
			}
			switch {
			case so.Const != nil:
				instr.Sources[j] = guestir.Imm(t, guestir.Constant(*so.Const))
			case so.Reg != nil:
				instr.Sources[j] = guestir.Reg(t, guestir.Register(*so.Reg))
			default:
				return guestir.Program{}, fmt.Errorf("instruction %d, source %d: neither reg nor const set", i, j)
			}
		}

		prog.Instructions[i] = instr
	}
	return prog, nil
}
