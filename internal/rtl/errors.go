package rtl

import "github.com/hollyjit/hollyjit/internal/jiterr"

func raiseNoOperand(stage string, op Opcode) {
	jiterr.Raisef(stage, "opcode %d has no operand at the requested position", op)
}
