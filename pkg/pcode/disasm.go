package pcode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of code.
func Disassemble(code []byte) string {
	return DisassembleWithName(code, "")
}

// DisassembleWithName returns a human-readable listing with a name header.
// Undecodable bytes are reported inline and end the listing.
func DisassembleWithName(code []byte, name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; %d bytes\n", len(code)))

	err := Walk(code, func(in Instruction) error {
		sb.WriteString(fmt.Sprintf("%04x  %s", in.Offset, in.String()))
		if in.Op == OpPush32 {
			sb.WriteString(fmt.Sprintf("\t; 0x%08X f=%g", in.Word(), in.Float32()))
		}
		sb.WriteString("\n")
		return nil
	})
	if err != nil {
		sb.WriteString(fmt.Sprintf("; error: %v\n", err))
	}

	return sb.String()
}
