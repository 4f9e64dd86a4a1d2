package pcode

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AsmError reports a problem at a source line of an assembly listing.
type AsmError struct {
	Line int
	Msg  string
}

func (e *AsmError) Error() string {
	return fmt.Sprintf("asm line %d: %s", e.Line, e.Msg)
}

type fixup struct {
	label int
	name  string
	line  int
}

// Assemble translates a line-oriented listing into pcode.
//
// Each line holds at most one instruction: a mnemonic as printed by the
// disassembler followed by its operand. A line may start with a "name:"
// label definition. Jump operands are either a numeric address or a label
// name. Everything after ';' or '#' is a comment.
//
//	loop:   RLOAD32  counter
//	        IPUSH_1
//	        ISUB
//	        DUP32
//	        RSTORE32 counter
//	        JGTZ     loop
//	        HALT
func Assemble(src string) (*Buffer, error) {
	buf := NewBuffer()
	labels := make(map[string]int)
	var fixups []fixup

	sc := bufio.NewScanner(strings.NewReader(src))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexAny(line, ";#"); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if name, ok := strings.CutSuffix(fields[0], ":"); ok {
			if name == "" {
				return nil, &AsmError{lineNo, "empty label"}
			}
			if _, dup := labels[name]; dup {
				return nil, &AsmError{lineNo, fmt.Sprintf("label %q redefined", name)}
			}
			labels[name] = buf.Len()
			fields = fields[1:]
			if len(fields) == 0 {
				continue
			}
		}

		op, ok := Lookup(strings.ToUpper(fields[0]))
		if !ok {
			return nil, &AsmError{lineNo, fmt.Sprintf("unknown mnemonic %q", fields[0])}
		}
		info := GetOpcodeInfo(op)
		args := fields[1:]
		if info.Operand == OperandNone {
			if len(args) != 0 {
				return nil, &AsmError{lineNo, fmt.Sprintf("%s takes no operand", info.Name)}
			}
			buf.AddInstruction(op)
			continue
		}
		if len(args) != 1 {
			return nil, &AsmError{lineNo, fmt.Sprintf("%s takes exactly one operand", info.Name)}
		}
		arg := args[0]

		buf.AddInstruction(op)
		switch info.Operand {
		case OperandWord:
			w, err := parseWord(arg)
			if err != nil {
				return nil, &AsmError{lineNo, err.Error()}
			}
			buf.AddWord(w)
		case OperandIdentifier:
			id, err := NewIdentifier(arg)
			if err != nil {
				return nil, &AsmError{lineNo, err.Error()}
			}
			buf.AddIdentifier(id)
		case OperandSlot:
			slot, err := strconv.ParseUint(arg, 0, 16)
			if err != nil {
				return nil, &AsmError{lineNo, fmt.Sprintf("invalid slot %q", arg)}
			}
			buf.AddAddress(uint16(slot))
		case OperandAddress:
			if addr, err := strconv.ParseUint(arg, 0, 16); err == nil {
				buf.AddAddress(uint16(addr))
				continue
			}
			fixups = append(fixups, fixup{label: buf.CreateLabel(), name: arg, line: lineNo})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	for _, f := range fixups {
		target, ok := labels[f.name]
		if !ok {
			return nil, &AsmError{f.line, fmt.Sprintf("undefined label %q", f.name)}
		}
		if target > MaxCodeSize {
			return nil, &AsmError{f.line, fmt.Sprintf("label %q at %d is out of address range", f.name, target)}
		}
		if err := buf.SetLabel(f.label, uint16(target)); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// parseWord accepts an int32, a float32 (anything with a '.', an exponent
// or an 'f' suffix), a raw 32-bit hex pattern, or true/false.
func parseWord(s string) (uint32, error) {
	switch strings.ToLower(s) {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}

	isHex := strings.HasPrefix(strings.ToLower(strings.TrimLeft(s, "+-")), "0x")
	if !isHex && (strings.ContainsAny(s, ".eE") || strings.HasSuffix(s, "f")) {
		f, err := strconv.ParseFloat(strings.TrimSuffix(s, "f"), 32)
		if err != nil {
			return 0, fmt.Errorf("invalid float literal %q", s)
		}
		return math.Float32bits(float32(f)), nil
	}

	if v, err := strconv.ParseInt(s, 0, 32); err == nil {
		return uint32(int32(v)), nil
	}
	if v, err := strconv.ParseUint(s, 0, 32); err == nil {
		return uint32(v), nil
	}
	return 0, fmt.Errorf("invalid literal %q", s)
}
