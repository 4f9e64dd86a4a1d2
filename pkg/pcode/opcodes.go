package pcode

import "fmt"

// Opcode represents a pcode instruction.
// Opcodes are organized into ranges by category for easy identification.
// The numeric values are the wire format and must not be renumbered.
type Opcode byte

const (
	// ========================================================================
	// Stack and execution control (0x00-0x0F)
	// ========================================================================

	OpNop   Opcode = 0x00 // No operation, relocatable placeholder
	OpHalt  Opcode = 0x01 // Stop execution
	OpDup32 Opcode = 0x02 // Duplicate the top 4-byte value
	OpPop32 Opcode = 0x03 // Discard the top 4-byte value

	// ========================================================================
	// Immediates (0x10-0x1F)
	// ========================================================================

	OpPush32 Opcode = 0x10 // Push literal: PUSH32 <value:4>
	OpIPush0 Opcode = 0x11 // Push int32 0
	OpIPush1 Opcode = 0x12 // Push int32 1
	OpFPush0 Opcode = 0x13 // Push float32 0.0
	OpFPush1 Opcode = 0x14 // Push float32 1.0

	// ========================================================================
	// Field access (0x20-0x27)
	// ========================================================================

	OpRLoad32  Opcode = 0x20 // Push field value: RLOAD32 <name:16>
	OpRStore32 Opcode = 0x21 // Pop and store to field: RSTORE32 <name:16>

	// ========================================================================
	// Local variables (0x28-0x2F)
	// ========================================================================

	OpVLoad32  Opcode = 0x28 // Push local: VLOAD32 <slot:2>
	OpVStore32 Opcode = 0x29 // Pop and store to local: VSTORE32 <slot:2>

	// ========================================================================
	// Control flow (0x30-0x3F)
	// ========================================================================

	OpJump Opcode = 0x30 // Unconditional jump: JUMP <address:2>
	OpJeqz Opcode = 0x31 // Pop int32, jump if == 0
	OpJnez Opcode = 0x32 // Pop int32, jump if != 0
	OpJgtz Opcode = 0x33 // Pop int32, jump if > 0
	OpJgez Opcode = 0x34 // Pop int32, jump if >= 0
	OpJltz Opcode = 0x35 // Pop int32, jump if < 0
	OpJlez Opcode = 0x36 // Pop int32, jump if <= 0

	// ========================================================================
	// Conversion (0x40-0x4F)
	// ========================================================================

	OpI2F Opcode = 0x40 // int32 -> float32
	OpF2I Opcode = 0x41 // float32 -> int32 (truncating)

	// ========================================================================
	// Integer arithmetic and bitwise (0x50-0x5F)
	// ========================================================================

	OpIAdd Opcode = 0x50 // Pop two, push a + b
	OpISub Opcode = 0x51 // Pop two, push a - b (b is TOS)
	OpIMul Opcode = 0x52 // Pop two, push a * b
	OpIDiv Opcode = 0x53 // Pop two, push a / b (truncating)
	OpIMod Opcode = 0x54 // Pop two, push a % b
	OpIInv Opcode = 0x55 // Negate top of stack
	OpINot Opcode = 0x56 // Bitwise complement
	OpIAnd Opcode = 0x57 // Bitwise and
	OpIOr  Opcode = 0x58 // Bitwise or
	OpIXor Opcode = 0x59 // Bitwise xor
	OpLNot Opcode = 0x5A // Logical not: push 1 if TOS == 0, else 0

	// ========================================================================
	// Integer comparison (0x60-0x6F)
	// ========================================================================

	OpIEq Opcode = 0x60
	OpINe Opcode = 0x61
	OpIGt Opcode = 0x62
	OpIGe Opcode = 0x63
	OpILt Opcode = 0x64
	OpILe Opcode = 0x65

	// ========================================================================
	// Float arithmetic (0x70-0x77)
	// ========================================================================

	OpFAdd Opcode = 0x70
	OpFSub Opcode = 0x71
	OpFMul Opcode = 0x72
	OpFDiv Opcode = 0x73
	OpFInv Opcode = 0x74 // Negate top of stack

	// ========================================================================
	// Float comparison (0x78-0x7F)
	// ========================================================================

	OpFEq Opcode = 0x78
	OpFNe Opcode = 0x79
	OpFGt Opcode = 0x7A
	OpFGe Opcode = 0x7B
	OpFLt Opcode = 0x7C
	OpFLe Opcode = 0x7D
)

// Operand describes the bytes that follow an opcode in the code stream.
type Operand uint8

const (
	// OperandNone marks an instruction with no operand bytes.
	OperandNone Operand = iota
	// OperandWord is a 4-byte int32/float32/bool32 literal.
	OperandWord
	// OperandIdentifier is a 16-byte field name.
	OperandIdentifier
	// OperandAddress is a 2-byte absolute code address.
	OperandAddress
	// OperandSlot is a 2-byte local variable slot.
	OperandSlot
)

// Len returns the operand width in bytes.
func (o Operand) Len() int {
	switch o {
	case OperandWord:
		return WordSize
	case OperandIdentifier:
		return IdentifierSize
	case OperandAddress, OperandSlot:
		return AddressSize
	default:
		return 0
	}
}

// Operand widths on the wire.
const (
	WordSize    = 4
	AddressSize = 2
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name      string  // Mnemonic
	StackPop  int     // Values popped from the operand stack
	StackPush int     // Values pushed to the operand stack
	Operand   Operand // Operand following the opcode byte
}

// OperandLen returns the number of operand bytes following the opcode.
func (i OpcodeInfo) OperandLen() int {
	return i.Operand.Len()
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop:   {"NOP", 0, 0, OperandNone},
	OpHalt:  {"HALT", 0, 0, OperandNone},
	OpDup32: {"DUP32", 1, 2, OperandNone},
	OpPop32: {"POP32", 1, 0, OperandNone},

	OpPush32: {"PUSH32", 0, 1, OperandWord},
	OpIPush0: {"IPUSH_0", 0, 1, OperandNone},
	OpIPush1: {"IPUSH_1", 0, 1, OperandNone},
	OpFPush0: {"FPUSH_0", 0, 1, OperandNone},
	OpFPush1: {"FPUSH_1", 0, 1, OperandNone},

	OpRLoad32:  {"RLOAD32", 0, 1, OperandIdentifier},
	OpRStore32: {"RSTORE32", 1, 0, OperandIdentifier},

	OpVLoad32:  {"VLOAD32", 0, 1, OperandSlot},
	OpVStore32: {"VSTORE32", 1, 0, OperandSlot},

	OpJump: {"JUMP", 0, 0, OperandAddress},
	OpJeqz: {"JEQZ", 1, 0, OperandAddress},
	OpJnez: {"JNEZ", 1, 0, OperandAddress},
	OpJgtz: {"JGTZ", 1, 0, OperandAddress},
	OpJgez: {"JGEZ", 1, 0, OperandAddress},
	OpJltz: {"JLTZ", 1, 0, OperandAddress},
	OpJlez: {"JLEZ", 1, 0, OperandAddress},

	OpI2F: {"I2F", 1, 1, OperandNone},
	OpF2I: {"F2I", 1, 1, OperandNone},

	OpIAdd: {"IADD", 2, 1, OperandNone},
	OpISub: {"ISUB", 2, 1, OperandNone},
	OpIMul: {"IMUL", 2, 1, OperandNone},
	OpIDiv: {"IDIV", 2, 1, OperandNone},
	OpIMod: {"IMOD", 2, 1, OperandNone},
	OpIInv: {"IINV", 1, 1, OperandNone},
	OpINot: {"INOT", 1, 1, OperandNone},
	OpIAnd: {"IAND", 2, 1, OperandNone},
	OpIOr:  {"IOR", 2, 1, OperandNone},
	OpIXor: {"IXOR", 2, 1, OperandNone},
	OpLNot: {"LNOT", 1, 1, OperandNone},

	OpIEq: {"IEQ", 2, 1, OperandNone},
	OpINe: {"INE", 2, 1, OperandNone},
	OpIGt: {"IGT", 2, 1, OperandNone},
	OpIGe: {"IGE", 2, 1, OperandNone},
	OpILt: {"ILT", 2, 1, OperandNone},
	OpILe: {"ILE", 2, 1, OperandNone},

	OpFAdd: {"FADD", 2, 1, OperandNone},
	OpFSub: {"FSUB", 2, 1, OperandNone},
	OpFMul: {"FMUL", 2, 1, OperandNone},
	OpFDiv: {"FDIV", 2, 1, OperandNone},
	OpFInv: {"FINV", 1, 1, OperandNone},

	OpFEq: {"FEQ", 2, 1, OperandNone},
	OpFNe: {"FNE", 2, 1, OperandNone},
	OpFGt: {"FGT", 2, 1, OperandNone},
	OpFGe: {"FGE", 2, 1, OperandNone},
	OpFLt: {"FLT", 2, 1, OperandNone},
	OpFLe: {"FLE", 2, 1, OperandNone},
}

// opcodeByName is the reverse of opcodeInfoTable, used by the assembler.
var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns an "UNKNOWN" info for undefined opcodes.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// IsDefined reports whether op is part of the instruction set.
func (op Opcode) IsDefined() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the mnemonic for the opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Lookup returns the opcode for a mnemonic.
func Lookup(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// Opcodes returns every defined opcode in ascending numeric order.
func Opcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeInfoTable))
	for i := 0; i < 256; i++ {
		if Opcode(i).IsDefined() {
			ops = append(ops, Opcode(i))
		}
	}
	return ops
}

// IsJump reports whether op transfers control to an address operand.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpJlez
}
