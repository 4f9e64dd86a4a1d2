// Package pcode defines the bytecode ("pcode") executed by the brix
// interpreter and the buffer used to build it.
//
// The format is a flat byte stream designed for:
//   - Compact representation (1 byte opcode, most instructions 1-3 bytes)
//   - Fast decoding (fixed operand width per opcode)
//   - Relocation-free storage (a program is a plain byte slice that can be
//     copied into a repository or persisted as-is)
//
// # Wire Format
//
// Every instruction is a 1-byte opcode followed by an operand whose width
// depends only on the opcode:
//
//   - Word operands (PUSH32) are 4 bytes: an int32, an IEEE-754 float32 bit
//     pattern, or a bool32 (0 or 1)
//   - Identifier operands (RLOAD32, RSTORE32) are 16-byte NUL padded names
//   - Address operands (jumps) and slot operands (VLOAD32, VSTORE32) are 2
//     bytes
//
// Multi-byte operands are little-endian regardless of host byte order. The
// numeric opcode values in opcodes.go are part of the format and are pinned
// by tests.
//
// # Building Code
//
// Buffer appends instructions and operands and returns the offset of each
// write. Forward jumps reserve a placeholder with CreateLabel and patch it
// with SetLabel once the target address is known.
//
// Assemble and Disassemble convert between pcode and a line-oriented text
// form used by the brix command and in tests.
package pcode
