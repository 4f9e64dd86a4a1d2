package pcode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BufferIncrement is the number of bytes a Buffer grows by when it runs out
// of capacity.
const BufferIncrement = 32

// MaxCodeSize is the largest program addressable by a 2-byte jump operand.
const MaxCodeSize = math.MaxUint16

// ByteOrder is the wire byte order of every multi-byte operand.
var ByteOrder = binary.LittleEndian

// Buffer is a growable pcode byte sequence. Every Add method returns the
// offset at which its value was written, which can be used as a jump target.
//
// A Buffer is exclusively owned by its creator until it is appended into
// another buffer or copied into a program store.
type Buffer struct {
	data []byte

	// elideNop enables trailing NOP elision; trailingNop is the offset of
	// a NOP instruction written as the last byte of data, or -1.
	elideNop    bool
	trailingNop int
}

// BufferOption configures a Buffer.
type BufferOption func(*Buffer)

// WithNopElision makes AddInstruction overwrite a NOP instruction that was
// the last thing written, instead of appending after it. Only NOPs written
// through AddInstruction on the same buffer are elided; an operand byte
// that happens to equal 0x00 is never touched.
func WithNopElision() BufferOption {
	return func(b *Buffer) { b.elideNop = true }
}

// NewBuffer creates an empty buffer.
func NewBuffer(opts ...BufferOption) *Buffer {
	b := &Buffer{
		data:        make([]byte, 0, BufferIncrement),
		trailingNop: -1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Clone returns an independent copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	c := &Buffer{
		data:        make([]byte, len(b.data), cap(b.data)),
		elideNop:    b.elideNop,
		trailingNop: b.trailingNop,
	}
	copy(c.data, b.data)
	return c
}

// Release drops the buffer contents. The buffer is empty but usable
// afterwards.
func (b *Buffer) Release() {
	b.data = nil
	b.trailingNop = -1
}

// Len returns the number of bytes written.
func (b *Buffer) Len() int { return len(b.data) }

// Cap returns the current capacity.
func (b *Buffer) Cap() int { return cap(b.data) }

// Bytes returns the written bytes. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.data }

// IsEmpty reports whether nothing has been written.
func (b *Buffer) IsEmpty() bool { return b == nil || len(b.data) == 0 }

// grow extends the buffer by n bytes, growing capacity in BufferIncrement
// steps, and returns the offset of the first new byte.
func (b *Buffer) grow(n int) int {
	offset := len(b.data)
	need := offset + n
	if need > cap(b.data) {
		newCap := cap(b.data)
		for newCap < need {
			newCap += BufferIncrement
		}
		data := make([]byte, offset, newCap)
		copy(data, b.data)
		b.data = data
	}
	b.data = b.data[:need]
	b.trailingNop = -1
	return offset
}

// AddInstruction appends a single opcode byte.
func (b *Buffer) AddInstruction(op Opcode) int {
	if b.elideNop && op != OpNop && b.trailingNop >= 0 && b.trailingNop == len(b.data)-1 {
		b.data = b.data[:b.trailingNop]
	}
	offset := b.grow(1)
	b.data[offset] = byte(op)
	if op == OpNop {
		b.trailingNop = offset
	}
	return offset
}

// AddIdentifier appends a fixed-width name.
func (b *Buffer) AddIdentifier(id Identifier) int {
	offset := b.grow(IdentifierSize)
	copy(b.data[offset:], id[:])
	return offset
}

// AddInt32 appends a 4-byte integer.
func (b *Buffer) AddInt32(v int32) int {
	offset := b.grow(WordSize)
	ByteOrder.PutUint32(b.data[offset:], uint32(v))
	return offset
}

// AddAddress appends a 2-byte address.
func (b *Buffer) AddAddress(addr uint16) int {
	offset := b.grow(AddressSize)
	ByteOrder.PutUint16(b.data[offset:], addr)
	return offset
}

// AddFloat32 appends a 4-byte IEEE-754 float.
func (b *Buffer) AddFloat32(v float32) int {
	offset := b.grow(WordSize)
	ByteOrder.PutUint32(b.data[offset:], math.Float32bits(v))
	return offset
}

// AddBool32 appends a boolean as a 4-byte 0 or 1.
func (b *Buffer) AddBool32(v bool) int {
	var w int32
	if v {
		w = 1
	}
	return b.AddInt32(w)
}

// AddWord appends a raw 4-byte value.
func (b *Buffer) AddWord(w uint32) int {
	offset := b.grow(WordSize)
	ByteOrder.PutUint32(b.data[offset:], w)
	return offset
}

// Append concatenates the contents of other and returns the offset at
// which they start. Addresses inside other are not relocated.
func (b *Buffer) Append(other *Buffer) int {
	if other.IsEmpty() {
		return len(b.data)
	}
	offset := b.grow(len(other.data))
	copy(b.data[offset:], other.data)
	return offset
}

// CreateLabel reserves a 2-byte zero placeholder for an address that is
// not known yet and returns its offset.
func (b *Buffer) CreateLabel() int {
	return b.AddAddress(0)
}

// SetLabel patches a placeholder created by CreateLabel with its address.
func (b *Buffer) SetLabel(label int, addr uint16) error {
	if label < 0 || label+AddressSize > len(b.data) {
		return fmt.Errorf("pcode: label offset %d outside buffer of %d bytes", label, len(b.data))
	}
	ByteOrder.PutUint16(b.data[label:], addr)
	return nil
}

// Address returns the current end offset as a jump address.
func (b *Buffer) Address() (uint16, error) {
	if len(b.data) > MaxCodeSize {
		return 0, fmt.Errorf("pcode: offset %d exceeds address range", len(b.data))
	}
	return uint16(len(b.data)), nil
}
