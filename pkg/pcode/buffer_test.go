package pcode

import (
	"bytes"
	"errors"
	"testing"
)

func TestNewBuffer(t *testing.T) {
	b := NewBuffer()
	if b.Len() != 0 {
		t.Errorf("Len() = %d, want 0", b.Len())
	}
	if b.Cap() != BufferIncrement {
		t.Errorf("Cap() = %d, want %d", b.Cap(), BufferIncrement)
	}
	if !b.IsEmpty() {
		t.Error("new buffer is not empty")
	}
}

func TestBufferAddReturnsOffsets(t *testing.T) {
	b := NewBuffer()

	if off := b.AddInstruction(OpPush32); off != 0 {
		t.Errorf("AddInstruction offset = %d, want 0", off)
	}
	if off := b.AddInt32(-2); off != 1 {
		t.Errorf("AddInt32 offset = %d, want 1", off)
	}
	if off := b.AddInstruction(OpRStore32); off != 5 {
		t.Errorf("AddInstruction offset = %d, want 5", off)
	}
	if off := b.AddIdentifier(MustIdentifier("temp")); off != 6 {
		t.Errorf("AddIdentifier offset = %d, want 6", off)
	}
	if off := b.AddAddress(0x1234); off != 22 {
		t.Errorf("AddAddress offset = %d, want 22", off)
	}
	if b.Len() != 24 {
		t.Errorf("Len() = %d, want 24", b.Len())
	}
}

func TestBufferWireOrderIsLittleEndian(t *testing.T) {
	b := NewBuffer()
	b.AddInt32(0x01020304)
	b.AddAddress(0x0A0B)
	b.AddFloat32(1.0)
	b.AddBool32(true)
	b.AddBool32(false)

	want := []byte{
		0x04, 0x03, 0x02, 0x01,
		0x0B, 0x0A,
		0x00, 0x00, 0x80, 0x3F,
		0x01, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	if !bytes.Equal(b.Bytes(), want) {
		t.Errorf("Bytes() = % X, want % X", b.Bytes(), want)
	}
}

func TestBufferGrowsByIncrement(t *testing.T) {
	b := NewBuffer()
	for i := 0; i < BufferIncrement; i++ {
		b.AddInstruction(OpDup32)
	}
	if b.Cap() != BufferIncrement {
		t.Fatalf("Cap() = %d, want %d", b.Cap(), BufferIncrement)
	}
	b.AddInstruction(OpDup32)
	if b.Cap() != 2*BufferIncrement {
		t.Errorf("Cap() after overflow = %d, want %d", b.Cap(), 2*BufferIncrement)
	}

	big := NewBuffer()
	for i := 0; i < 5; i++ {
		big.AddIdentifier(MustIdentifier("x"))
	}
	b.Append(big)
	if b.Cap()%BufferIncrement != 0 || b.Cap() < b.Len() {
		t.Errorf("Cap() = %d for Len() %d, want a multiple of %d", b.Cap(), b.Len(), BufferIncrement)
	}
}

func TestBufferLabels(t *testing.T) {
	b := NewBuffer()
	b.AddInstruction(OpJump)
	label := b.CreateLabel()
	if label != 1 {
		t.Fatalf("CreateLabel() = %d, want 1", label)
	}
	if got := b.Bytes()[1:3]; !bytes.Equal(got, []byte{0, 0}) {
		t.Fatalf("placeholder = % X, want 00 00", got)
	}

	b.AddInstruction(OpNop)
	target, err := b.Address()
	if err != nil {
		t.Fatal(err)
	}
	b.AddInstruction(OpHalt)
	if err := b.SetLabel(label, target); err != nil {
		t.Fatalf("SetLabel failed: %v", err)
	}

	in, err := Decode(b.Bytes(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if in.Address() != 4 {
		t.Errorf("patched address = %d, want 4", in.Address())
	}

	if err := b.SetLabel(b.Len()-1, 0); err == nil {
		t.Error("SetLabel past the end should fail")
	}
	if err := b.SetLabel(-1, 0); err == nil {
		t.Error("SetLabel with negative offset should fail")
	}
}

func TestBufferAppendAndClone(t *testing.T) {
	a := NewBuffer()
	a.AddInstruction(OpIPush1)
	b := NewBuffer()
	b.AddInstruction(OpIPush0)
	b.AddInstruction(OpIAdd)

	if off := a.Append(b); off != 1 {
		t.Errorf("Append offset = %d, want 1", off)
	}
	if off := a.Append(NewBuffer()); off != 3 {
		t.Errorf("Append(empty) offset = %d, want 3", off)
	}
	want := []byte{byte(OpIPush1), byte(OpIPush0), byte(OpIAdd)}
	if !bytes.Equal(a.Bytes(), want) {
		t.Errorf("Bytes() = % X, want % X", a.Bytes(), want)
	}

	c := a.Clone()
	c.AddInstruction(OpHalt)
	if a.Len() != 3 {
		t.Errorf("original Len() = %d after clone was modified, want 3", a.Len())
	}
	if c.Len() != 4 {
		t.Errorf("clone Len() = %d, want 4", c.Len())
	}

	c.Release()
	if !c.IsEmpty() {
		t.Error("Release did not empty the buffer")
	}
	c.AddInstruction(OpNop)
	if c.Len() != 1 {
		t.Errorf("Len() after reuse = %d, want 1", c.Len())
	}
}

func TestBufferNopElision(t *testing.T) {
	b := NewBuffer(WithNopElision())
	b.AddInstruction(OpIPush1)
	b.AddInstruction(OpNop)
	off := b.AddInstruction(OpDup32)
	if off != 1 {
		t.Errorf("offset after elision = %d, want 1", off)
	}
	want := []byte{byte(OpIPush1), byte(OpDup32)}
	if !bytes.Equal(b.Bytes(), want) {
		t.Errorf("Bytes() = % X, want % X", b.Bytes(), want)
	}

	// A zero operand byte is not a NOP instruction.
	b = NewBuffer(WithNopElision())
	b.AddInstruction(OpPush32)
	b.AddInt32(0)
	b.AddInstruction(OpHalt)
	if b.Len() != 6 {
		t.Errorf("Len() = %d, want 6: operand bytes must survive elision", b.Len())
	}

	// Consecutive NOPs are kept; only the trailing one is replaced.
	b = NewBuffer(WithNopElision())
	b.AddInstruction(OpNop)
	b.AddInstruction(OpNop)
	b.AddInstruction(OpHalt)
	want = []byte{byte(OpNop), byte(OpHalt)}
	if !bytes.Equal(b.Bytes(), want) {
		t.Errorf("Bytes() = % X, want % X", b.Bytes(), want)
	}

	// Without the option NOPs stay.
	b = NewBuffer()
	b.AddInstruction(OpNop)
	b.AddInstruction(OpHalt)
	if b.Len() != 2 {
		t.Errorf("Len() without elision = %d, want 2", b.Len())
	}
}

func TestIdentifier(t *testing.T) {
	id, err := NewIdentifier("temperature")
	if err != nil {
		t.Fatal(err)
	}
	if id.String() != "temperature" {
		t.Errorf("String() = %q, want temperature", id.String())
	}

	full, err := NewIdentifier("exactly16bytes!!")
	if err != nil {
		t.Fatal(err)
	}
	if full.String() != "exactly16bytes!!" {
		t.Errorf("String() = %q", full.String())
	}

	if _, err := NewIdentifier("seventeen-bytes!!"); !errors.Is(err, ErrIdentifierTooLong) {
		t.Errorf("long name error = %v, want ErrIdentifierTooLong", err)
	}
	if _, err := NewIdentifier(""); !errors.Is(err, ErrEmptyIdentifier) {
		t.Errorf("empty name error = %v, want ErrEmptyIdentifier", err)
	}
}

func TestDecodeOperands(t *testing.T) {
	b := NewBuffer()
	b.AddInstruction(OpPush32)
	b.AddFloat32(2.5)
	b.AddInstruction(OpVLoad32)
	b.AddAddress(7)
	b.AddInstruction(OpRLoad32)
	b.AddIdentifier(MustIdentifier("level"))

	code := b.Bytes()
	in, err := Decode(code, 0)
	if err != nil {
		t.Fatal(err)
	}
	if in.Float32() != 2.5 || in.Len() != 5 {
		t.Errorf("PUSH32 decoded as %v len %d", in.Float32(), in.Len())
	}
	in, _ = Decode(code, 5)
	if in.Op != OpVLoad32 || in.Address() != 7 {
		t.Errorf("VLOAD32 decoded as %s %d", in.Op, in.Address())
	}
	in, _ = Decode(code, 8)
	if in.Identifier().String() != "level" {
		t.Errorf("RLOAD32 operand = %q, want level", in.Identifier())
	}

	if _, err := Decode(code[:3], 0); !errors.Is(err, ErrTruncated) {
		t.Errorf("truncated decode error = %v, want ErrTruncated", err)
	}
	if _, err := Decode([]byte{0xEE}, 0); !errors.Is(err, ErrUnknownOpcode) {
		t.Errorf("unknown decode error = %v, want ErrUnknownOpcode", err)
	}
}
