package interp

import (
	"fmt"
	"math"

	"github.com/guidorota/brix-sub000/pkg/pcode"
)

// Context is the state of a single run.
type Context struct {
	pc     int
	stack  []uint32
	sp     int // next free slot
	code   []byte
	halted bool
}

// PC returns the program counter.
func (c *Context) PC() int { return c.pc }

// Halted reports whether the run has finished.
func (c *Context) Halted() bool { return c.halted }

// Depth returns the number of words on the stack.
func (c *Context) Depth() int { return c.sp }

// Stack returns a copy of the live stack, bottom first.
func (c *Context) Stack() []uint32 {
	return append([]uint32(nil), c.stack[:c.sp]...)
}

// Top returns the word on top of the stack.
func (c *Context) Top() (uint32, bool) {
	if c.sp == 0 {
		return 0, false
	}
	return c.stack[c.sp-1], true
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (c *Context) push(v uint32) error {
	if c.sp >= len(c.stack) {
		return ErrStackOverflow
	}
	c.stack[c.sp] = v
	c.sp++
	return nil
}

func (c *Context) pop() (uint32, error) {
	if c.sp == 0 {
		return 0, ErrStackUnderflow
	}
	c.sp--
	return c.stack[c.sp], nil
}

func (c *Context) peek() (uint32, error) {
	if c.sp == 0 {
		return 0, ErrStackUnderflow
	}
	return c.stack[c.sp-1], nil
}

// pop2 pops the top of stack b and then the value below it a.
func (c *Context) pop2() (b, a uint32, err error) {
	if c.sp < 2 {
		return 0, 0, ErrStackUnderflow
	}
	c.sp -= 2
	return c.stack[c.sp+1], c.stack[c.sp], nil
}

func (c *Context) unary(f func(uint32) uint32) error {
	if c.sp == 0 {
		return ErrStackUnderflow
	}
	c.stack[c.sp-1] = f(c.stack[c.sp-1])
	return nil
}

func (c *Context) intBinary(f func(a, b int32) int32) error {
	b, a, err := c.pop2()
	if err != nil {
		return err
	}
	return c.push(uint32(f(int32(a), int32(b))))
}

func (c *Context) intCompare(f func(a, b int32) bool) error {
	b, a, err := c.pop2()
	if err != nil {
		return err
	}
	return c.push(boolWord(f(int32(a), int32(b))))
}

func (c *Context) floatBinary(f func(a, b float32) float32) error {
	b, a, err := c.pop2()
	if err != nil {
		return err
	}
	return c.push(math.Float32bits(f(math.Float32frombits(a), math.Float32frombits(b))))
}

func (c *Context) floatCompare(f func(a, b float32) bool) error {
	b, a, err := c.pop2()
	if err != nil {
		return err
	}
	return c.push(boolWord(f(math.Float32frombits(a), math.Float32frombits(b))))
}

// ---------------------------------------------------------------------------
// Code stream
// ---------------------------------------------------------------------------

func (c *Context) operand(n int) ([]byte, error) {
	if c.pc+n > len(c.code) {
		return nil, fmt.Errorf("%w: need %d operand bytes at %04x", ErrTruncated, n, c.pc)
	}
	b := c.code[c.pc : c.pc+n]
	c.pc += n
	return b, nil
}

func (c *Context) word() (uint32, error) {
	b, err := c.operand(pcode.WordSize)
	if err != nil {
		return 0, err
	}
	return pcode.ByteOrder.Uint32(b), nil
}

func (c *Context) address() (uint16, error) {
	b, err := c.operand(pcode.AddressSize)
	if err != nil {
		return 0, err
	}
	return pcode.ByteOrder.Uint16(b), nil
}

func (c *Context) identifier() (pcode.Identifier, error) {
	var id pcode.Identifier
	b, err := c.operand(pcode.IdentifierSize)
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

func (c *Context) jump(target uint16) error {
	if int(target) >= len(c.code) {
		return fmt.Errorf("%w: %04x (code is %d bytes)", ErrInvalidJumpTarget, target, len(c.code))
	}
	c.pc = int(target)
	return nil
}
