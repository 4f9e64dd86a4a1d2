// Package interp executes pcode.
//
// A Machine holds the collaborators shared by every run: the field registry
// and the local variable table. Each run has its own Context holding the
// program counter, the operand stack and the code being executed, so a
// Machine can be reused for any number of programs and nested runs do not
// clobber each other's state.
//
// Dispatch is an exhaustive switch over pcode.Opcode. Any stack underflow,
// bad jump target or undefined opcode aborts the run with a *Fault.
package interp

import (
	"errors"
	"fmt"
	"math"

	"github.com/guidorota/brix-sub000/pkg/fields"
	"github.com/guidorota/brix-sub000/pkg/pcode"
)

const (
	// DefaultStackSize is the operand stack depth in words.
	DefaultStackSize = 64

	// DefaultVariableTableSize is the number of local variable slots.
	DefaultVariableTableSize = 256
)

var (
	ErrStackUnderflow    = errors.New("stack underflow")
	ErrStackOverflow     = errors.New("stack overflow")
	ErrInvalidJumpTarget = errors.New("invalid jump target")
	ErrDivisionByZero    = errors.New("integer division by zero")
	ErrInvalidSlot       = errors.New("invalid variable slot")
	ErrStepLimit         = errors.New("step limit exceeded")
	ErrEmptyResult       = errors.New("program left no result")

	// ErrUnknownOpcode and ErrTruncated are shared with the decoder.
	ErrUnknownOpcode = pcode.ErrUnknownOpcode
	ErrTruncated     = pcode.ErrTruncated
)

// Fault reports where a run was aborted.
type Fault struct {
	Op  pcode.Opcode
	PC  int
	Err error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s at %04x: %v", f.Op, f.PC, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Machine executes programs against a field registry and a variable table.
// A Machine is not safe for concurrent use; the scheduler runs one program
// at a time.
type Machine struct {
	registry  fields.Registry
	vars      []uint32
	stackSize int
	stepLimit int
}

// Option configures a Machine.
type Option func(*Machine)

// WithStackSize sets the operand stack depth in words.
func WithStackSize(n int) Option {
	return func(m *Machine) { m.stackSize = n }
}

// WithVariableTableSize sets the number of local variable slots.
func WithVariableTableSize(n int) Option {
	return func(m *Machine) { m.vars = make([]uint32, n) }
}

// WithStepLimit aborts runs that execute more than n instructions.
// Zero means no limit.
func WithStepLimit(n int) Option {
	return func(m *Machine) { m.stepLimit = n }
}

// New creates a Machine. registry may be nil for programs that never
// touch fields.
func New(registry fields.Registry, opts ...Option) *Machine {
	m := &Machine{
		registry:  registry,
		stackSize: DefaultStackSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.vars == nil {
		m.vars = make([]uint32, DefaultVariableTableSize)
	}
	return m
}

// VariableTableSize returns the number of local variable slots.
func (m *Machine) VariableTableSize() int { return len(m.vars) }

// Variable returns the raw value in a local variable slot.
func (m *Machine) Variable(slot uint16) (uint32, error) {
	if int(slot) >= len(m.vars) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	return m.vars[slot], nil
}

// SetVariable stores a raw value in a local variable slot.
func (m *Machine) SetVariable(slot uint16, w uint32) error {
	if int(slot) >= len(m.vars) {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	m.vars[slot] = w
	return nil
}

// Execute runs code to completion.
func (m *Machine) Execute(code []byte) error {
	return m.Run(m.NewContext(code))
}

// Evaluate runs code to completion and returns the word left on top of the
// stack.
func (m *Machine) Evaluate(code []byte) (uint32, error) {
	ctx := m.NewContext(code)
	if err := m.Run(ctx); err != nil {
		return 0, err
	}
	w, ok := ctx.Top()
	if !ok {
		return 0, ErrEmptyResult
	}
	return w, nil
}

// NewContext prepares a run of code.
func (m *Machine) NewContext(code []byte) *Context {
	return &Context{
		code:  code,
		stack: make([]uint32, m.stackSize),
	}
}

// Run executes ctx until it halts, reaches the end of its code, or faults.
// A halted context is not resumed.
func (m *Machine) Run(ctx *Context) error {
	steps := 0
	for !ctx.halted && ctx.pc < len(ctx.code) {
		if m.stepLimit > 0 {
			if steps >= m.stepLimit {
				return &Fault{Op: pcode.Opcode(ctx.code[ctx.pc]), PC: ctx.pc, Err: ErrStepLimit}
			}
			steps++
		}
		start := ctx.pc
		op := pcode.Opcode(ctx.code[ctx.pc])
		ctx.pc++
		if err := m.step(ctx, op); err != nil {
			ctx.halted = true
			return &Fault{Op: op, PC: start, Err: err}
		}
	}
	ctx.halted = true
	return nil
}

func (m *Machine) step(ctx *Context, op pcode.Opcode) error {
	switch op {
	// --- Stack and execution control ---
	case pcode.OpNop:

	case pcode.OpHalt:
		ctx.halted = true

	case pcode.OpDup32:
		v, err := ctx.peek()
		if err != nil {
			return err
		}
		return ctx.push(v)

	case pcode.OpPop32:
		_, err := ctx.pop()
		return err

	// --- Immediates ---
	case pcode.OpPush32:
		w, err := ctx.word()
		if err != nil {
			return err
		}
		return ctx.push(w)

	case pcode.OpIPush0:
		return ctx.push(0)

	case pcode.OpIPush1:
		return ctx.push(1)

	case pcode.OpFPush0:
		return ctx.push(math.Float32bits(0))

	case pcode.OpFPush1:
		return ctx.push(math.Float32bits(1))

	// --- Fields ---
	case pcode.OpRLoad32:
		name, err := ctx.identifier()
		if err != nil {
			return err
		}
		return m.loadField(ctx, name)

	case pcode.OpRStore32:
		name, err := ctx.identifier()
		if err != nil {
			return err
		}
		return m.storeField(ctx, name)

	// --- Local variables ---
	case pcode.OpVLoad32:
		slot, err := ctx.address()
		if err != nil {
			return err
		}
		if int(slot) >= len(m.vars) {
			return fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
		}
		return ctx.push(m.vars[slot])

	case pcode.OpVStore32:
		slot, err := ctx.address()
		if err != nil {
			return err
		}
		if int(slot) >= len(m.vars) {
			return fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
		}
		v, err := ctx.pop()
		if err != nil {
			return err
		}
		m.vars[slot] = v

	// --- Control flow ---
	case pcode.OpJump:
		target, err := ctx.address()
		if err != nil {
			return err
		}
		return ctx.jump(target)

	case pcode.OpJeqz, pcode.OpJnez, pcode.OpJgtz, pcode.OpJgez, pcode.OpJltz, pcode.OpJlez:
		target, err := ctx.address()
		if err != nil {
			return err
		}
		v, err := ctx.pop()
		if err != nil {
			return err
		}
		if branchTaken(op, int32(v)) {
			return ctx.jump(target)
		}

	// --- Conversion ---
	case pcode.OpI2F:
		return ctx.unary(pcode.IntToFloat)

	case pcode.OpF2I:
		return ctx.unary(pcode.FloatToInt)

	// --- Integer arithmetic and bitwise ---
	case pcode.OpIAdd:
		return ctx.intBinary(func(a, b int32) int32 { return a + b })
	case pcode.OpISub:
		return ctx.intBinary(func(a, b int32) int32 { return a - b })
	case pcode.OpIMul:
		return ctx.intBinary(func(a, b int32) int32 { return a * b })
	case pcode.OpIDiv, pcode.OpIMod:
		b, a, err := ctx.pop2()
		if err != nil {
			return err
		}
		if b == 0 {
			return ErrDivisionByZero
		}
		if op == pcode.OpIDiv {
			return ctx.push(uint32(int32(a) / int32(b)))
		}
		return ctx.push(uint32(int32(a) % int32(b)))
	case pcode.OpIInv:
		return ctx.unary(func(a uint32) uint32 { return uint32(-int32(a)) })
	case pcode.OpINot:
		return ctx.unary(func(a uint32) uint32 { return ^a })
	case pcode.OpIAnd:
		return ctx.intBinary(func(a, b int32) int32 { return a & b })
	case pcode.OpIOr:
		return ctx.intBinary(func(a, b int32) int32 { return a | b })
	case pcode.OpIXor:
		return ctx.intBinary(func(a, b int32) int32 { return a ^ b })
	case pcode.OpLNot:
		return ctx.unary(func(a uint32) uint32 { return boolWord(a == 0) })

	// --- Integer comparison ---
	case pcode.OpIEq:
		return ctx.intCompare(func(a, b int32) bool { return a == b })
	case pcode.OpINe:
		return ctx.intCompare(func(a, b int32) bool { return a != b })
	case pcode.OpIGt:
		return ctx.intCompare(func(a, b int32) bool { return a > b })
	case pcode.OpIGe:
		return ctx.intCompare(func(a, b int32) bool { return a >= b })
	case pcode.OpILt:
		return ctx.intCompare(func(a, b int32) bool { return a < b })
	case pcode.OpILe:
		return ctx.intCompare(func(a, b int32) bool { return a <= b })

	// --- Float arithmetic ---
	case pcode.OpFAdd:
		return ctx.floatBinary(func(a, b float32) float32 { return a + b })
	case pcode.OpFSub:
		return ctx.floatBinary(func(a, b float32) float32 { return a - b })
	case pcode.OpFMul:
		return ctx.floatBinary(func(a, b float32) float32 { return a * b })
	case pcode.OpFDiv:
		return ctx.floatBinary(func(a, b float32) float32 { return a / b })
	case pcode.OpFInv:
		return ctx.unary(func(a uint32) uint32 {
			return math.Float32bits(-math.Float32frombits(a))
		})

	// --- Float comparison ---
	case pcode.OpFEq:
		return ctx.floatCompare(func(a, b float32) bool { return a == b })
	case pcode.OpFNe:
		return ctx.floatCompare(func(a, b float32) bool { return a != b })
	case pcode.OpFGt:
		return ctx.floatCompare(func(a, b float32) bool { return a > b })
	case pcode.OpFGe:
		return ctx.floatCompare(func(a, b float32) bool { return a >= b })
	case pcode.OpFLt:
		return ctx.floatCompare(func(a, b float32) bool { return a < b })
	case pcode.OpFLe:
		return ctx.floatCompare(func(a, b float32) bool { return a <= b })

	default:
		return fmt.Errorf("%w 0x%02X", ErrUnknownOpcode, byte(op))
	}
	return nil
}

func branchTaken(op pcode.Opcode, v int32) bool {
	switch op {
	case pcode.OpJeqz:
		return v == 0
	case pcode.OpJnez:
		return v != 0
	case pcode.OpJgtz:
		return v > 0
	case pcode.OpJgez:
		return v >= 0
	case pcode.OpJltz:
		return v < 0
	case pcode.OpJlez:
		return v <= 0
	}
	return false
}

func (m *Machine) loadField(ctx *Context, name pcode.Identifier) error {
	if m.registry == nil {
		return fmt.Errorf("%w: %s (no registry)", fields.ErrUnknownField, name)
	}
	var buf [pcode.WordSize]byte
	if err := m.registry.Get(name, buf[:]); err != nil {
		return err
	}
	return ctx.push(pcode.ByteOrder.Uint32(buf[:]))
}

func (m *Machine) storeField(ctx *Context, name pcode.Identifier) error {
	if m.registry == nil {
		return fmt.Errorf("%w: %s (no registry)", fields.ErrUnknownField, name)
	}
	v, err := ctx.pop()
	if err != nil {
		return err
	}
	var buf [pcode.WordSize]byte
	pcode.ByteOrder.PutUint32(buf[:], v)
	return m.registry.Set(name, buf[:])
}

func boolWord(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}
