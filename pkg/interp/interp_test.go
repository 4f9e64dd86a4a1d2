package interp

import (
	"errors"
	"math"
	"testing"

	"github.com/guidorota/brix-sub000/pkg/fields"
	"github.com/guidorota/brix-sub000/pkg/pcode"
)

func assemble(t *testing.T, src string) []byte {
	t.Helper()
	buf, err := pcode.Assemble(src)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	return buf.Bytes()
}

func TestIntegerOperations(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want int32
	}{
		{"add", "PUSH32 3\nPUSH32 4\nIADD", 7},
		{"sub", "PUSH32 3\nPUSH32 4\nISUB", -1},
		{"mul", "PUSH32 -6\nPUSH32 7\nIMUL", -42},
		{"div truncates", "PUSH32 -7\nPUSH32 2\nIDIV", -3},
		{"mod", "PUSH32 -7\nPUSH32 2\nIMOD", -1},
		{"neg", "PUSH32 9\nIINV", -9},
		{"not", "IPUSH_0\nINOT", -1},
		{"and", "PUSH32 12\nPUSH32 10\nIAND", 8},
		{"or", "PUSH32 12\nPUSH32 10\nIOR", 14},
		{"xor", "PUSH32 12\nPUSH32 10\nIXOR", 6},
		{"lnot zero", "IPUSH_0\nLNOT", 1},
		{"lnot one", "IPUSH_1\nLNOT", 0},
		{"eq", "PUSH32 5\nPUSH32 5\nIEQ", 1},
		{"ne", "PUSH32 5\nPUSH32 5\nINE", 0},
		{"gt", "PUSH32 6\nPUSH32 5\nIGT", 1},
		{"ge", "PUSH32 5\nPUSH32 5\nIGE", 1},
		{"lt", "PUSH32 -1\nIPUSH_0\nILT", 1},
		{"le", "PUSH32 1\nIPUSH_0\nILE", 0},
		{"dup", "PUSH32 8\nDUP32\nIMUL", 64},
		{"pop", "PUSH32 1\nPUSH32 2\nPOP32", 1},
		{"f2i", "PUSH32 -2.75\nF2I", -2},
		{"min int wraps", "PUSH32 -2147483648\nPUSH32 -1\nIDIV", math.MinInt32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(nil)
			w, err := m.Evaluate(assemble(t, tt.src))
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if int32(w) != tt.want {
				t.Errorf("result = %d, want %d", int32(w), tt.want)
			}
		})
	}
}

func TestFloatOperations(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want float32
	}{
		{"add", "PUSH32 1.5\nFPUSH_1\nFADD", 2.5},
		{"sub", "FPUSH_0\nPUSH32 2.25\nFSUB", -2.25},
		{"mul", "PUSH32 1.5\nPUSH32 4.0\nFMUL", 6},
		{"div", "FPUSH_1\nPUSH32 4.0\nFDIV", 0.25},
		{"neg", "PUSH32 3.5\nFINV", -3.5},
		{"i2f", "PUSH32 -3\nI2F", -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := New(nil).Evaluate(assemble(t, tt.src))
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if got := math.Float32frombits(w); got != tt.want {
				t.Errorf("result = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestFloatDivisionByZeroIsIEEE(t *testing.T) {
	w, err := New(nil).Evaluate(assemble(t, "FPUSH_1\nFPUSH_0\nFDIV"))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got := math.Float32frombits(w); !math.IsInf(float64(got), 1) {
		t.Errorf("1.0 / 0.0 = %g, want +Inf", got)
	}
}

func TestFloatComparisons(t *testing.T) {
	tests := []struct {
		op   string
		want uint32
	}{
		{"FEQ", 0}, {"FNE", 1}, {"FGT", 0}, {"FGE", 0}, {"FLT", 1}, {"FLE", 1},
	}
	for _, tt := range tests {
		src := "PUSH32 1.25\nPUSH32 2.5\n" + tt.op
		w, err := New(nil).Evaluate(assemble(t, src))
		if err != nil {
			t.Fatalf("%s: %v", tt.op, err)
		}
		if w != tt.want {
			t.Errorf("1.25 %s 2.5 = %d, want %d", tt.op, w, tt.want)
		}
	}
}

func TestFieldAccess(t *testing.T) {
	reg := fields.NewTable()
	reg.Declare("temp", pcode.TypeInt)
	reg.SetWord("temp", 20)

	m := New(reg)
	err := m.Execute(assemble(t, `
		RLOAD32  temp
		PUSH32   5
		IADD
		RSTORE32 temp
	`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if w, _ := reg.Word("temp"); w != 25 {
		t.Errorf("temp = %d, want 25", w)
	}
}

func TestUnknownFieldFaults(t *testing.T) {
	m := New(fields.NewTable())
	err := m.Execute(assemble(t, "RLOAD32 missing"))
	if !errors.Is(err, fields.ErrUnknownField) {
		t.Errorf("error = %v, want ErrUnknownField", err)
	}
}

func TestLocalVariables(t *testing.T) {
	m := New(nil, WithVariableTableSize(4))
	w, err := m.Evaluate(assemble(t, `
		PUSH32   11
		VSTORE32 3
		VLOAD32  3
		VLOAD32  3
		IADD
	`))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if w != 22 {
		t.Errorf("result = %d, want 22", w)
	}
	if v, _ := m.Variable(3); v != 11 {
		t.Errorf("Variable(3) = %d, want 11", v)
	}

	if err := m.Execute(assemble(t, "VLOAD32 4")); !errors.Is(err, ErrInvalidSlot) {
		t.Errorf("slot 4 error = %v, want ErrInvalidSlot", err)
	}
	if _, err := m.Variable(4); !errors.Is(err, ErrInvalidSlot) {
		t.Errorf("Variable(4) error = %v, want ErrInvalidSlot", err)
	}
}

func TestLoop(t *testing.T) {
	reg := fields.NewTable()
	reg.Declare("n", pcode.TypeInt)
	reg.Declare("sum", pcode.TypeInt)

	m := New(reg)
	err := m.Execute(assemble(t, `
		        PUSH32   5
		        RSTORE32 n
		loop:   RLOAD32  n
		        JLEZ     done
		        RLOAD32  sum
		        RLOAD32  n
		        IADD
		        RSTORE32 sum
		        RLOAD32  n
		        IPUSH_1
		        ISUB
		        RSTORE32 n
		        JUMP     loop
		done:   HALT
	`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if w, _ := reg.Word("sum"); w != 15 {
		t.Errorf("sum = %d, want 15", w)
	}
}

func TestConditionalJumps(t *testing.T) {
	tests := []struct {
		op    string
		value int32
		taken bool
	}{
		{"JEQZ", 0, true}, {"JEQZ", 1, false},
		{"JNEZ", -1, true}, {"JNEZ", 0, false},
		{"JGTZ", 1, true}, {"JGTZ", 0, false},
		{"JGEZ", 0, true}, {"JGEZ", -1, false},
		{"JLTZ", -1, true}, {"JLTZ", 0, false},
		{"JLEZ", 0, true}, {"JLEZ", 1, false},
	}
	for _, tt := range tests {
		b := pcode.NewBuffer()
		b.AddInstruction(pcode.OpPush32)
		b.AddInt32(tt.value)
		op, _ := pcode.Lookup(tt.op)
		b.AddInstruction(op)
		label := b.CreateLabel()
		b.AddInstruction(pcode.OpIPush0)
		b.AddInstruction(pcode.OpHalt)
		target := b.AddInstruction(pcode.OpIPush1)
		b.SetLabel(label, uint16(target))

		w, err := New(nil).Evaluate(b.Bytes())
		if err != nil {
			t.Fatalf("%s %d: %v", tt.op, tt.value, err)
		}
		if (w == 1) != tt.taken {
			t.Errorf("%s %d taken = %t, want %t", tt.op, tt.value, w == 1, tt.taken)
		}
	}
}

func TestHaltStopsExecution(t *testing.T) {
	m := New(nil)
	ctx := m.NewContext(assemble(t, "IPUSH_1\nHALT\nIPUSH_0"))
	if err := m.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if !ctx.Halted() || ctx.Depth() != 1 || ctx.PC() != 2 {
		t.Errorf("halted=%t depth=%d pc=%d, want true 1 2", ctx.Halted(), ctx.Depth(), ctx.PC())
	}
}

func TestFaults(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want error
		pc   int
	}{
		{"underflow", []byte{byte(pcode.OpIAdd)}, ErrStackUnderflow, 0},
		{"underflow after push", []byte{byte(pcode.OpIPush1), byte(pcode.OpIAdd)}, ErrStackUnderflow, 1},
		{"jump past end", []byte{byte(pcode.OpJump), 0x10, 0x00}, ErrInvalidJumpTarget, 0},
		{"unknown opcode", []byte{byte(pcode.OpNop), 0xFF}, ErrUnknownOpcode, 1},
		{"truncated operand", []byte{byte(pcode.OpPush32), 1, 2}, ErrTruncated, 0},
		{"division by zero", []byte{byte(pcode.OpIPush1), byte(pcode.OpIPush0), byte(pcode.OpIDiv)}, ErrDivisionByZero, 2},
		{"modulo by zero", []byte{byte(pcode.OpIPush1), byte(pcode.OpIPush0), byte(pcode.OpIMod)}, ErrDivisionByZero, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(nil).Execute(tt.code)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			var fault *Fault
			if !errors.As(err, &fault) {
				t.Fatalf("error %v is not a *Fault", err)
			}
			if fault.PC != tt.pc {
				t.Errorf("fault pc = %d, want %d", fault.PC, tt.pc)
			}
		})
	}
}

func TestStackOverflow(t *testing.T) {
	m := New(nil, WithStackSize(2))
	err := m.Execute(assemble(t, "IPUSH_1\nIPUSH_1\nIPUSH_1"))
	if !errors.Is(err, ErrStackOverflow) {
		t.Errorf("error = %v, want ErrStackOverflow", err)
	}
}

func TestStepLimit(t *testing.T) {
	m := New(nil, WithStepLimit(100))
	err := m.Execute(assemble(t, "loop: JUMP loop"))
	if !errors.Is(err, ErrStepLimit) {
		t.Errorf("error = %v, want ErrStepLimit", err)
	}
}

func TestEmptyResult(t *testing.T) {
	if _, err := New(nil).Evaluate(nil); !errors.Is(err, ErrEmptyResult) {
		t.Errorf("error = %v, want ErrEmptyResult", err)
	}
}

func TestEveryOpcodeIsDispatched(t *testing.T) {
	reg := fields.NewTable()
	reg.Declare("f", pcode.TypeInt)
	m := New(reg)

	for _, op := range pcode.Opcodes() {
		b := pcode.NewBuffer()
		b.AddInstruction(pcode.OpIPush1)
		b.AddInstruction(pcode.OpIPush1)
		b.AddInstruction(op)
		info := pcode.GetOpcodeInfo(op)
		switch info.Operand {
		case pcode.OperandWord:
			b.AddInt32(1)
		case pcode.OperandIdentifier:
			b.AddIdentifier(pcode.MustIdentifier("f"))
		case pcode.OperandSlot:
			b.AddAddress(0)
		case pcode.OperandAddress:
			b.AddAddress(uint16(b.Len() + pcode.AddressSize))
		}
		b.AddInstruction(pcode.OpHalt)

		if err := m.Execute(b.Bytes()); err != nil {
			t.Errorf("%s: %v", op, err)
		}
	}
}

// nestingRegistry runs a second program from inside a field read.
type nestingRegistry struct {
	m     *Machine
	inner []byte
	err   error
}

func (r *nestingRegistry) Get(name pcode.Identifier, out []byte) error {
	w, err := r.m.Evaluate(r.inner)
	r.err = err
	pcode.ByteOrder.PutUint32(out, w)
	return err
}

func (r *nestingRegistry) Set(name pcode.Identifier, in []byte) error {
	return nil
}

func TestNestedRunsAreIndependent(t *testing.T) {
	reg := &nestingRegistry{}
	m := New(reg)
	reg.m = m
	reg.inner = assemble(t, "PUSH32 40\nPUSH32 2\nIADD")

	w, err := m.Evaluate(assemble(t, `
		PUSH32  100
		RLOAD32 nested
		ISUB
	`))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if reg.err != nil {
		t.Fatalf("inner run failed: %v", reg.err)
	}
	if w != 58 {
		t.Errorf("result = %d, want 58", w)
	}
}
