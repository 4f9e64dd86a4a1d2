package image

import (
	"bytes"
	"errors"
	"testing"

	"github.com/guidorota/brix-sub000/pkg/pcode"
)

func sample(t *testing.T) *Program {
	t.Helper()
	buf, err := pcode.Assemble("RLOAD32 level\nIPUSH_1\nIADD\nRSTORE32 level")
	if err != nil {
		t.Fatal(err)
	}
	return &Program{
		Name:     "counter",
		Version:  3,
		Code:     buf.Bytes(),
		Fields:   []Field{{Name: "level", Type: "int"}},
		Interval: 250,
	}
}

func TestMarshalUnmarshal(t *testing.T) {
	p := sample(t)
	data, err := Marshal(p)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.Name != "counter" || got.Version != 3 || got.Interval != 250 {
		t.Errorf("header = %q v%d every %dms", got.Name, got.Version, got.Interval)
	}
	if !bytes.Equal(got.Code, p.Code) {
		t.Errorf("code changed: % x", got.Code)
	}
	if len(got.Fields) != 1 || got.Fields[0] != (Field{"level", "int"}) {
		t.Errorf("fields = %v", got.Fields)
	}
}

func TestEncodingIsDeterministic(t *testing.T) {
	a, _ := Marshal(sample(t))
	b, _ := Marshal(sample(t))
	if !bytes.Equal(a, b) {
		t.Error("identical programs encoded differently")
	}
}

func TestHashMismatch(t *testing.T) {
	p := sample(t)
	p.Seal()
	p.Code[0] = byte(pcode.OpNop)

	if err := p.Validate(); !errors.Is(err, ErrHashMismatch) {
		t.Errorf("error = %v, want ErrHashMismatch", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Program)
	}{
		{"no name", func(p *Program) { p.Name = "" }},
		{"empty code", func(p *Program) { p.Code = nil }},
		{"bad opcode", func(p *Program) { p.Code = []byte{0xFF} }},
		{"truncated", func(p *Program) { p.Code = []byte{byte(pcode.OpPush32), 1} }},
		{"long field name", func(p *Program) { p.Fields[0].Name = "a-name-that-is-far-too-long" }},
		{"string field", func(p *Program) { p.Fields[0].Type = "string" }},
		{"unknown type", func(p *Program) { p.Fields[0].Type = "double" }},
	}
	for _, tt := range tests {
		p := sample(t)
		tt.mutate(p)
		p.Seal()
		if err := p.Validate(); err == nil {
			t.Errorf("%s: Validate accepted the image", tt.name)
		}
	}
}

func TestUnmarshalGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte{0xFF, 0x00}); err == nil {
		t.Error("expected error for garbage input")
	}
}
