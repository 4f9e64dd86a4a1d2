package fields

import (
	"errors"
	"math"
	"testing"

	"github.com/guidorota/brix-sub000/pkg/pcode"
)

func TestDeclareGetSet(t *testing.T) {
	tbl := NewTable()
	if err := tbl.Declare("temp", pcode.TypeFloat); err != nil {
		t.Fatalf("Declare failed: %v", err)
	}

	w, err := tbl.Word("temp")
	if err != nil {
		t.Fatal(err)
	}
	if w != 0 {
		t.Errorf("initial value = %d, want 0", w)
	}

	if err := tbl.SetWord("temp", math.Float32bits(21.5)); err != nil {
		t.Fatal(err)
	}
	w, _ = tbl.Word("temp")
	if got := math.Float32frombits(w); got != 21.5 {
		t.Errorf("temp = %g, want 21.5", got)
	}
}

func TestUnknownField(t *testing.T) {
	tbl := NewTable()
	var buf [4]byte
	if err := tbl.Get(pcode.MustIdentifier("nope"), buf[:]); !errors.Is(err, ErrUnknownField) {
		t.Errorf("Get error = %v, want ErrUnknownField", err)
	}
	if err := tbl.Set(pcode.MustIdentifier("nope"), buf[:]); !errors.Is(err, ErrUnknownField) {
		t.Errorf("Set error = %v, want ErrUnknownField", err)
	}
}

func TestSizeMismatch(t *testing.T) {
	tbl := NewTable()
	tbl.Declare("x", pcode.TypeInt)
	if err := tbl.Get(pcode.MustIdentifier("x"), make([]byte, 2)); !errors.Is(err, ErrSize) {
		t.Errorf("Get error = %v, want ErrSize", err)
	}
	if err := tbl.Set(pcode.MustIdentifier("x"), make([]byte, 8)); !errors.Is(err, ErrSize) {
		t.Errorf("Set error = %v, want ErrSize", err)
	}
}

func TestRedeclareKeepsValue(t *testing.T) {
	tbl := NewTable()
	tbl.Declare("x", pcode.TypeInt)
	tbl.SetWord("x", 42)
	tbl.Declare("x", pcode.TypeBool)

	w, _ := tbl.Word("x")
	if w != 42 {
		t.Errorf("x = %d, want 42", w)
	}
	fs := tbl.Fields()
	if len(fs) != 1 || fs[0].Type != pcode.TypeBool {
		t.Errorf("Fields() = %v, want one bool field", fs)
	}
}

func TestDeclareRejectsNonWordTypes(t *testing.T) {
	tbl := NewTable()
	if err := tbl.Declare("name", pcode.TypeString); err == nil {
		t.Error("expected error declaring a string field")
	}
}

func TestFieldsSorted(t *testing.T) {
	tbl := NewTable()
	tbl.Declare("zeta", pcode.TypeInt)
	tbl.Declare("alpha", pcode.TypeInt)
	tbl.Declare("mid", pcode.TypeInt)

	fs := tbl.Fields()
	want := []string{"alpha", "mid", "zeta"}
	for i, f := range fs {
		if f.Name.String() != want[i] {
			t.Errorf("Fields()[%d] = %s, want %s", i, f.Name, want[i])
		}
	}
}
