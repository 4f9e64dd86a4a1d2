// Package symbols implements the compile-time namespace: a stack of lexical
// scopes holding local variables, and a flat list of fields.
//
// Every declared variable receives a storage slot from a counter shared by
// the whole table. Slots are never reclaimed: popping a scope ends the
// visibility of its variables but the counter keeps climbing for the
// lifetime of the table, so the interpreter's variable table must be sized
// for the total number of variables in a compilation unit.
package symbols

import (
	"errors"
	"fmt"
	"math"

	"github.com/guidorota/brix-sub000/pkg/pcode"
)

var (
	// ErrUndeclared is returned when a name resolves to nothing.
	ErrUndeclared = errors.New("undeclared symbol")

	// ErrDuplicate is returned when a name is declared twice in the same
	// scope, or a field is declared twice.
	ErrDuplicate = errors.New("duplicate symbol")

	// ErrNoScope is returned when a variable is declared, or a scope popped,
	// with no open scope.
	ErrNoScope = errors.New("no open scope")

	// ErrNameTooLong is returned when a name does not fit in a pcode
	// identifier. It wraps pcode.ErrIdentifierTooLong.
	ErrNameTooLong = errors.New("symbol name too long")

	// ErrSlotsExhausted is returned when the table runs out of variable
	// slots.
	ErrSlotsExhausted = errors.New("variable slots exhausted")
)

// Kind distinguishes fields from local variables.
type Kind uint8

const (
	// KindField is a process-wide named value backed by the field registry.
	KindField Kind = iota
	// KindVariable is a local with a slot in the variable table.
	KindVariable
)

func (k Kind) String() string {
	switch k {
	case KindField:
		return "field"
	case KindVariable:
		return "variable"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Symbol is a resolved name.
type Symbol struct {
	Name pcode.Identifier
	Type pcode.DataType
	Kind Kind
	Slot uint16 // variables only
}

// IsField reports whether the symbol is a field.
func (s *Symbol) IsField() bool { return s.Kind == KindField }

func (s *Symbol) String() string {
	if s.Kind == KindVariable {
		return fmt.Sprintf("%s %s %s (slot %d)", s.Kind, s.Type, s.Name, s.Slot)
	}
	return fmt.Sprintf("%s %s %s", s.Kind, s.Type, s.Name)
}

// Scope is one level of lexical nesting.
type Scope struct {
	symbols []*Symbol
	parent  *Scope
}

func (s *Scope) find(id pcode.Identifier) *Symbol {
	for _, sym := range s.symbols {
		if sym.Name == id {
			return sym
		}
	}
	return nil
}

// Table is the symbol table of one compilation unit.
type Table struct {
	scope    *Scope
	depth    int
	fields   []*Symbol
	nextSlot int
	maxSlots int
}

// Option configures a Table.
type Option func(*Table)

// WithMaxSlots bounds the number of variable slots the table may assign,
// normally to the interpreter's variable table size.
func WithMaxSlots(n int) Option {
	return func(t *Table) { t.maxSlots = n }
}

// NewTable creates an empty table with no open scope.
func NewTable(opts ...Option) *Table {
	t := &Table{maxSlots: math.MaxUint16 + 1}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// PushScope opens a new innermost scope.
func (t *Table) PushScope() {
	t.scope = &Scope{parent: t.scope}
	t.depth++
}

// PopScope closes the innermost scope. Its slots stay assigned.
func (t *Table) PopScope() error {
	if t.scope == nil {
		return ErrNoScope
	}
	t.scope = t.scope.parent
	t.depth--
	return nil
}

// Depth returns the number of open scopes.
func (t *Table) Depth() int { return t.depth }

func identifier(name string) (pcode.Identifier, error) {
	id, err := pcode.NewIdentifier(name)
	if err != nil {
		return id, fmt.Errorf("%w: %w", ErrNameTooLong, err)
	}
	return id, nil
}

// DeclareVariable adds a local variable to the innermost scope and assigns
// it the next slot. Shadowing a name from an outer scope or a field is
// allowed.
func (t *Table) DeclareVariable(name string, typ pcode.DataType) (*Symbol, error) {
	if t.scope == nil {
		return nil, fmt.Errorf("declare %q: %w", name, ErrNoScope)
	}
	id, err := identifier(name)
	if err != nil {
		return nil, err
	}
	if t.scope.find(id) != nil {
		return nil, fmt.Errorf("%w: variable %q", ErrDuplicate, name)
	}
	if t.nextSlot >= t.maxSlots {
		return nil, fmt.Errorf("declare %q: %w (%d in use)", name, ErrSlotsExhausted, t.nextSlot)
	}

	sym := &Symbol{Name: id, Type: typ, Kind: KindVariable, Slot: uint16(t.nextSlot)}
	t.nextSlot++
	t.scope.symbols = append(t.scope.symbols, sym)
	return sym, nil
}

// DeclareField adds a field to the flat field namespace.
func (t *Table) DeclareField(name string, typ pcode.DataType) (*Symbol, error) {
	id, err := identifier(name)
	if err != nil {
		return nil, err
	}
	for _, f := range t.fields {
		if f.Name == id {
			return nil, fmt.Errorf("%w: field %q", ErrDuplicate, name)
		}
	}
	sym := &Symbol{Name: id, Type: typ, Kind: KindField}
	t.fields = append(t.fields, sym)
	return sym, nil
}

// Lookup resolves a name, innermost scope first, then fields.
func (t *Table) Lookup(name string) (*Symbol, error) {
	id, err := identifier(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndeclared, err)
	}
	for s := t.scope; s != nil; s = s.parent {
		if sym := s.find(id); sym != nil {
			return sym, nil
		}
	}
	for _, f := range t.fields {
		if f.Name == id {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUndeclared, name)
}

// Fields returns the declared fields in declaration order.
func (t *Table) Fields() []*Symbol {
	return append([]*Symbol(nil), t.fields...)
}

// SlotCount returns the number of slots assigned so far.
func (t *Table) SlotCount() int { return t.nextSlot }
