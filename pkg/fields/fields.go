// Package fields provides the named-value store that RLOAD32 and RSTORE32
// read and write.
//
// Fields are process-wide values such as sensor readings or actuator set
// points. The interpreter reaches them only through the Registry
// interface; Table is an in-memory implementation used by the host binary
// and by tests.
package fields

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/guidorota/brix-sub000/pkg/pcode"
)

var (
	// ErrUnknownField is returned when a name is not registered.
	ErrUnknownField = errors.New("unknown field")

	// ErrSize is returned when the caller's buffer does not match the
	// field's width.
	ErrSize = errors.New("field size mismatch")
)

// Registry reads and writes fields by name. Values are exchanged as raw
// little-endian bytes so that the registry is independent of field types.
type Registry interface {
	Get(name pcode.Identifier, out []byte) error
	Set(name pcode.Identifier, in []byte) error
}

// Field describes one registered field.
type Field struct {
	Name pcode.Identifier
	Type pcode.DataType
}

// Table is a mutex-guarded in-memory Registry of 4-byte fields.
type Table struct {
	mu     sync.RWMutex
	values map[pcode.Identifier]*entry
}

type entry struct {
	typ  pcode.DataType
	data [pcode.WordSize]byte
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{values: make(map[pcode.Identifier]*entry)}
}

// Declare registers a field with a zero value. Declaring an existing name
// again keeps its value and updates its type.
func (t *Table) Declare(name string, typ pcode.DataType) error {
	id, err := pcode.NewIdentifier(name)
	if err != nil {
		return err
	}
	if !typ.IsWord() {
		return fmt.Errorf("declare field %q: type %s is not a 4-byte value", name, typ)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.values[id]; ok {
		e.typ = typ
		return nil
	}
	t.values[id] = &entry{typ: typ}
	return nil
}

// Get implements Registry.
func (t *Table) Get(name pcode.Identifier, out []byte) error {
	if len(out) != pcode.WordSize {
		return fmt.Errorf("get %s: %w (%d bytes)", name, ErrSize, len(out))
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.values[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	copy(out, e.data[:])
	return nil
}

// Set implements Registry.
func (t *Table) Set(name pcode.Identifier, in []byte) error {
	if len(in) != pcode.WordSize {
		return fmt.Errorf("set %s: %w (%d bytes)", name, ErrSize, len(in))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.values[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	copy(e.data[:], in)
	return nil
}

// Word returns the raw value of a field.
func (t *Table) Word(name string) (uint32, error) {
	id, err := pcode.NewIdentifier(name)
	if err != nil {
		return 0, err
	}
	var buf [pcode.WordSize]byte
	if err := t.Get(id, buf[:]); err != nil {
		return 0, err
	}
	return pcode.ByteOrder.Uint32(buf[:]), nil
}

// SetWord stores a raw value into a field.
func (t *Table) SetWord(name string, w uint32) error {
	id, err := pcode.NewIdentifier(name)
	if err != nil {
		return err
	}
	var buf [pcode.WordSize]byte
	pcode.ByteOrder.PutUint32(buf[:], w)
	return t.Set(id, buf[:])
}

// Fields returns the registered fields sorted by name.
func (t *Table) Fields() []Field {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Field, 0, len(t.values))
	for id, e := range t.values {
		out = append(out, Field{Name: id, Type: e.typ})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name.String() < out[j].Name.String()
	})
	return out
}
