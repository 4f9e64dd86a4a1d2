package pcode

import (
	"bytes"
	"errors"
	"fmt"
)

// IdentifierSize is the fixed on-wire width of a field name.
const IdentifierSize = 16

var (
	// ErrEmptyIdentifier is returned for a zero-length name.
	ErrEmptyIdentifier = errors.New("pcode: empty identifier")

	// ErrIdentifierTooLong is returned for names that do not fit in
	// IdentifierSize bytes.
	ErrIdentifierTooLong = errors.New("pcode: identifier too long")
)

// Identifier is a fixed-width, NUL padded name as it appears in the code
// stream and in the field registry.
type Identifier [IdentifierSize]byte

// NewIdentifier converts a name to its fixed-width form.
func NewIdentifier(name string) (Identifier, error) {
	var id Identifier
	if name == "" {
		return id, ErrEmptyIdentifier
	}
	if len(name) > IdentifierSize {
		return id, fmt.Errorf("%w: %q is %d bytes, max %d", ErrIdentifierTooLong, name, len(name), IdentifierSize)
	}
	copy(id[:], name)
	return id, nil
}

// MustIdentifier is like NewIdentifier but panics on error. Intended for
// names known at compile time.
func MustIdentifier(name string) Identifier {
	id, err := NewIdentifier(name)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the name without padding.
func (id Identifier) String() string {
	if i := bytes.IndexByte(id[:], 0); i >= 0 {
		return string(id[:i])
	}
	return string(id[:])
}

// IsZero reports whether the identifier is unset.
func (id Identifier) IsZero() bool {
	return id == Identifier{}
}
