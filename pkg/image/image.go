// Package image defines the portable form of a compiled program: its code,
// the fields it expects the host to provide, and how often it should run.
//
// Images are CBOR encoded in canonical mode so that identical programs
// produce identical bytes.
package image

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/guidorota/brix-sub000/pkg/pcode"
)

// ErrHashMismatch is returned when an image's code does not match its
// recorded hash.
var ErrHashMismatch = errors.New("image: code hash mismatch")

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Field is a field declaration carried by an image.
type Field struct {
	Name string `cbor:"1,keyasint"`
	Type string `cbor:"2,keyasint"`
}

// Program is a compiled program image.
type Program struct {
	Name     string   `cbor:"1,keyasint"`
	Version  uint32   `cbor:"2,keyasint"`
	Code     []byte   `cbor:"3,keyasint"`
	Fields   []Field  `cbor:"4,keyasint,omitempty"`
	Interval uint32   `cbor:"5,keyasint,omitempty"` // milliseconds between runs; 0 runs once
	Hash     [32]byte `cbor:"6,keyasint"`
}

// Seal records the hash of the current code.
func (p *Program) Seal() {
	p.Hash = sha256.Sum256(p.Code)
}

// Validate checks that the image can be loaded: the code decodes, the
// hash matches and every field has a valid name and word type.
func (p *Program) Validate() error {
	if p.Name == "" {
		return errors.New("image: program has no name")
	}
	if len(p.Code) == 0 {
		return fmt.Errorf("image %s: empty code", p.Name)
	}
	if len(p.Code) > pcode.MaxCodeSize {
		return fmt.Errorf("image %s: code is %d bytes, limit %d", p.Name, len(p.Code), pcode.MaxCodeSize)
	}
	if sum := sha256.Sum256(p.Code); !bytes.Equal(sum[:], p.Hash[:]) {
		return fmt.Errorf("%w: %s", ErrHashMismatch, p.Name)
	}
	if err := pcode.Walk(p.Code, func(pcode.Instruction) error { return nil }); err != nil {
		return fmt.Errorf("image %s: %w", p.Name, err)
	}
	for _, f := range p.Fields {
		if _, err := pcode.NewIdentifier(f.Name); err != nil {
			return fmt.Errorf("image %s: field %q: %w", p.Name, f.Name, err)
		}
		t, ok := pcode.ParseType(f.Type)
		if !ok || !t.IsWord() {
			return fmt.Errorf("image %s: field %q has unsupported type %q", p.Name, f.Name, f.Type)
		}
	}
	return nil
}

// Marshal seals p and serializes it to CBOR.
func Marshal(p *Program) ([]byte, error) {
	p.Seal()
	return encMode.Marshal(p)
}

// Unmarshal deserializes and validates an image.
func Unmarshal(data []byte) (*Program, error) {
	var p Program
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("image: unmarshal: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
