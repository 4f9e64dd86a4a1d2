package pcode

import "fmt"

// DataType is the static type of a value. Types are resolved at compile
// time; the interpreter only ever sees 4-byte words.
type DataType uint8

const (
	TypeInt DataType = iota
	TypeFloat
	TypeBool

	// Declared for source compatibility; no operator lowers these yet.
	TypeString
	TypeSubnet
	TypeStream
)

var typeNames = [...]string{
	TypeInt:    "int",
	TypeFloat:  "float",
	TypeBool:   "bool",
	TypeString: "string",
	TypeSubnet: "subnet",
	TypeStream: "stream",
}

// TypeName returns the source-level name of t, for diagnostics.
func TypeName(t DataType) string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", t)
}

// String implements fmt.Stringer.
func (t DataType) String() string {
	return TypeName(t)
}

// ParseType returns the type with the given source-level name.
func ParseType(name string) (DataType, bool) {
	for i, n := range typeNames {
		if n == name {
			return DataType(i), true
		}
	}
	return 0, false
}

// IsNumeric reports whether t is int or float.
func (t DataType) IsNumeric() bool {
	return t == TypeInt || t == TypeFloat
}

// IsWord reports whether values of t fit in a single 4-byte stack word.
func (t DataType) IsWord() bool {
	return t == TypeInt || t == TypeFloat || t == TypeBool
}
