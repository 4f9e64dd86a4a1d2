package pcode

import "math"

// IntToFloat converts an int32 word to the nearest float32 word. This is
// the I2F instruction.
func IntToFloat(w uint32) uint32 {
	return math.Float32bits(float32(int32(w)))
}

// FloatToInt converts a float32 word to an int32 word, truncating toward
// zero. NaN converts to 0 and out-of-range values saturate. This is the
// F2I instruction.
func FloatToInt(w uint32) uint32 {
	f := math.Float32frombits(w)
	switch {
	case math.IsNaN(float64(f)):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return 1 << 31
	}
	return uint32(int32(f))
}
