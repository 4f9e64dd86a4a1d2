package alloc

import (
	"encoding/binary"
	"math/bits"
)

const wordBits = 64

// bitmap tracks chunk availability inside the storage block as little-endian
// 64-bit words. Chunk i lives in word i/64 at bit 63-(i%64), so the highest
// set bit of a word is its lowest free chunk. Bits past the last chunk are
// always zero.
type bitmap []byte

// newBitmap marks the first n chunks free in region, which must hold
// bitmapBytes(n) bytes.
func newBitmap(region []byte, n int) bitmap {
	b := bitmap(region[:bitmapBytes(n):bitmapBytes(n)])
	clear(b)
	for i := 0; i < n; i++ {
		b.set(i)
	}
	return b
}

func wordsFor(n int) int {
	return (n + wordBits - 1) / wordBits
}

func bitmapBytes(n int) int {
	return wordsFor(n) * 8
}

func mask(i int) uint64 {
	return 1 << (wordBits - 1 - uint(i%wordBits))
}

func (b bitmap) word(w int) uint64 {
	return binary.LittleEndian.Uint64(b[w*8:])
}

func (b bitmap) putWord(w int, v uint64) {
	binary.LittleEndian.PutUint64(b[w*8:], v)
}

func (b bitmap) words() int { return len(b) / 8 }

func (b bitmap) set(i int)        { b.putWord(i/wordBits, b.word(i/wordBits)|mask(i)) }
func (b bitmap) clear(i int)      { b.putWord(i/wordBits, b.word(i/wordBits)&^mask(i)) }
func (b bitmap) isSet(i int) bool { return b.word(i/wordBits)&mask(i) != 0 }

// first returns the index of the lowest set bit in chunk order.
func (b bitmap) first() (int, bool) {
	for w := 0; w < b.words(); w++ {
		if word := b.word(w); word != 0 {
			return w*wordBits + bits.LeadingZeros64(word), true
		}
	}
	return 0, false
}

// count returns the number of set bits.
func (b bitmap) count() int {
	n := 0
	for w := 0; w < b.words(); w++ {
		n += bits.OnesCount64(b.word(w))
	}
	return n
}
