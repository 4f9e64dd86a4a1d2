// Package alloc implements a fixed-chunk allocator over a single storage
// block. The block is split into a small header, N uniformly sized chunks and
// a trailing availability bitmap with one bit per chunk (1 = free).
//
// Chunks are uniform, so there is no coalescing and no free list: allocation
// is a word-by-word scan of the bitmap for the first free bit. The allocator
// keeps all of its state in the block and never allocates on its own behalf.
package alloc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the number of bytes reserved at the start of the storage
// block. The header records the chunk size and capacity so that a raw dump
// of the block is self-describing.
const HeaderSize = 8

var (
	// ErrZeroCapacity is returned by New when the storage block is too small
	// to hold a single chunk plus its bitmap word.
	ErrZeroCapacity = errors.New("alloc: storage too small for a single chunk")

	// ErrExhausted is returned by Alloc when every chunk is in use.
	ErrExhausted = errors.New("alloc: no free chunks")

	// ErrInvalidPointer is returned by Free when the pointer does not name a
	// chunk of this allocator (out of range or not chunk aligned).
	ErrInvalidPointer = errors.New("alloc: invalid chunk pointer")

	// ErrNotAllocated is returned by Free when the chunk is already free.
	ErrNotAllocated = errors.New("alloc: chunk is not allocated")
)

// Ptr is the byte offset of a chunk within the storage block.
type Ptr int

// Allocator hands out fixed-size chunks of a caller-provided storage block.
// It is not safe for concurrent use; callers serialize access.
type Allocator struct {
	storage   []byte
	chunkSize int
	capacity  int
	size      int
	free      bitmap
}

// New partitions storage into a header, as many chunkSize chunks as fit, and
// the trailing bitmap that tracks them.
func New(storage []byte, chunkSize int) (*Allocator, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("alloc: chunk size must be positive, got %d", chunkSize)
	}
	capacity := capacityFor(len(storage), chunkSize)
	if capacity == 0 {
		return nil, ErrZeroCapacity
	}

	a := &Allocator{
		storage:   storage,
		chunkSize: chunkSize,
		capacity:  capacity,
		free:      newBitmap(storage[bitmapOffset(capacity, chunkSize):], capacity),
	}
	binary.LittleEndian.PutUint32(storage[0:], uint32(chunkSize))
	binary.LittleEndian.PutUint32(storage[4:], uint32(capacity))
	return a, nil
}

// bitmapOffset is where the availability bitmap starts in the block.
func bitmapOffset(capacity, chunkSize int) int {
	return HeaderSize + capacity*chunkSize
}

// capacityFor returns the number of chunks that fit in a block of the given
// size once the header and the bitmap words are accounted for.
func capacityFor(storageSize, chunkSize int) int {
	usable := storageSize - HeaderSize
	if usable <= 0 {
		return 0
	}
	n := usable * 8 / (chunkSize*8 + 1)
	for n > 0 && n*chunkSize+bitmapBytes(n) > usable {
		n--
	}
	return n
}

// Alloc reserves the lowest free chunk and returns its pointer. The chunk
// contents are zeroed.
func (a *Allocator) Alloc() (Ptr, error) {
	if a.size == a.capacity {
		return 0, ErrExhausted
	}
	idx, ok := a.free.first()
	if !ok {
		return 0, ErrExhausted
	}
	a.free.clear(idx)
	a.size++

	p := a.PtrOf(idx)
	clear(a.Chunk(p))
	return p, nil
}

// Free returns a chunk to the pool. The bitmap is left untouched when the
// pointer is rejected.
func (a *Allocator) Free(p Ptr) error {
	idx, err := a.index(p)
	if err != nil {
		return err
	}
	if a.free.isSet(idx) {
		return fmt.Errorf("%w: chunk %d", ErrNotAllocated, idx)
	}
	a.free.set(idx)
	a.size--
	return nil
}

// Chunk returns the bytes of an allocated chunk. It panics if p is not a
// chunk pointer of this allocator.
func (a *Allocator) Chunk(p Ptr) []byte {
	start := int(p)
	return a.storage[start : start+a.chunkSize : start+a.chunkSize]
}

// Index converts a chunk pointer to its chunk index.
func (a *Allocator) Index(p Ptr) (int, error) {
	return a.index(p)
}

// PtrOf converts a chunk index to its pointer.
func (a *Allocator) PtrOf(idx int) Ptr {
	return Ptr(HeaderSize + idx*a.chunkSize)
}

// IsAllocated reports whether p names a chunk that is currently in use.
func (a *Allocator) IsAllocated(p Ptr) bool {
	idx, err := a.index(p)
	return err == nil && !a.free.isSet(idx)
}

// Capacity returns the total number of chunks.
func (a *Allocator) Capacity() int { return a.capacity }

// Size returns the number of chunks in use.
func (a *Allocator) Size() int { return a.size }

// Remaining returns the number of free chunks.
func (a *Allocator) Remaining() int { return a.capacity - a.size }

// ChunkSize returns the size of each chunk in bytes.
func (a *Allocator) ChunkSize() int { return a.chunkSize }

// StorageSize returns the size of the backing block in bytes.
func (a *Allocator) StorageSize() int { return len(a.storage) }

func (a *Allocator) index(p Ptr) (int, error) {
	off := int(p) - HeaderSize
	if off < 0 || off >= a.capacity*a.chunkSize {
		return 0, fmt.Errorf("%w: offset %d out of range", ErrInvalidPointer, p)
	}
	if off%a.chunkSize != 0 {
		return 0, fmt.Errorf("%w: offset %d not aligned to %d", ErrInvalidPointer, p, a.chunkSize)
	}
	return off / a.chunkSize, nil
}
