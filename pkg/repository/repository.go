// Package repository stores compiled programs in one fixed-size region.
//
// Code bytes are packed at the front of the region with no gaps. Each
// program is described by a descriptor in a separate table; descriptors
// are charged DescriptorSize bytes of the region so that the capacity
// accounting matches a layout where descriptors grow down from the end.
//
// Handles are indices into the descriptor table and stay valid until the
// program is removed. Removing a program closes its gap by moving the code
// behind it forward and rebasing every descriptor that pointed past it.
package repository

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"
)

const (
	// DefaultSize is the default region size in bytes.
	DefaultSize = 4096

	// DescriptorSize is the space charged per descriptor: a valid flag,
	// a 2-byte offset and a 2-byte length, padded to an even size.
	DescriptorSize = 6
)

var (
	// ErrOutOfSpace is returned when a program does not fit.
	ErrOutOfSpace = errors.New("repository out of space")

	// ErrInvalidHandle is returned for handles that do not name a live
	// program.
	ErrInvalidHandle = errors.New("invalid program handle")

	// ErrEmptyProgram is returned when adding zero bytes of code.
	ErrEmptyProgram = errors.New("empty program")
)

var log = commonlog.GetLogger("brix.repository")

// Handle identifies a stored program.
type Handle uint16

// Executor runs a program's code. *interp.Machine implements it.
type Executor interface {
	Execute(code []byte) error
}

type descriptor struct {
	valid  bool
	offset int
	length int
}

// Repository is a compacting program store. Its methods are safe for
// concurrent use; Execute holds a read lock for the duration of the run,
// so a program must not add or remove programs from within its own
// execution.
type Repository struct {
	mu       sync.RWMutex
	storage  []byte
	codeSize int
	descs    []descriptor
	exec     Executor
}

// New creates a repository with a region of size bytes. exec may be nil
// if Execute is never called.
func New(size int, exec Executor) *Repository {
	return &Repository{
		storage: make([]byte, size),
		exec:    exec,
	}
}

// Size returns the region size.
func (r *Repository) Size() int { return len(r.storage) }

// Used returns the bytes taken by code and descriptors.
func (r *Repository) Used() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.used()
}

func (r *Repository) used() int {
	return r.codeSize + len(r.descs)*DescriptorSize
}

// Free returns the bytes still available.
func (r *Repository) Free() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.storage) - r.used()
}

// Len returns the number of live programs.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, d := range r.descs {
		if d.valid {
			n++
		}
	}
	return n
}

// Handles returns the handles of every live program in ascending order.
func (r *Repository) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var hs []Handle
	for i, d := range r.descs {
		if d.valid {
			hs = append(hs, Handle(i))
		}
	}
	return hs
}

// Add copies code into the region and returns its handle. The first
// descriptor freed by an earlier Remove is reused before a new one is
// appended.
func (r *Repository) Add(code []byte) (Handle, error) {
	if len(code) == 0 {
		return 0, ErrEmptyProgram
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := -1
	for i, d := range r.descs {
		if !d.valid {
			slot = i
			break
		}
	}
	descCount := len(r.descs)
	if slot < 0 {
		descCount++
	}
	if descCount*DescriptorSize+r.codeSize+len(code) > len(r.storage) {
		return 0, fmt.Errorf("%w: need %d bytes, %d free", ErrOutOfSpace, len(code), len(r.storage)-r.used())
	}
	if descCount-1 > int(^Handle(0)) {
		return 0, fmt.Errorf("%w: descriptor table full", ErrOutOfSpace)
	}

	d := descriptor{valid: true, offset: r.codeSize, length: len(code)}
	copy(r.storage[d.offset:], code)
	r.codeSize += len(code)
	if slot < 0 {
		slot = len(r.descs)
		r.descs = append(r.descs, d)
	} else {
		r.descs[slot] = d
	}

	log.Debugf("added program %d (%d bytes at %d)", slot, d.length, d.offset)
	return Handle(slot), nil
}

// Remove deletes a program and compacts the region.
func (r *Repository) Remove(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.lookup(h)
	if err != nil {
		return err
	}

	end := d.offset + d.length
	copy(r.storage[d.offset:], r.storage[end:r.codeSize])
	r.codeSize -= d.length
	clear(r.storage[r.codeSize : r.codeSize+d.length])

	for i := range r.descs {
		if r.descs[i].valid && r.descs[i].offset >= end {
			r.descs[i].offset -= d.length
		}
	}
	r.descs[h] = descriptor{}

	for len(r.descs) > 0 && !r.descs[len(r.descs)-1].valid {
		r.descs = r.descs[:len(r.descs)-1]
	}

	log.Debugf("removed program %d (%d bytes at %d)", h, d.length, d.offset)
	return nil
}

// Code returns a copy of a program's code.
func (r *Repository) Code(h Handle) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, err := r.lookup(h)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), r.storage[d.offset:d.offset+d.length]...), nil
}

// Execute runs a program through the executor.
func (r *Repository) Execute(h Handle) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, err := r.lookup(h)
	if err != nil {
		return err
	}
	if r.exec == nil {
		return fmt.Errorf("execute program %d: no executor", h)
	}
	return r.exec.Execute(r.storage[d.offset : d.offset+d.length : d.offset+d.length])
}

func (r *Repository) lookup(h Handle) (descriptor, error) {
	if int(h) >= len(r.descs) || !r.descs[h].valid {
		return descriptor{}, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	return r.descs[h], nil
}
