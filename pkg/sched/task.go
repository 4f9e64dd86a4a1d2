package sched

import (
	"encoding/binary"
	"fmt"

	"github.com/guidorota/brix-sub000/pkg/alloc"
	"github.com/guidorota/brix-sub000/pkg/repository"
)

// TaskID identifies a task. Ids start at 1 and are never reused.
type TaskID uint32

// State is the lifecycle state of a task.
type State uint8

const (
	Stopped State = iota
	Scheduled
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Kind tells how a task runs.
type Kind uint8

const (
	// Native tasks call a Go function.
	Native Kind = iota
	// Pcode tasks execute a program held by the repository.
	Pcode
)

func (k Kind) String() string {
	if k == Native {
		return "native"
	}
	return "pcode"
}

// NativeFunc is the body of a native task.
type NativeFunc func() error

// TaskInfo is a snapshot of one task.
type TaskInfo struct {
	ID      TaskID
	Kind    Kind
	State   State
	Program repository.Handle // pcode tasks only
}

// Task records live in allocator chunks:
//
//	[0:4] id  [4] kind  [5] state  [6:8] program handle
const recordSize = 8

func readRecord(pool *alloc.Allocator, p alloc.Ptr) TaskInfo {
	b := pool.Chunk(p)
	return TaskInfo{
		ID:      TaskID(binary.LittleEndian.Uint32(b[0:])),
		Kind:    Kind(b[4]),
		State:   State(b[5]),
		Program: repository.Handle(binary.LittleEndian.Uint16(b[6:])),
	}
}

func writeRecord(pool *alloc.Allocator, p alloc.Ptr, t TaskInfo) {
	b := pool.Chunk(p)
	binary.LittleEndian.PutUint32(b[0:], uint32(t.ID))
	b[4] = byte(t.Kind)
	b[5] = byte(t.State)
	binary.LittleEndian.PutUint16(b[6:], uint16(t.Program))
}

func setState(pool *alloc.Allocator, p alloc.Ptr, s State) {
	pool.Chunk(p)[5] = byte(s)
}
