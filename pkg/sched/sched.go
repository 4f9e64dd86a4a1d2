// Package sched runs tasks cooperatively, one at a time, to completion.
//
// Tasks are either native Go functions or programs stored in a
// repository. A task starts Stopped; Schedule queues it, and the loop in
// Run takes the head of the queue, runs it outside the critical section,
// and puts it back on the stopped list. Tasks never preempt each other.
//
// The scheduled and stopped lists are shared with asynchronous producers
// such as timers. Every access to them goes through a caller-supplied
// sync.Locker, which is never held while a task runs.
package sched

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/guidorota/brix-sub000/pkg/alloc"
	"github.com/guidorota/brix-sub000/pkg/repository"
)

// DefaultTaskStorageSize is the default size in bytes of the task record
// pool.
const DefaultTaskStorageSize = 1024

var (
	// ErrTaskStorageFull is returned when no task record is free.
	ErrTaskStorageFull = errors.New("task storage full")

	// ErrTaskNotFound is returned when an id names no task in the list an
	// operation applies to.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskBusy is returned when scheduling a task that is already
	// scheduled or running.
	ErrTaskBusy = errors.New("task already scheduled or running")

	// ErrTaskRunning is returned when removing the running task.
	ErrTaskRunning = errors.New("task is running")

	// ErrTaskIDsExhausted is returned once every 32-bit id has been used.
	ErrTaskIDsExhausted = errors.New("task ids exhausted")
)

var log = commonlog.GetLogger("brix.sched")

// Programs stores the code of pcode tasks. *repository.Repository
// implements it.
type Programs interface {
	Add(code []byte) (repository.Handle, error)
	Remove(h repository.Handle) error
	Execute(h repository.Handle) error
}

// IdlePolicy decides what Run does when nothing is scheduled.
type IdlePolicy uint8

const (
	// BusyWait yields the processor and polls again.
	BusyWait IdlePolicy = iota
	// BlockOnWakeup sleeps until Schedule is called or the context ends.
	BlockOnWakeup
)

// ParseIdlePolicy accepts "busy" or "block".
func ParseIdlePolicy(s string) (IdlePolicy, error) {
	switch s {
	case "busy":
		return BusyWait, nil
	case "block":
		return BlockOnWakeup, nil
	}
	return 0, fmt.Errorf("unknown idle policy %q", s)
}

func (p IdlePolicy) String() string {
	if p == BlockOnWakeup {
		return "block"
	}
	return "busy"
}

// ResultHook observes the outcome of every task run.
type ResultHook func(id TaskID, err error)

// Stats counts scheduler activity.
type Stats struct {
	Runs      uint64
	Failures  uint64
	Scheduled int
	Stopped   int
	Capacity  int
	Free      int
}

// Scheduler is a cooperative run-to-completion task scheduler.
type Scheduler struct {
	lock      sync.Locker
	pool      *alloc.Allocator
	scheduled []alloc.Ptr
	stopped   []alloc.Ptr
	running   alloc.Ptr
	natives   map[TaskID]NativeFunc
	nextID    uint64

	programs    Programs
	idle        IdlePolicy
	wake        chan struct{}
	hook        ResultHook
	storageSize int

	runs     uint64
	failures uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocker sets the critical-section primitive. The default is a
// sync.Mutex.
func WithLocker(l sync.Locker) Option {
	return func(s *Scheduler) { s.lock = l }
}

// WithTaskStorage sets the size in bytes of the task record pool.
func WithTaskStorage(size int) Option {
	return func(s *Scheduler) { s.storageSize = size }
}

// WithIdlePolicy sets the idle behavior of Run.
func WithIdlePolicy(p IdlePolicy) Option {
	return func(s *Scheduler) { s.idle = p }
}

// WithResultHook registers a function called after every task run, outside
// the critical section.
func WithResultHook(h ResultHook) Option {
	return func(s *Scheduler) { s.hook = h }
}

// New creates a scheduler. programs may be nil if no pcode tasks are
// added.
func New(programs Programs, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		lock:        &sync.Mutex{},
		running:     -1,
		natives:     make(map[TaskID]NativeFunc),
		nextID:      1,
		programs:    programs,
		wake:        make(chan struct{}, 1),
		storageSize: DefaultTaskStorageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	pool, err := alloc.New(make([]byte, s.storageSize), recordSize)
	if err != nil {
		return nil, fmt.Errorf("task storage: %w", err)
	}
	s.pool = pool
	return s, nil
}

// AddNativeTask creates a stopped task that calls fn.
func (s *Scheduler) AddNativeTask(fn NativeFunc) (TaskID, error) {
	if fn == nil {
		return 0, errors.New("nil task function")
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	id, err := s.newTask(TaskInfo{Kind: Native})
	if err != nil {
		return 0, err
	}
	s.natives[id] = fn
	log.Debugf("added native task %d", id)
	return id, nil
}

// AddPcodeTask stores code in the repository and creates a stopped task
// that executes it. The repository is called outside the critical section
// since it may wait for a running program.
func (s *Scheduler) AddPcodeTask(code []byte) (TaskID, error) {
	if s.programs == nil {
		return 0, errors.New("scheduler has no program repository")
	}
	h, err := s.programs.Add(code)
	if err != nil {
		return 0, err
	}

	s.lock.Lock()
	id, err := s.newTask(TaskInfo{Kind: Pcode, Program: h})
	s.lock.Unlock()
	if err != nil {
		if rerr := s.programs.Remove(h); rerr != nil {
			log.Errorf("dropping program %d: %s", h, rerr)
		}
		return 0, err
	}
	log.Debugf("added pcode task %d (program %d, %d bytes)", id, h, len(code))
	return id, nil
}

// newTask allocates a record and files it as stopped. Called with the lock
// held.
func (s *Scheduler) newTask(t TaskInfo) (TaskID, error) {
	if s.nextID > math.MaxUint32 {
		return 0, ErrTaskIDsExhausted
	}
	p, err := s.pool.Alloc()
	if err != nil {
		return 0, fmt.Errorf("%w: %d tasks", ErrTaskStorageFull, s.pool.Capacity())
	}
	t.ID = TaskID(s.nextID)
	t.State = Stopped
	s.nextID++
	writeRecord(s.pool, p, t)
	s.stopped = append(s.stopped, p)
	return t.ID, nil
}

// Schedule moves a stopped task to the end of the run queue. It fails with
// ErrTaskBusy if the task is queued or running and with ErrTaskNotFound if
// it does not exist.
func (s *Scheduler) Schedule(id TaskID) error {
	s.lock.Lock()
	i := s.find(s.stopped, id)
	if i < 0 {
		busy := s.find(s.scheduled, id) >= 0 || (s.running >= 0 && readRecord(s.pool, s.running).ID == id)
		s.lock.Unlock()
		if busy {
			return fmt.Errorf("schedule %d: %w", id, ErrTaskBusy)
		}
		return fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	p := s.stopped[i]
	s.stopped = slices.Delete(s.stopped, i, i+1)
	setState(s.pool, p, Scheduled)
	s.scheduled = append(s.scheduled, p)
	s.lock.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// IsScheduled reports whether a task is waiting in the run queue.
func (s *Scheduler) IsScheduled(id TaskID) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.find(s.scheduled, id) >= 0
}

// State returns the state of a task.
func (s *Scheduler) State(id TaskID) (State, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	switch {
	case s.find(s.scheduled, id) >= 0:
		return Scheduled, nil
	case s.find(s.stopped, id) >= 0:
		return Stopped, nil
	case s.running >= 0 && readRecord(s.pool, s.running).ID == id:
		return Running, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
}

// Remove deletes a stopped or scheduled task and releases its program.
// The task leaves the lists under the lock; its program is released
// afterwards so that a running program never stalls the critical section.
func (s *Scheduler) Remove(id TaskID) error {
	s.lock.Lock()
	var p alloc.Ptr
	if i := s.find(s.stopped, id); i >= 0 {
		p = s.stopped[i]
		s.stopped = slices.Delete(s.stopped, i, i+1)
	} else if i := s.find(s.scheduled, id); i >= 0 {
		p = s.scheduled[i]
		s.scheduled = slices.Delete(s.scheduled, i, i+1)
	} else if s.running >= 0 && readRecord(s.pool, s.running).ID == id {
		s.lock.Unlock()
		return fmt.Errorf("remove %d: %w", id, ErrTaskRunning)
	} else {
		s.lock.Unlock()
		return fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	t := readRecord(s.pool, p)
	ferr := s.pool.Free(p)
	delete(s.natives, id)
	s.lock.Unlock()

	if ferr != nil {
		log.Errorf("freeing record of task %d: %s", id, ferr)
	}
	if t.Kind == Pcode {
		// The task is already gone; a stale program is only logged.
		if err := s.programs.Remove(t.Program); err != nil {
			log.Errorf("releasing program %d of task %d: %s", t.Program, id, err)
		}
	}
	log.Debugf("removed %s task %d", t.Kind, id)
	return nil
}

// Tasks returns a snapshot of every task: running first, then the run
// queue in order, then stopped tasks.
func (s *Scheduler) Tasks() []TaskInfo {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := make([]TaskInfo, 0, len(s.scheduled)+len(s.stopped)+1)
	if s.running >= 0 {
		out = append(out, readRecord(s.pool, s.running))
	}
	for _, p := range s.scheduled {
		out = append(out, readRecord(s.pool, p))
	}
	for _, p := range s.stopped {
		out = append(out, readRecord(s.pool, p))
	}
	return out
}

// Stats returns activity counters and pool usage.
func (s *Scheduler) Stats() Stats {
	s.lock.Lock()
	defer s.lock.Unlock()
	return Stats{
		Runs:      s.runs,
		Failures:  s.failures,
		Scheduled: len(s.scheduled),
		Stopped:   len(s.stopped),
		Capacity:  s.pool.Capacity(),
		Free:      s.pool.Remaining(),
	}
}

// Run executes scheduled tasks until ctx ends. With stopIfEmpty it
// returns as soon as the run queue is empty instead of idling.
func (s *Scheduler) Run(ctx context.Context, stopIfEmpty bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.lock.Lock()
		if len(s.scheduled) == 0 {
			s.lock.Unlock()
			if stopIfEmpty {
				return nil
			}
			if err := s.wait(ctx); err != nil {
				return err
			}
			continue
		}
		p := s.scheduled[0]
		s.scheduled = slices.Delete(s.scheduled, 0, 1)
		setState(s.pool, p, Running)
		s.running = p
		t := readRecord(s.pool, p)
		fn := s.natives[t.ID]
		s.lock.Unlock()

		err := s.runTask(t, fn)

		s.lock.Lock()
		setState(s.pool, p, Stopped)
		s.stopped = append(s.stopped, p)
		s.running = -1
		s.runs++
		if err != nil {
			s.failures++
		}
		s.lock.Unlock()

		if err != nil {
			log.Errorf("task %d failed: %s", t.ID, err)
		}
		if s.hook != nil {
			s.hook(t.ID, err)
		}
	}
}

func (s *Scheduler) runTask(t TaskInfo, fn NativeFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %d panicked: %v", t.ID, r)
		}
	}()
	if t.Kind == Native {
		return fn()
	}
	return s.programs.Execute(t.Program)
}

func (s *Scheduler) wait(ctx context.Context) error {
	if s.idle == BlockOnWakeup {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
			return nil
		}
	}
	runtime.Gosched()
	return nil
}

// find returns the index of id in list, or -1. Called with the lock held.
func (s *Scheduler) find(list []alloc.Ptr, id TaskID) int {
	for i, p := range list {
		if readRecord(s.pool, p).ID == id {
			return i
		}
	}
	return -1
}
