// Package timer schedules tasks from a periodic tick.
//
// A Service holds one-shot and periodic timers in a fixed pool of records.
// Each call to Tick advances every timer by one tick and schedules the
// tasks whose timers expire. Tick is normally driven by Run from a
// time.Ticker, but tests and embedded hosts can call it directly.
package timer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"

	"github.com/guidorota/brix-sub000/pkg/alloc"
	"github.com/guidorota/brix-sub000/pkg/sched"
)

const (
	// DefaultStorageSize is the default size in bytes of the timer pool.
	DefaultStorageSize = 512

	// DefaultPeriod is the default tick period.
	DefaultPeriod = 10 * time.Millisecond
)

var (
	// ErrTimerStorageFull is returned when no timer record is free.
	ErrTimerStorageFull = errors.New("timer storage full")

	// ErrTimerNotFound is returned for handles that name no active timer.
	ErrTimerNotFound = errors.New("timer not found")
)

var log = commonlog.GetLogger("brix.timer")

// Target receives expired timers. *sched.Scheduler implements it.
type Target interface {
	Schedule(id sched.TaskID) error
}

// Handle identifies a timer. The low half is the record's pool offset and
// the high half its generation, so a handle stays dead after its record is
// reused by a later timer.
type Handle uint64

func newHandle(p alloc.Ptr, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(uint32(p)))
}

func (h Handle) ptr() alloc.Ptr { return alloc.Ptr(uint32(h)) }
func (h Handle) gen() uint32    { return uint32(h >> 32) }

// Timer records are 16 bytes:
//
//	[0:4] task id  [4:8] ticks remaining  [8:12] period in ticks (0 = one-shot)
//	[12:16] generation
const recordSize = 16

type record struct {
	task      sched.TaskID
	remaining uint32
	period    uint32
	gen       uint32
}

// Service is a tick-driven timer list. Its methods are safe for concurrent
// use.
type Service struct {
	mu      sync.Mutex
	pool    *alloc.Allocator
	active  []alloc.Ptr
	target  Target
	period  time.Duration
	size    int
	gen     uint32
	ticks   uint64
	expired uint64
}

// Option configures a Service.
type Option func(*Service)

// WithStorage sets the size in bytes of the timer pool.
func WithStorage(size int) Option {
	return func(s *Service) { s.size = size }
}

// WithPeriod sets the duration of one tick.
func WithPeriod(d time.Duration) Option {
	return func(s *Service) { s.period = d }
}

// New creates a Service that schedules expired tasks on target.
func New(target Target, opts ...Option) (*Service, error) {
	s := &Service{
		target: target,
		period: DefaultPeriod,
		size:   DefaultStorageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.period <= 0 {
		return nil, fmt.Errorf("timer period must be positive, got %s", s.period)
	}
	pool, err := alloc.New(make([]byte, s.size), recordSize)
	if err != nil {
		return nil, fmt.Errorf("timer storage: %w", err)
	}
	s.pool = pool
	return s, nil
}

// Period returns the duration of one tick.
func (s *Service) Period() time.Duration { return s.period }

// TicksFor converts a duration to ticks, rounding up, with a minimum of
// one tick.
func (s *Service) TicksFor(d time.Duration) uint32 {
	n := (d + s.period - 1) / s.period
	if n < 1 {
		return 1
	}
	if n > 1<<32-1 {
		return 1<<32 - 1
	}
	return uint32(n)
}

// After arms a one-shot timer that schedules task after delay ticks.
func (s *Service) After(task sched.TaskID, delay uint32) (Handle, error) {
	return s.add(record{task: task, remaining: max(delay, 1)})
}

// Every arms a periodic timer that schedules task every period ticks,
// first after one period.
func (s *Service) Every(task sched.TaskID, period uint32) (Handle, error) {
	period = max(period, 1)
	return s.add(record{task: task, remaining: period, period: period})
}

func (s *Service) add(r record) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.pool.Alloc()
	if err != nil {
		return 0, fmt.Errorf("%w: %d timers", ErrTimerStorageFull, s.pool.Capacity())
	}
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	r.gen = s.gen
	s.write(p, r)
	s.active = append(s.active, p)
	log.Debugf("armed timer %d for task %d (%d ticks, period %d)", p, r.task, r.remaining, r.period)
	return newHandle(p, r.gen), nil
}

// Cancel disarms a timer. Handles of timers that already expired or were
// cancelled return ErrTimerNotFound, even when their record was reused.
func (s *Service) Cancel(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.active {
		if p == h.ptr() && s.read(p).gen == h.gen() {
			s.release(i)
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrTimerNotFound, h)
}

// Len returns the number of armed timers.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Ticks returns the number of ticks processed and the number of timer
// expirations.
func (s *Service) Ticks() (ticks, expired uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks, s.expired
}

// Tick advances every timer by one tick. Expired one-shot timers are
// released and expired periodic timers re-arm. A task that is already
// scheduled or running when its timer expires is not queued twice; a
// timer whose task no longer exists is released.
func (s *Service) Tick() {
	s.mu.Lock()
	s.ticks++
	var due []sched.TaskID
	for i := 0; i < len(s.active); {
		p := s.active[i]
		r := s.read(p)
		r.remaining--
		if r.remaining > 0 {
			s.write(p, r)
			i++
			continue
		}
		s.expired++
		due = append(due, r.task)
		if r.period == 0 {
			s.release(i)
			continue
		}
		r.remaining = r.period
		s.write(p, r)
		i++
	}
	s.mu.Unlock()

	for _, id := range due {
		err := s.target.Schedule(id)
		switch {
		case err == nil:
		case errors.Is(err, sched.ErrTaskBusy):
			log.Debugf("timer overrun for task %d", id)
		case errors.Is(err, sched.ErrTaskNotFound):
			s.cancelTask(id)
		default:
			log.Errorf("timer for task %d: %s", id, err)
		}
	}
}

// cancelTask drops every timer for a task that no longer exists.
func (s *Service) cancelTask(id sched.TaskID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < len(s.active); {
		if s.read(s.active[i]).task == id {
			s.release(i)
			continue
		}
		i++
	}
	log.Debugf("released timers of removed task %d", id)
}

// Run calls Tick every period until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}

// release frees the record at active[i]. Called with the lock held.
func (s *Service) release(i int) {
	p := s.active[i]
	if err := s.pool.Free(p); err != nil {
		log.Errorf("freeing timer %d: %s", p, err)
	}
	s.active = append(s.active[:i], s.active[i+1:]...)
}

func (s *Service) read(p alloc.Ptr) record {
	b := s.pool.Chunk(p)
	return record{
		task:      sched.TaskID(binary.LittleEndian.Uint32(b[0:])),
		remaining: binary.LittleEndian.Uint32(b[4:]),
		period:    binary.LittleEndian.Uint32(b[8:]),
		gen:       binary.LittleEndian.Uint32(b[12:]),
	}
}

func (s *Service) write(p alloc.Ptr, r record) {
	b := s.pool.Chunk(p)
	binary.LittleEndian.PutUint32(b[0:], uint32(r.task))
	binary.LittleEndian.PutUint32(b[4:], r.remaining)
	binary.LittleEndian.PutUint32(b[8:], r.period)
	binary.LittleEndian.PutUint32(b[12:], r.gen)
}
