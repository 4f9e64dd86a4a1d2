package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/guidorota/brix-sub000/manifest"
	"github.com/guidorota/brix-sub000/pkg/fields"
	"github.com/guidorota/brix-sub000/pkg/image"
	"github.com/guidorota/brix-sub000/pkg/interp"
	"github.com/guidorota/brix-sub000/pkg/pcode"
	"github.com/guidorota/brix-sub000/pkg/repository"
	"github.com/guidorota/brix-sub000/pkg/sched"
	"github.com/guidorota/brix-sub000/pkg/store"
	"github.com/guidorota/brix-sub000/pkg/timer"
)

var log = commonlog.GetLogger("brix")

// host wires one runtime instance together from a manifest.
type host struct {
	manifest *manifest.Manifest
	fields   *fields.Table
	machine  *interp.Machine
	repo     *repository.Repository
	sched    *sched.Scheduler
	timers   *timer.Service
	store    *store.Store

	tasks    map[string]sched.TaskID
	periodic int
	failed   atomic.Uint64
}

func newHost(m *manifest.Manifest) (*host, error) {
	h := &host{
		manifest: m,
		fields:   fields.NewTable(),
		tasks:    make(map[string]sched.TaskID),
	}

	for _, f := range m.Fields {
		if err := h.declareField(f); err != nil {
			return nil, err
		}
	}

	opts := []interp.Option{
		interp.WithStackSize(m.VM.StackSize),
		interp.WithVariableTableSize(m.VM.VariableTableSize),
	}
	if m.VM.StepLimit > 0 {
		opts = append(opts, interp.WithStepLimit(int(m.VM.StepLimit)))
	}
	h.machine = interp.New(h.fields, opts...)
	h.repo = repository.New(m.Repository.Size, h.machine)

	idle, err := sched.ParseIdlePolicy(m.Scheduler.Idle)
	if err != nil {
		return nil, err
	}
	h.sched, err = sched.New(h.repo,
		sched.WithTaskStorage(m.Scheduler.TaskStorage),
		sched.WithIdlePolicy(idle),
		sched.WithResultHook(h.taskFinished),
	)
	if err != nil {
		return nil, err
	}

	period, err := m.TimerPeriod()
	if err != nil {
		return nil, err
	}
	h.timers, err = timer.New(h.sched, timer.WithPeriod(period), timer.WithStorage(m.Timer.Storage))
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (h *host) close() {
	if h.store != nil {
		h.store.Close()
	}
}

// taskFinished counts failures; the scheduler has already logged them.
func (h *host) taskFinished(id sched.TaskID, err error) {
	if err != nil {
		h.failed.Add(1)
		return
	}
	log.Debugf("task %d done", id)
}

func (h *host) declareField(f manifest.Field) error {
	typ, ok := pcode.ParseType(f.Type)
	if !ok {
		return fmt.Errorf("field %s: unknown type %q", f.Name, f.Type)
	}
	if err := h.fields.Declare(f.Name, typ); err != nil {
		return err
	}
	if f.Initial == nil {
		return nil
	}
	w, err := initialWord(typ, f.Initial)
	if err != nil {
		return fmt.Errorf("field %s: %w", f.Name, err)
	}
	return h.fields.SetWord(f.Name, w)
}

// initialWord converts a decoded TOML value to a field word.
func initialWord(typ pcode.DataType, v any) (uint32, error) {
	switch typ {
	case pcode.TypeInt:
		n, ok := v.(int64)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			return 0, fmt.Errorf("initial value %v is not a 32-bit integer", v)
		}
		return uint32(int32(n)), nil
	case pcode.TypeFloat:
		switch x := v.(type) {
		case float64:
			return math.Float32bits(float32(x)), nil
		case int64:
			return math.Float32bits(float32(x)), nil
		}
		return 0, fmt.Errorf("initial value %v is not a number", v)
	case pcode.TypeBool:
		b, ok := v.(bool)
		if !ok {
			return 0, fmt.Errorf("initial value %v is not a bool", v)
		}
		if b {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("type %s has no initial value", typ)
}

func (h *host) openStore() (*store.Store, error) {
	if h.store != nil {
		return h.store, nil
	}
	s, err := store.Open(h.manifest.StorePath())
	if err != nil {
		return nil, err
	}
	h.store = s
	return s, nil
}

// resolve returns the image for a manifest program entry, assembling its
// source or reading it from the store.
func (h *host) resolve(p manifest.Program) (*image.Program, error) {
	if p.Source == "" {
		s, err := h.openStore()
		if err != nil {
			return nil, err
		}
		return s.Load(p.Name)
	}

	src, err := os.ReadFile(h.manifest.SourcePath(p))
	if err != nil {
		return nil, err
	}
	buf, err := pcode.Assemble(string(src))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Source, err)
	}
	img := &image.Program{Name: p.Name, Code: buf.Bytes()}
	img.Seal()
	return img, img.Validate()
}

// load adds every manifest program to the runtime, schedules its first
// run and arms a timer for periodic programs.
func (h *host) load() error {
	for _, p := range h.manifest.Programs {
		img, err := h.resolve(p)
		if err != nil {
			return fmt.Errorf("program %s: %w", p.Name, err)
		}
		interval := time.Duration(img.Interval) * time.Millisecond
		if p.Interval != "" {
			if interval, err = p.IntervalDuration(); err != nil {
				return fmt.Errorf("program %s: %w", p.Name, err)
			}
		}
		if err := h.install(img, interval); err != nil {
			return fmt.Errorf("program %s: %w", p.Name, err)
		}
	}
	return nil
}

func (h *host) install(img *image.Program, interval time.Duration) error {
	for _, f := range img.Fields {
		if err := h.declareField(manifest.Field{Name: f.Name, Type: f.Type}); err != nil {
			return err
		}
	}

	id, err := h.sched.AddPcodeTask(img.Code)
	if err != nil {
		return err
	}
	h.tasks[img.Name] = id

	if err := h.sched.Schedule(id); err != nil {
		return err
	}
	if interval > 0 {
		if _, err := h.timers.Every(id, h.timers.TicksFor(interval)); err != nil {
			return err
		}
		h.periodic++
	}
	log.Debugf("installed %s as task %d (%d bytes, every %s)", img.Name, id, len(img.Code), interval)
	return nil
}

// run drives the scheduler until ctx ends. With no periodic programs the
// scheduler drains once and run returns.
func (h *host) run(ctx context.Context) error {
	var err error
	if h.periodic == 0 {
		err = h.sched.Run(ctx, true)
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return h.timers.Run(gctx) })
		g.Go(func() error { return h.sched.Run(gctx, false) })
		err = g.Wait()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
