// Package offload runs pipeline requests on a fixed set of worker units.
// Each submitted task gets a correlation id; results, progress and failures
// are routed back to the matching Handle. A task that outlives its timeout
// is failed and its unit is retired and replaced, leaving other tasks alone.
package offload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"imgforge/internal/pipeline"
)

const (
	DefaultSize    = 4
	DefaultTimeout = 30 * time.Second
)

var (
	ErrTimeout     = errors.New("offload: task timed out")
	ErrPoolClosed  = errors.New("offload: pool closed")
	ErrUnitCrashed = errors.New("offload: unit crashed")
)

// Executor does the work for one request. *pipeline.Pipeline satisfies it.
type Executor interface {
	Execute(ctx context.Context, req pipeline.Request, progress func(int)) pipeline.Result
}

// Options configure a Pool. Zero values select the defaults.
type Options struct {
	Size    int
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Task is one unit of work.
type Task struct {
	Request pipeline.Request
	// Timeout overrides the pool default when positive.
	Timeout time.Duration
	// Notify, when set, receives the handle once it reaches a terminal state.
	Notify chan<- *Handle
}

type eventKind int

const (
	evStarted eventKind = iota
	evProgress
	evResult
)

type event struct {
	kind   eventKind
	slot   int
	gen    uint64
	id     uuid.UUID
	pct    int
	result pipeline.Result
}

type unit struct {
	slot   int
	gen    uint64
	inbox  chan *Handle
	cancel context.CancelFunc
	busy   *Handle
}

type flight struct {
	handle *Handle
	slot   int
	timer  *time.Timer
}

// Pool owns the worker units. A single coordinator goroutine owns the unit
// table, the pending queue and the in-flight map; units talk to it only
// through channels.
type Pool struct {
	exec    Executor
	timeout time.Duration
	logger  zerolog.Logger

	submitCh  chan *Handle
	events    chan event
	timeoutCh chan uuid.UUID
	closeCh   chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	root       context.Context
	cancelRoot context.CancelFunc

	units    []*unit
	pending  []*Handle
	inflight map[uuid.UUID]*flight

	retired atomic.Int64
}

// New starts a pool executing tasks with exec.
func New(exec Executor, opts Options) *Pool {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	root, cancel := context.WithCancel(context.Background())
	p := &Pool{
		exec:       exec,
		timeout:    opts.Timeout,
		logger:     opts.Logger,
		submitCh:   make(chan *Handle),
		events:     make(chan event),
		timeoutCh:  make(chan uuid.UUID),
		closeCh:    make(chan struct{}),
		done:       make(chan struct{}),
		root:       root,
		cancelRoot: cancel,
		units:      make([]*unit, opts.Size),
		inflight:   make(map[uuid.UUID]*flight),
	}
	for i := range p.units {
		p.units[i] = &unit{slot: i}
		p.spawn(p.units[i])
	}
	go p.run()
	return p
}

// Size reports the number of units.
func (p *Pool) Size() int { return len(p.units) }

// Retired reports how many units have been replaced after a timeout.
func (p *Pool) Retired() int64 { return p.retired.Load() }

// Submit queues a task and returns its handle. ctx only bounds the handoff
// to the coordinator; it does not cancel the task.
func (p *Pool) Submit(ctx context.Context, task Task) (*Handle, error) {
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	h := newHandle(task.Request, timeout, task.Notify)
	select {
	case p.submitCh <- h:
		return h, nil
	case <-p.closeCh:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close fails every queued and running task with ErrPoolClosed and stops
// all units. It is safe to call more than once.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.closeCh) })
	<-p.done
}

func (p *Pool) run() {
	defer close(p.done)
	for {
		select {
		case h := <-p.submitCh:
			p.pending = append(p.pending, h)
			p.dispatch()
		case ev := <-p.events:
			p.handle(ev)
		case id := <-p.timeoutCh:
			p.expire(id)
		case <-p.closeCh:
			p.shutdown()
			return
		}
	}
}

func (p *Pool) dispatch() {
	for _, u := range p.units {
		if len(p.pending) == 0 {
			return
		}
		if u.busy != nil {
			continue
		}
		h := p.pending[0]
		p.pending[0] = nil
		p.pending = p.pending[1:]

		id := h.ID
		f := &flight{handle: h, slot: u.slot}
		f.timer = time.AfterFunc(h.timeout, func() {
			select {
			case p.timeoutCh <- id:
			case <-p.done:
			}
		})
		p.inflight[id] = f
		u.busy = h
		h.state.Store(int32(StateDispatched))
		u.inbox <- h
	}
}

func (p *Pool) handle(ev event) {
	u := p.units[ev.slot]
	if u.gen != ev.gen {
		return
	}
	f, ok := p.inflight[ev.id]
	if !ok || f.slot != ev.slot {
		return
	}
	switch ev.kind {
	case evStarted:
		f.handle.state.Store(int32(StateProcessing))
	case evProgress:
		f.handle.progress.Store(int32(ev.pct))
	case evResult:
		f.timer.Stop()
		delete(p.inflight, ev.id)
		u.busy = nil
		p.finish(f.handle, ev.result)
		p.dispatch()
	}
}

func (p *Pool) expire(id uuid.UUID) {
	f, ok := p.inflight[id]
	if !ok {
		return
	}
	delete(p.inflight, id)
	u := p.units[f.slot]
	p.logger.Warn().
		Str("task", id.String()).
		Int("unit", u.slot).
		Dur("timeout", f.handle.timeout).
		Msg("offload: task timed out, replacing unit")
	u.cancel()
	u.busy = nil
	p.retired.Add(1)
	p.spawn(u)
	p.finish(f.handle, pipeline.Failed(fmt.Errorf("%w after %s", ErrTimeout, f.handle.timeout)))
	p.dispatch()
}

func (p *Pool) shutdown() {
	for _, h := range p.pending {
		p.finish(h, pipeline.Failed(ErrPoolClosed))
	}
	p.pending = nil
	for id, f := range p.inflight {
		f.timer.Stop()
		delete(p.inflight, id)
		p.finish(f.handle, pipeline.Failed(ErrPoolClosed))
	}
	p.cancelRoot()
}

func (p *Pool) finish(h *Handle, res pipeline.Result) {
	h.result = res
	if res.OK {
		h.progress.Store(100)
		h.state.Store(int32(StateCompleted))
	} else {
		h.state.Store(int32(StateFailed))
	}
	close(h.done)
	if h.notify == nil {
		return
	}
	select {
	case h.notify <- h:
	default:
		go func() { h.notify <- h }()
	}
}

// spawn starts a fresh goroutine for u under a new generation. Events from
// earlier generations are ignored by the coordinator.
func (p *Pool) spawn(u *unit) {
	ctx, cancel := context.WithCancel(p.root)
	u.gen++
	u.cancel = cancel
	u.inbox = make(chan *Handle, 1)
	go p.work(ctx, u.slot, u.gen, u.inbox)
}

func (p *Pool) work(ctx context.Context, slot int, gen uint64, inbox <-chan *Handle) {
	emit := func(ev event) {
		ev.slot, ev.gen = slot, gen
		select {
		case p.events <- ev:
		case <-ctx.Done():
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case h := <-inbox:
			emit(event{kind: evStarted, id: h.ID})
			res := p.execute(ctx, h, func(pct int) {
				emit(event{kind: evProgress, id: h.ID, pct: pct})
			})
			emit(event{kind: evResult, id: h.ID, result: res})
		}
	}
}

func (p *Pool) execute(ctx context.Context, h *Handle, progress func(int)) (res pipeline.Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Str("task", h.ID.String()).Interface("panic", r).Msg("offload: unit crashed")
			res = pipeline.Failed(fmt.Errorf("%w: %v", ErrUnitCrashed, r))
		}
	}()
	return p.exec.Execute(ctx, h.req, progress)
}
