package offload

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"imgforge/internal/pipeline"
)

// State is the lifecycle position of a task.
type State int32

const (
	StateIdle State = iota
	StateDispatched
	StateProcessing
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatched:
		return "dispatched"
	case StateProcessing:
		return "processing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Handle tracks one submitted task.
type Handle struct {
	ID uuid.UUID

	req     pipeline.Request
	timeout time.Duration
	notify  chan<- *Handle

	state    atomic.Int32
	progress atomic.Int32
	done     chan struct{}
	result   pipeline.Result
}

func newHandle(req pipeline.Request, timeout time.Duration, notify chan<- *Handle) *Handle {
	return &Handle{
		ID:      uuid.New(),
		req:     req,
		timeout: timeout,
		notify:  notify,
		done:    make(chan struct{}),
	}
}

// Request returns the request the task was submitted with.
func (h *Handle) Request() pipeline.Request { return h.req }

func (h *Handle) State() State { return State(h.state.Load()) }

// Progress is the last percentage reported by the unit running the task.
func (h *Handle) Progress() int { return int(h.progress.Load()) }

// Done is closed when the task reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the outcome. It is only meaningful after Done is closed.
func (h *Handle) Result() pipeline.Result {
	select {
	case <-h.done:
		return h.result
	default:
		return pipeline.Result{}
	}
}

// Wait blocks until the task finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) (pipeline.Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return pipeline.Result{}, ctx.Err()
	}
}
