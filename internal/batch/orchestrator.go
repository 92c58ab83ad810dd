// Package batch fans a set of images out across a set of presets and runs
// the resulting jobs on an offload pool with bounded concurrency.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"imgforge/internal/offload"
	"imgforge/internal/telemetry"
)

const DefaultPoolSize = offload.DefaultSize

// Submitter hands tasks to worker units. *offload.Pool satisfies it.
type Submitter interface {
	Submit(ctx context.Context, task offload.Task) (*offload.Handle, error)
}

type Options struct {
	// PoolSize caps the number of dispatched jobs.
	PoolSize int
	// Timeout is the per-job timeout; 0 uses the pool default.
	Timeout  time.Duration
	Observer telemetry.Observer
	Logger   zerolog.Logger
}

type Orchestrator struct {
	pool Submitter
	opts Options
}

func New(pool Submitter, opts Options) *Orchestrator {
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.Observer == nil {
		opts.Observer = telemetry.Nop{}
	}
	return &Orchestrator{pool: pool, opts: opts}
}

// Run executes jobs in FIFO order with at most PoolSize dispatched at once.
// A finished job immediately frees its slot for the next queued one. Job
// failures are recorded and never stop the batch. Once ctx is cancelled no
// further job is dispatched; running jobs finish and are reported, queued
// ones are marked cancelled and ctx's error is returned with the report.
//
// updates, when non-nil, receives a Progress for every state change and is
// not closed.
func (o *Orchestrator) Run(ctx context.Context, jobs []*Job, updates chan<- Progress) (Report, error) {
	start := time.Now()
	report := Report{Total: len(jobs)}
	logger := o.opts.Logger

	for _, job := range jobs {
		job.Status = StatusQueued
		job.Asset.Retain()
	}

	queue := append([]*Job(nil), jobs...)
	active := make(map[string]*Job, o.opts.PoolSize)
	notify := make(chan *offload.Handle, len(jobs))
	completed := 0

	send := func(job *Job, phase, msg string) {
		if updates != nil {
			updates <- Progress{
				Completed: completed,
				Total:     len(jobs),
				Phase:     phase,
				Message:   msg,
				JobID:     job.ID,
				Job:       job.Name(),
				Status:    job.Status,
				Err:       job.Err,
			}
		}
		telemetry.Emit(ctx, o.opts.Observer, logger, telemetry.Event{
			Phase:      phase,
			Percentage: telemetry.Percent(completed, len(jobs)),
			Message:    msg,
		})
	}

	finish := func(job *Job) {
		job.Asset.Release()
		completed++
		switch job.Status {
		case StatusSucceeded:
			report.Succeeded = append(report.Succeeded, job)
			send(job, "processing", fmt.Sprintf("Processed %d of %d", completed, len(jobs)))
		case StatusFailed:
			report.Failed = append(report.Failed, job)
			logger.Warn().Err(job.Err).Str("job", job.ID).Str("name", job.Name()).Msg("batch: job failed")
			send(job, "processing", fmt.Sprintf("Processed %d of %d (%s failed)", completed, len(jobs), job.Name()))
		case StatusCancelled:
			report.Cancelled = append(report.Cancelled, job)
			send(job, "cancelled", fmt.Sprintf("Cancelled %s", job.Name()))
		}
	}

	dispatch := func() {
		for len(active) < o.opts.PoolSize && len(queue) > 0 {
			if ctx.Err() != nil {
				return
			}
			job := queue[0]
			queue[0] = nil
			queue = queue[1:]

			h, err := o.pool.Submit(context.WithoutCancel(ctx), offload.Task{
				Request: job.Request(),
				Timeout: o.opts.Timeout,
				Notify:  notify,
			})
			if err != nil {
				job.Status = StatusFailed
				job.Err = err
				finish(job)
				continue
			}
			job.Status = StatusRunning
			active[h.ID.String()] = job
			send(job, "dispatch", fmt.Sprintf("Processing %s", job.Name()))
		}
	}

	queued := Progress{Total: len(jobs), Phase: "start", Message: fmt.Sprintf("Queued %d jobs", len(jobs))}
	if updates != nil {
		updates <- queued
	}
	telemetry.Emit(ctx, o.opts.Observer, logger, telemetry.Event{Phase: queued.Phase, Message: queued.Message})

	dispatch()
	for len(active) > 0 {
		h := <-notify
		key := h.ID.String()
		job, ok := active[key]
		if !ok {
			continue
		}
		delete(active, key)

		res := h.Result()
		if res.OK {
			job.Status = StatusSucceeded
			job.output = res.Data
			job.Width, job.Height, job.Format = res.Width, res.Height, res.Format
		} else {
			job.Status = StatusFailed
			job.Err = res.Err
		}
		finish(job)
		dispatch()
	}

	for _, job := range queue {
		job.Status = StatusCancelled
		job.Err = ctx.Err()
		finish(job)
	}

	report.Elapsed = time.Since(start)
	logger.Info().
		Int("succeeded", len(report.Succeeded)).
		Int("failed", len(report.Failed)).
		Int("cancelled", len(report.Cancelled)).
		Dur("elapsed", report.Elapsed).
		Msg("batch: done")
	telemetry.Emit(ctx, o.opts.Observer, logger, telemetry.Event{
		Phase:      "done",
		Percentage: 100,
		Message:    fmt.Sprintf("%d succeeded, %d failed", len(report.Succeeded), len(report.Failed)),
	})

	if len(report.Cancelled) > 0 {
		return report, ctx.Err()
	}
	return report, nil
}
