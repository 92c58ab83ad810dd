// Package telemetry delivers progress events to an injected observer without
// letting the observer influence the work being reported.
package telemetry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Event is one progress notification.
type Event struct {
	Phase      string `json:"phase"`
	Percentage int    `json:"percentage"`
	Message    string `json:"message"`
}

// Observer receives events. Errors and panics are swallowed by Emit.
type Observer interface {
	Observe(ctx context.Context, ev Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event) error

func (f ObserverFunc) Observe(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Nop discards events.
type Nop struct{}

func (Nop) Observe(context.Context, Event) error { return nil }

// Log writes events to a zerolog logger at debug level.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Observe(_ context.Context, ev Event) error {
	l.Logger.Debug().
		Str("phase", ev.Phase).
		Int("percentage", ev.Percentage).
		Msg(ev.Message)
	return nil
}

// Emit hands ev to o. Observer failures are logged and otherwise ignored.
func Emit(ctx context.Context, o Observer, logger zerolog.Logger, ev Event) {
	if o == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn().Str("panic", fmt.Sprint(r)).Str("phase", ev.Phase).Msg("telemetry: observer panicked")
		}
	}()
	if err := o.Observe(ctx, ev); err != nil {
		logger.Debug().Err(err).Str("phase", ev.Phase).Msg("telemetry: observer failed")
	}
}

// Percent returns done/total as a whole percentage.
func Percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return done * 100 / total
}
