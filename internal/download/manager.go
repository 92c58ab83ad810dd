// Package download delivers processed images, one by one or as a single
// archive, through short-lived references that are always released.
package download

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"imgforge/internal/archive"
	"imgforge/internal/batch"
	"imgforge/pkg/imgutil"
)

const DefaultStagger = 100 * time.Millisecond

type Mode int

const (
	ModeIndividual Mode = iota
	ModeArchive
)

func (m Mode) String() string {
	if m == ModeArchive {
		return "archive"
	}
	return "individual"
}

type Options struct {
	// Stagger separates individual deliveries; 0 selects DefaultStagger and a
	// negative value disables it.
	Stagger time.Duration
	Builder *archive.Builder
	Logger  zerolog.Logger
}

type Manager struct {
	deliverer Deliverer
	refs      *Refs
	opts      Options
}

func NewManager(d Deliverer, opts Options) *Manager {
	if opts.Stagger == 0 {
		opts.Stagger = DefaultStagger
	}
	if opts.Builder == nil {
		opts.Builder = archive.NewBuilder(archive.Options{Logger: opts.Logger})
	}
	return &Manager{deliverer: d, refs: NewRefs(), opts: opts}
}

// Refs exposes the live reference registry.
func (m *Manager) Refs() *Refs { return m.refs }

// Single delivers one buffer. The reference is released before returning.
func (m *Manager) Single(ctx context.Context, name, mime string, data []byte) error {
	ref := m.refs.Create(name, mime, data)
	defer m.refs.Release(ref)

	if err := m.deliverer.Deliver(ctx, ref); err != nil {
		m.opts.Logger.Warn().Err(err).Str("file", name).Msg("download: delivery failed")
		return fmt.Errorf("deliver %s: %w", name, err)
	}
	return nil
}

// Many delivers items either one at a time, Stagger apart, or as one
// archive. It returns the names handed to the deliverer. Individual
// failures do not stop the remaining deliveries; they are joined into the
// returned error.
func (m *Manager) Many(ctx context.Context, items []archive.Item, mode Mode) ([]string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if mode == ModeArchive {
		arc, err := m.opts.Builder.Build(ctx, items)
		if err != nil {
			return nil, err
		}
		if err := m.Single(ctx, arc.Name, "application/zip", arc.Data); err != nil {
			return nil, err
		}
		return []string{arc.Name}, nil
	}

	names := archive.NewNamer()
	var (
		delivered []string
		errs      []error
	)
	for i, it := range items {
		if i > 0 {
			if err := wait(ctx, m.opts.Stagger); err != nil {
				errs = append(errs, err)
				break
			}
		}
		it.Category = ""
		name := names.Name(it).Filename
		if err := m.Single(ctx, name, imgutil.ParseKind(it.Ext).MIME(), it.Data); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered = append(delivered, name)
	}
	return delivered, errors.Join(errs...)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ItemsFromJobs takes the output of every succeeded job. Each job's output
// can be taken once; jobs already drained are skipped.
func ItemsFromJobs(jobs []*batch.Job) []archive.Item {
	items := make([]archive.Item, 0, len(jobs))
	for _, job := range jobs {
		if job.Status != batch.StatusSucceeded {
			continue
		}
		data, ok := job.TakeOutput()
		if !ok {
			continue
		}
		items = append(items, archive.Item{
			Category:       job.Preset.Category,
			BaseName:       job.Asset.BaseName(),
			CategorySuffix: job.Preset.Suffix,
			Ext:            job.Format.Extension(),
			Data:           data,
		})
	}
	return items
}
