package download

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgforge/internal/archive"
	"imgforge/internal/batch"
	"imgforge/internal/offload"
	"imgforge/internal/pipeline"
	"imgforge/pkg/imgutil"
)

type delivery struct {
	name string
	mime string
	data []byte
	at   time.Time
}

type recorder struct {
	mu      sync.Mutex
	got     []delivery
	refs    []*Ref
	failFor string
}

func (r *recorder) Deliver(_ context.Context, ref *Ref) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs = append(r.refs, ref)
	if ref.Name == r.failFor {
		return errors.New("disk full")
	}
	data, err := ref.Bytes()
	if err != nil {
		return err
	}
	r.got = append(r.got, delivery{name: ref.Name, mime: ref.MIME, data: append([]byte(nil), data...), at: time.Now()})
	return nil
}

func items(names ...string) []archive.Item {
	var out []archive.Item
	for _, n := range names {
		out = append(out, archive.Item{Category: "social", BaseName: n, CategorySuffix: "square", Ext: "jpg", Data: []byte(n)})
	}
	return out
}

func TestSingleReleasesReference(t *testing.T) {
	rec := &recorder{}
	m := NewManager(rec, Options{Logger: zerolog.Nop()})

	require.NoError(t, m.Single(context.Background(), "out.png", "image/png", []byte("px")))
	require.Len(t, rec.got, 1)
	assert.Equal(t, "out.png", rec.got[0].name)
	assert.Equal(t, []byte("px"), rec.got[0].data)
	assert.Zero(t, m.Refs().Live())

	_, err := rec.refs[0].Bytes()
	assert.ErrorIs(t, err, ErrReleased)
}

func TestSingleReleasesOnFailure(t *testing.T) {
	rec := &recorder{failFor: "out.png"}
	m := NewManager(rec, Options{})
	err := m.Single(context.Background(), "out.png", "image/png", []byte("px"))
	assert.Error(t, err)
	assert.Zero(t, m.Refs().Live())
}

func TestManyIndividualStaggersAndDedupes(t *testing.T) {
	rec := &recorder{}
	m := NewManager(rec, Options{Stagger: 20 * time.Millisecond})

	names, err := m.Many(context.Background(), items("beach", "beach", "city"), ModeIndividual)
	require.NoError(t, err)
	assert.Equal(t, []string{"beach-square.jpg", "beach-square-1.jpg", "city-square.jpg"}, names)

	require.Len(t, rec.got, 3)
	for i := 1; i < len(rec.got); i++ {
		gap := rec.got[i].at.Sub(rec.got[i-1].at)
		assert.GreaterOrEqual(t, gap, 20*time.Millisecond)
	}
	assert.Equal(t, "image/jpeg", rec.got[0].mime)
	assert.Zero(t, m.Refs().Live())
}

func TestManyIndividualContinuesPastFailures(t *testing.T) {
	rec := &recorder{failFor: "beach-square.jpg"}
	m := NewManager(rec, Options{Stagger: -1})

	names, err := m.Many(context.Background(), items("beach", "city", "park"), ModeIndividual)
	assert.Error(t, err)
	assert.Equal(t, []string{"city-square.jpg", "park-square.jpg"}, names)
	assert.Len(t, rec.refs, 3)
	assert.Zero(t, m.Refs().Live())
}

func TestManyIndividualStopsWhenCancelled(t *testing.T) {
	rec := &recorder{}
	m := NewManager(rec, Options{Stagger: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	names, err := m.Many(ctx, items("a", "b", "c"), ModeIndividual)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"a-square.jpg"}, names)
	assert.Zero(t, m.Refs().Live())
}

func TestManyArchive(t *testing.T) {
	rec := &recorder{}
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	builder := archive.NewBuilder(archive.Options{Now: func() time.Time { return now }})
	m := NewManager(rec, Options{Builder: builder})

	names, err := m.Many(context.Background(), items("beach", "city"), ModeArchive)
	require.NoError(t, err)
	assert.Equal(t, []string{"images-2026-01-02.zip"}, names)
	require.Len(t, rec.got, 1)
	assert.Equal(t, "application/zip", rec.got[0].mime)

	zr, err := zip.NewReader(bytes.NewReader(rec.got[0].data), int64(len(rec.got[0].data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "social/beach-square.jpg", zr.File[0].Name)
	assert.Zero(t, m.Refs().Live())
}

func TestManyArchiveOverLimitDeliversNothing(t *testing.T) {
	rec := &recorder{}
	m := NewManager(rec, Options{Builder: archive.NewBuilder(archive.Options{MaxSize: 5})})
	_, err := m.Many(context.Background(), items("beach", "city"), ModeArchive)
	assert.ErrorIs(t, err, archive.ErrSizeLimitExceeded)
	assert.Empty(t, rec.refs)
}

func TestDirDelivererWritesAtomically(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	m := NewManager(DirDeliverer{Dir: dir}, Options{Stagger: -1})

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a-square.jpg"), []byte("old"), 0o644))

	_, err := m.Many(context.Background(), items("a", "b"), ModeIndividual)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "a-square.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temporary files must not be left behind")
}

type execFunc func(ctx context.Context, req pipeline.Request, progress func(int)) pipeline.Result

func (f execFunc) Execute(ctx context.Context, req pipeline.Request, progress func(int)) pipeline.Result {
	return f(ctx, req, progress)
}

func TestItemsFromJobsTakesSucceededOutput(t *testing.T) {
	pool := offload.New(execFunc(func(ctx context.Context, req pipeline.Request, progress func(int)) pipeline.Result {
		if req.Format == imgutil.KindPNG {
			return pipeline.Failed(pipeline.ErrUnsupportedFormat)
		}
		return pipeline.Result{OK: true, Data: []byte("ok"), Width: 1, Height: 1, Format: req.Format}
	}), offload.Options{Size: 2, Logger: zerolog.Nop()})
	defer pool.Close()

	asset := pipeline.NewAsset("photos/beach.png", "", nil)
	jobs := batch.Plan([]*pipeline.Asset{asset}, []batch.Preset{
		{ID: "sq", Category: "social", Suffix: "square", Format: imgutil.KindJPEG},
		{ID: "th", Category: "web", Suffix: "thumb", Format: imgutil.KindPNG},
	})
	report, err := batch.New(pool, batch.Options{}).Run(context.Background(), jobs, nil)
	require.NoError(t, err)
	require.Len(t, report.Succeeded, 1)
	require.Len(t, report.Failed, 1)

	got := ItemsFromJobs(jobs)
	require.Len(t, got, 1)
	assert.Equal(t, archive.Item{
		Category:       "social",
		BaseName:       "beach",
		CategorySuffix: "square",
		Ext:            "jpg",
		Data:           []byte("ok"),
	}, got[0])

	assert.Empty(t, ItemsFromJobs(jobs), "output is handed over once")
}
