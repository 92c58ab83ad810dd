package smartcrop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"golang.org/x/sync/singleflight"

	"imgforge/internal/pipeline"
)

// ErrDetectionUnavailable marks a detector that cannot run. Smart crop
// absorbs it and falls back to a centred crop.
var ErrDetectionUnavailable = errors.New("subject detection unavailable")

// SubjectKind tells faces from generic objects.
type SubjectKind string

const (
	KindFace   SubjectKind = "face"
	KindObject SubjectKind = "object"
)

// Subject is one detected region.
type Subject struct {
	Box   pipeline.CropArea `json:"box"`
	Score float64           `json:"score"`
	Kind  SubjectKind       `json:"kind"`
	Class string            `json:"class,omitempty"`
}

// Detector finds faces and objects in a raster. Either call may return an
// empty slice.
type Detector interface {
	DetectFaces(ctx context.Context, img image.Image) ([]Subject, error)
	DetectObjects(ctx context.Context, img image.Image) ([]Subject, error)
}

// Nop is the detector used when no detection backend is configured.
type Nop struct{}

func (Nop) DetectFaces(context.Context, image.Image) ([]Subject, error) {
	return nil, ErrDetectionUnavailable
}

func (Nop) DetectObjects(context.Context, image.Image) ([]Subject, error) {
	return nil, ErrDetectionUnavailable
}

// detectAll runs both detectors, faces first. A failing detector contributes
// nothing; the error is returned only when both fail.
func detectAll(ctx context.Context, d Detector, img image.Image) ([]Subject, error) {
	if d == nil {
		return nil, ErrDetectionUnavailable
	}
	faces, faceErr := guard(func() ([]Subject, error) { return d.DetectFaces(ctx, img) })
	objects, objErr := guard(func() ([]Subject, error) { return d.DetectObjects(ctx, img) })

	subjects := make([]Subject, 0, len(faces)+len(objects))
	if faceErr == nil {
		for _, s := range faces {
			if s.Kind == "" {
				s.Kind = KindFace
			}
			subjects = append(subjects, s)
		}
	}
	if objErr == nil {
		for _, s := range objects {
			if s.Kind == "" {
				s.Kind = KindObject
			}
			subjects = append(subjects, s)
		}
	}
	if faceErr != nil && objErr != nil {
		return nil, errors.Join(ErrDetectionUnavailable, faceErr, objErr)
	}
	return subjects, nil
}

// guard turns a detector panic into ErrDetectionUnavailable.
func guard(detect func() ([]Subject, error)) (subjects []Subject, err error) {
	defer func() {
		if r := recover(); r != nil {
			subjects, err = nil, fmt.Errorf("%w: detector panicked: %v", ErrDetectionUnavailable, r)
		}
	}()
	return detect()
}

// Memo runs detection at most once per key. Concurrent callers for the same
// key share one detector invocation. Results from a cancelled context are not
// kept.
type Memo struct {
	detector Detector
	group    singleflight.Group

	mu    sync.Mutex
	cache map[string]memoEntry
}

type memoEntry struct {
	subjects []Subject
	err      error
}

// NewMemo wraps d.
func NewMemo(d Detector) *Memo {
	return &Memo{detector: d, cache: make(map[string]memoEntry)}
}

// Subjects returns the detections for img, detecting on the first call for key.
func (m *Memo) Subjects(ctx context.Context, key string, img image.Image) ([]Subject, error) {
	m.mu.Lock()
	entry, ok := m.cache[key]
	m.mu.Unlock()
	if ok {
		return entry.subjects, entry.err
	}

	v, _, _ := m.group.Do(key, func() (any, error) {
		m.mu.Lock()
		cached, ok := m.cache[key]
		m.mu.Unlock()
		if ok {
			return cached, nil
		}
		subjects, err := detectAll(ctx, m.detector, img)
		entry := memoEntry{subjects: subjects, err: err}
		// A cancelled caller says nothing about the image; the next one detects again.
		if ctx.Err() == nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			m.mu.Lock()
			m.cache[key] = entry
			m.mu.Unlock()
		}
		return entry, nil
	})
	entry = v.(memoEntry)
	return entry.subjects, entry.err
}

// Forget drops cached detections for key.
func (m *Memo) Forget(key string) {
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()
	m.group.Forget(key)
}
