package download

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrReleased = errors.New("download: reference released")

// Ref is a transient handle on an output buffer, valid until released.
type Ref struct {
	ID   string
	Name string
	MIME string

	mu   sync.Mutex
	data []byte
}

// Bytes returns the referenced buffer, or ErrReleased.
func (r *Ref) Bytes() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return nil, ErrReleased
	}
	return r.data, nil
}

// Refs tracks live references so leaks are observable.
type Refs struct {
	mu   sync.Mutex
	live map[string]*Ref
}

func NewRefs() *Refs {
	return &Refs{live: make(map[string]*Ref)}
}

func (rs *Refs) Create(name, mime string, data []byte) *Ref {
	if data == nil {
		data = []byte{}
	}
	ref := &Ref{ID: uuid.NewString(), Name: name, MIME: mime, data: data}
	rs.mu.Lock()
	rs.live[ref.ID] = ref
	rs.mu.Unlock()
	return ref
}

// Release drops the buffer and forgets the reference. Releasing twice is a
// no-op.
func (rs *Refs) Release(ref *Ref) {
	ref.mu.Lock()
	ref.data = nil
	ref.mu.Unlock()

	rs.mu.Lock()
	delete(rs.live, ref.ID)
	rs.mu.Unlock()
}

// Live counts references not yet released.
func (rs *Refs) Live() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.live)
}
