package pipeline

import (
	"image"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"imgforge/pkg/imgutil"
)

// Asset is one source image. The encoded bytes are immutable; the decoded
// raster is produced on first use and dropped once every holder has called
// Release.
type Asset struct {
	ID   string
	Name string
	MIME string
	Data []byte

	mu     sync.Mutex
	raster *image.RGBA
	info   DecodeInfo
	err    error
	refs   int
}

// NewAsset wraps caller-supplied bytes. mime is a hint only.
func NewAsset(name, mime string, data []byte) *Asset {
	if mime == "" {
		mime = imgutil.Sniff(data).MIME()
	}
	return &Asset{
		ID:   uuid.NewString(),
		Name: name,
		MIME: mime,
		Data: data,
	}
}

// BaseName is the file name without directory or extension.
func (a *Asset) BaseName() string {
	base := filepath.Base(a.Name)
	if base == "." || base == string(filepath.Separator) {
		return "image"
	}
	if ext := filepath.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// Raster decodes the asset on first use. Rasters are never modified after
// decoding, so the returned value may be read from any goroutine.
func (a *Asset) Raster() (*image.RGBA, DecodeInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.raster != nil {
		return a.raster, a.info, nil
	}
	if a.err != nil {
		return nil, a.info, a.err
	}

	raster, info, err := Decode(a.Data)
	a.info = info
	if err != nil {
		a.err = err
		return nil, info, err
	}
	a.raster = raster
	return raster, info, nil
}

// Retain registers a consumer of the decoded raster.
func (a *Asset) Retain() {
	a.mu.Lock()
	a.refs++
	a.mu.Unlock()
}

// Release drops a consumer. The raster is freed when none remain; a later
// call to Raster decodes again.
func (a *Asset) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.refs > 0 {
		a.refs--
	}
	if a.refs == 0 {
		a.raster = nil
	}
}

// Decoded reports whether a raster is currently held.
func (a *Asset) Decoded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.raster != nil
}
