// Package archive packs processed images into a zip with one folder per
// category.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
)

const DefaultMaxSize int64 = 100 << 20

var ErrSizeLimitExceeded = errors.New("archive size limit exceeded")

// Item is one file to pack.
type Item struct {
	Category       string
	BaseName       string
	CategorySuffix string
	ItemSuffix     string
	Ext            string
	Data           []byte
}

// Entry describes a file written to the archive.
type Entry struct {
	Folder   string
	Filename string
	Size     int
}

// Path is the entry's name inside the archive.
func (e Entry) Path() string {
	if e.Folder == "" {
		return e.Filename
	}
	return e.Folder + "/" + e.Filename
}

type Archive struct {
	Name    string
	Data    []byte
	Entries []Entry
}

type Options struct {
	// MaxSize caps the summed size of all items; 0 selects DefaultMaxSize.
	MaxSize int64
	// Level is the flate level for compressible entries; 0 selects
	// flate.DefaultCompression.
	Level  int
	Logger zerolog.Logger
	Now    func() time.Time
}

type Builder struct {
	opts Options
}

func NewBuilder(opts Options) *Builder {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.Level == 0 {
		opts.Level = flate.DefaultCompression
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Builder{opts: opts}
}

// DefaultName is the date-stamped archive file name.
func DefaultName(now time.Time) string {
	return "images-" + now.Format("2006-01-02") + ".zip"
}

// Build packs items. The summed size is checked against MaxSize before any
// compression starts.
func (b *Builder) Build(ctx context.Context, items []Item) (Archive, error) {
	var total int64
	for _, it := range items {
		total += int64(len(it.Data))
	}
	if total > b.opts.MaxSize {
		return Archive{}, fmt.Errorf("%w: %d bytes over limit of %d", ErrSizeLimitExceeded, total, b.opts.MaxSize)
	}

	now := b.opts.Now()
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	level := b.opts.Level
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	names := NewNamer()
	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return Archive{}, err
		}
		e := names.Name(it)

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.Path(),
			Method:   method(e.Filename),
			Modified: now,
		})
		if err != nil {
			return Archive{}, fmt.Errorf("create %s: %w", e.Path(), err)
		}
		if _, err := w.Write(it.Data); err != nil {
			return Archive{}, fmt.Errorf("write %s: %w", e.Path(), err)
		}
		entries = append(entries, e)
	}
	if err := zw.Close(); err != nil {
		return Archive{}, fmt.Errorf("close archive: %w", err)
	}

	b.opts.Logger.Info().
		Int("entries", len(entries)).
		Int64("input_bytes", total).
		Int("archive_bytes", buf.Len()).
		Msg("archive: built")
	return Archive{Name: DefaultName(now), Data: buf.Bytes(), Entries: entries}, nil
}

func fileStem(it Item) string {
	parts := []string{sanitize(it.BaseName)}
	if parts[0] == "" {
		parts[0] = "image"
	}
	for _, s := range []string{it.CategorySuffix, it.ItemSuffix} {
		if s = sanitize(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "-")
}

// method stores formats that are already compressed.
func method(filename string) uint16 {
	switch strings.ToLower(path.Ext(filename)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return zip.Store
	default:
		return zip.Deflate
	}
}

// sanitize normalises to NFC and replaces characters that would change the
// archive layout or confuse extractors.
func sanitize(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':':
			return '-'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
	return strings.Trim(s, ". ")
}

func sanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(sanitize(ext), "."))
	if ext == "" {
		return "bin"
	}
	return ext
}

// Namer hands out file names of the form {base}-{categorySuffix}-{itemSuffix}.{ext}
// that are unique within a folder, ignoring case. Collisions get -1, -2, ...
// in the order they are requested. Items without a category share the root.
type Namer struct {
	used map[string]bool
}

func NewNamer() *Namer {
	return &Namer{used: make(map[string]bool)}
}

// Name reserves and returns the entry for it.
func (n *Namer) Name(it Item) Entry {
	folder := sanitize(it.Category)
	stem, ext := fileStem(it), sanitizeExt(it.Ext)
	name := stem + "." + ext
	for i := 1; n.used[n.key(folder, name)]; i++ {
		name = stem + "-" + strconv.Itoa(i) + "." + ext
	}
	n.used[n.key(folder, name)] = true
	return Entry{Folder: folder, Filename: name, Size: len(it.Data)}
}

func (n *Namer) key(folder, name string) string {
	return strings.ToLower(folder) + "/" + strings.ToLower(name)
}
