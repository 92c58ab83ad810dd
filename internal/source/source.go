// Package source finds image files on disk and loads them as pipeline
// assets.
package source

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"imgforge/internal/pipeline"
	"imgforge/pkg/imgutil"
)

var ErrNoImages = errors.New("no supported images found")

// File is a discovered image.
type File struct {
	Path string
	Rel  string
	Kind imgutil.Kind
}

// Collect returns the images under root, which may be a single file or a
// directory. Files whose signature is not a known image type are skipped.
// Directories inside exclude are not descended into.
func Collect(ctx context.Context, root, exclude string) ([]File, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		kind, err := imgutil.SniffFile(absRoot)
		if err != nil {
			return nil, err
		}
		if kind == imgutil.KindUnknown {
			return nil, ErrNoImages
		}
		return []File{{Path: absRoot, Rel: filepath.Base(absRoot), Kind: kind}}, nil
	}

	var excludeAbs string
	if exclude != "" {
		if abs, err := filepath.Abs(exclude); err == nil && abs != absRoot {
			excludeAbs = abs
		}
	}

	var files []File
	err = fs.WalkDir(os.DirFS(absRoot), ".", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		full := filepath.Join(absRoot, path)
		if d.IsDir() {
			if excludeAbs != "" && isWithin(full, excludeAbs) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		kind, err := imgutil.SniffFile(full)
		if err != nil {
			return err
		}
		if kind == imgutil.KindUnknown {
			return nil
		}
		files = append(files, File{Path: full, Rel: filepath.ToSlash(path), Kind: kind})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoImages
	}
	return files, nil
}

// Load reads files concurrently, at most limit at a time, keeping their
// order. The first read error cancels the rest.
func Load(ctx context.Context, files []File, limit int) ([]*pipeline.Asset, error) {
	assets := make([]*pipeline.Asset, len(files))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(f.Path)
			if err != nil {
				return err
			}
			assets[i] = pipeline.NewAsset(f.Rel, f.Kind.MIME(), data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return assets, nil
}

func isWithin(path string, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
