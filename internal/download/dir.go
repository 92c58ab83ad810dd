package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Deliverer hands a referenced buffer to its destination.
type Deliverer interface {
	Deliver(ctx context.Context, ref *Ref) error
}

// DirDeliverer writes each reference into Dir under its base name. Files are
// written to a temporary sibling and renamed into place.
type DirDeliverer struct {
	Dir string
}

func (d DirDeliverer) Deliver(ctx context.Context, ref *Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := ref.Bytes()
	if err != nil {
		return err
	}
	name := filepath.Base(filepath.FromSlash(ref.Name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return fmt.Errorf("download: invalid file name %q", ref.Name)
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(d.Dir, "imgforge-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	return replaceFile(tmpFile.Name(), filepath.Join(d.Dir, name))
}

func replaceFile(tmpPath, destPath string) error {
	if err := os.Rename(tmpPath, destPath); err == nil {
		return nil
	}
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Rename(tmpPath, destPath)
}
