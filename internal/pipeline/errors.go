package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrDecode            = errors.New("decode failed")
	ErrInvalidDimension  = errors.New("invalid dimension")
	ErrCropOutOfBounds   = errors.New("crop area out of bounds")
	ErrUnknownOperation  = errors.New("unknown operation")
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrInvalidQuality    = errors.New("quality must be between 0 and 100")
	ErrNoFramer          = errors.New("auto crop requested without a framer")
)

// StageError reports which stage of a request failed.
type StageError struct {
	Index int
	Op    string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s): %v", e.Index, e.Op, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
