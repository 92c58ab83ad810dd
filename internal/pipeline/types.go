package pipeline

import (
	"fmt"
	"image"
	"image/color"

	"imgforge/pkg/imgutil"
)

// Operation is one stage of a pipeline request. The built-in stages are
// Resize, Crop, Rotate, Compress and Convert.
type Operation interface {
	Name() string
}

// Resize scales the raster. Width and Height together set an exact size,
// Percent scales both axes, and a single dimension keeps the aspect ratio.
type Resize struct {
	Width   int
	Height  int
	Percent float64
}

// Crop cuts Area out of the raster. With Auto set the area is chosen by the
// pipeline's Framer for the requested Aspect instead.
type Crop struct {
	Area                CropArea
	MaintainAspectRatio bool
	Auto                bool
	Aspect              float64
}

// Rotate turns the raster by Angle degrees clockwise and optionally mirrors it.
type Rotate struct {
	Angle          float64
	FlipHorizontal bool
	FlipVertical   bool
	Background     color.Color
}

// Compress re-encodes at Quality (0-100). Format defaults to the request's format.
type Compress struct {
	Quality int
	Format  imgutil.Kind
}

// Convert switches the output format. Transparent pixels are composited onto
// Background (white when nil) when Format has no alpha channel and
// PreserveTransparency is false.
type Convert struct {
	Format               imgutil.Kind
	Quality              int
	PreserveTransparency bool
	Background           color.Color
}

func (Resize) Name() string { return "resize" }
func (Crop) Name() string { return "crop" }
func (Rotate) Name() string { return "rotate" }
func (Compress) Name() string { return "compress" }
func (Convert) Name() string { return "convert" }

// CropArea is a rectangle in raster coordinates.
type CropArea struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

func (a CropArea) String() string {
	return fmt.Sprintf("{x:%d y:%d w:%d h:%d}", a.X, a.Y, a.Width, a.Height)
}

// Empty reports whether the area has no extent.
func (a CropArea) Empty() bool {
	return a.Width <= 0 || a.Height <= 0
}

// Within reports whether a is non-empty and fits inside a width x height raster.
func (a CropArea) Within(width, height int) bool {
	if a.Empty() || a.X < 0 || a.Y < 0 {
		return false
	}
	return a.X+a.Width <= width && a.Y+a.Height <= height
}

// Rect converts a to an image.Rectangle.
func (a CropArea) Rect() image.Rectangle {
	return image.Rect(a.X, a.Y, a.X+a.Width, a.Y+a.Height)
}

// Request is one asset plus the ordered stages to apply to it.
type Request struct {
	Asset      *Asset
	Operations []Operation
	// Format is the output format; KindUnknown keeps the source format.
	Format imgutil.Kind
	// Quality applies to lossy formats; 0 selects DefaultQuality.
	Quality int
	// KeepICC keeps colour profiles when the source bytes are passed through.
	KeepICC bool
}

// Result is the outcome of a request. Err is set when OK is false.
type Result struct {
	OK     bool
	Data   []byte
	Width  int
	Height int
	Format imgutil.Kind
	Err    error
}

// Failed builds a failed Result.
func Failed(err error) Result {
	return Result{Err: err}
}
