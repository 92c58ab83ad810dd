// Package smartcrop picks crop rectangles that keep the most confident
// detected subject in frame, falling back to a centred crop.
package smartcrop

import (
	"context"
	"image"
	"math"

	"github.com/rs/zerolog"

	"imgforge/internal/pipeline"
)

const (
	// Padding is added around the chosen subject on every side, as a
	// fraction of the subject's size.
	Padding = 0.2
	// FallbackConfidence is reported for centred crops.
	FallbackConfidence = 0.5
)

// Result is the chosen area plus the detections it was based on.
type Result struct {
	Area       pipeline.CropArea
	Confidence float64
	Subjects   []Subject
}

// Cropper runs detection once per image and frames crops around the result.
type Cropper struct {
	memo   *Memo
	logger zerolog.Logger
}

// New returns a Cropper backed by d. A nil d behaves like Nop.
func New(d Detector, logger zerolog.Logger) *Cropper {
	if d == nil {
		d = Nop{}
	}
	return &Cropper{memo: NewMemo(d), logger: logger}
}

// Analyze computes the crop for img. Detection failures are logged and
// treated as "no subjects".
func (c *Cropper) Analyze(ctx context.Context, key string, img image.Image, aspect float64) Result {
	subjects, err := c.memo.Subjects(ctx, key, img)
	if err != nil {
		c.logger.Debug().Err(err).Str("image", key).Msg("smartcrop: detection unavailable, using centred crop")
		subjects = nil
	}
	b := img.Bounds()
	return Compute(b.Dx(), b.Dy(), subjects, aspect)
}

// Frame implements pipeline.Framer.
func (c *Cropper) Frame(ctx context.Context, key string, img image.Image, aspect float64) (pipeline.CropArea, error) {
	return c.Analyze(ctx, key, img, aspect).Area, nil
}

// Compute frames a crop on a width x height raster from already detected
// subjects. aspect is width/height; 0 keeps the natural shape.
func Compute(width, height int, subjects []Subject, aspect float64) Result {
	res := Result{Subjects: subjects}

	best, ok := mostConfident(subjects)
	if !ok {
		res.Area = Centered(width, height, aspect)
		res.Confidence = FallbackConfidence
		return res
	}

	W, H := float64(width), float64(height)
	bw, bh := float64(best.Box.Width), float64(best.Box.Height)
	cx := float64(best.Box.X) + bw/2
	cy := float64(best.Box.Y) + bh/2

	w := bw * (1 + 2*Padding)
	h := bh * (1 + 2*Padding)
	if aspect > 0 {
		if w/h < aspect {
			w = h * aspect
		} else {
			h = w / aspect
		}
	}
	if w > W {
		w = W
		if aspect > 0 {
			h = w / aspect
		}
	}
	if h > H {
		h = H
		if aspect > 0 {
			w = h * aspect
		}
	}

	x := clamp(cx-w/2, 0, W-w)
	y := clamp(cy-h/2, 0, H-h)
	res.Area = toArea(x, y, w, h, width, height)
	res.Confidence = best.Score
	return res
}

// Centered crops the larger side of a width x height raster so the result
// matches aspect, keeping it centred. aspect <= 0 returns the full frame.
func Centered(width, height int, aspect float64) pipeline.CropArea {
	if aspect <= 0 || width <= 0 || height <= 0 {
		return pipeline.CropArea{Width: width, Height: height}
	}
	W, H := float64(width), float64(height)
	w, h := W, H
	if W/H > aspect {
		w = H * aspect
	} else {
		h = W / aspect
	}
	return toArea((W-w)/2, (H-h)/2, w, h, width, height)
}

// mostConfident returns the highest scoring subject with a non-empty box.
// Ties go to the earlier subject.
func mostConfident(subjects []Subject) (Subject, bool) {
	var best Subject
	found := false
	for _, s := range subjects {
		if s.Box.Width <= 0 || s.Box.Height <= 0 {
			continue
		}
		if !found || s.Score > best.Score {
			best, found = s, true
		}
	}
	return best, found
}

// toArea rounds a float rectangle to pixels and keeps it inside the raster.
func toArea(x, y, w, h float64, width, height int) pipeline.CropArea {
	area := pipeline.CropArea{
		Width:  min(max(int(math.Round(w)), 1), width),
		Height: min(max(int(math.Round(h)), 1), height),
	}
	area.X = min(max(int(math.Round(x)), 0), width-area.Width)
	area.Y = min(max(int(math.Round(y)), 0), height-area.Height)
	return area
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	return math.Max(lo, math.Min(v, hi))
}
