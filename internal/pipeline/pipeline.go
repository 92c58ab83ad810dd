package pipeline

import (
	"context"
	"fmt"
	"image"

	"github.com/rs/zerolog"

	"imgforge/pkg/imgutil"
)

// Framer chooses a crop area for img at the given aspect ratio (width/height,
// 0 keeps the raster's own). key identifies the image for caching.
type Framer interface {
	Frame(ctx context.Context, key string, img image.Image, aspect float64) (CropArea, error)
}

// Pipeline runs requests stage by stage. It holds no per-request state and is
// safe for concurrent use.
type Pipeline struct {
	framer Framer
	logger zerolog.Logger
}

// New returns a Pipeline. framer may be nil when no request uses auto crop.
func New(framer Framer, logger zerolog.Logger) *Pipeline {
	return &Pipeline{framer: framer, logger: logger}
}

type stageState struct {
	img     *image.RGBA
	format  imgutil.Kind
	quality int
	// encoded holds the output of a compress stage until a later stage
	// changes the pixels.
	encoded []byte
}

// Execute decodes the asset, applies every operation in order and encodes
// the result. The first failing stage ends the request. progress, when
// non-nil, receives percentages between 0 and 100.
func (p *Pipeline) Execute(ctx context.Context, req Request, progress func(int)) Result {
	report := func(pct int) {
		if progress != nil {
			progress(pct)
		}
	}
	if req.Asset == nil {
		return Failed(fmt.Errorf("%w: request has no asset", ErrDecode))
	}
	if err := ctx.Err(); err != nil {
		return Failed(err)
	}

	src, info, err := req.Asset.Raster()
	if err != nil {
		return Failed(err)
	}
	report(10)

	state := stageState{img: src, format: req.Format, quality: req.Quality}
	if state.format == imgutil.KindUnknown {
		state.format = info.Kind
		if !Encodable(state.format) {
			state.format = imgutil.KindPNG
		}
	}
	if state.quality == 0 {
		state.quality = DefaultQuality
	}

	if len(req.Operations) == 0 && state.format == info.Kind && !info.Reoriented &&
		(info.Kind == imgutil.KindJPEG || info.Kind == imgutil.KindPNG) {
		if data, err := StripMetadata(req.Asset.Data, req.KeepICC); err == nil {
			report(100)
			b := src.Bounds()
			return Result{OK: true, Data: data, Width: b.Dx(), Height: b.Dy(), Format: info.Kind}
		}
		p.logger.Debug().Str("asset", req.Asset.Name).Msg("pipeline: passthrough failed, re-encoding")
	}

	for i, op := range req.Operations {
		if err := ctx.Err(); err != nil {
			return Failed(err)
		}
		last := i == len(req.Operations)-1
		if err := p.apply(ctx, req.Asset, &state, op, last); err != nil {
			name := "nil"
			if op != nil {
				name = op.Name()
			}
			return Failed(&StageError{Index: i, Op: name, Err: err})
		}
		report(10 + 80*(i+1)/len(req.Operations))
	}

	data := state.encoded
	if data == nil {
		state.img = opaqueFor(state.img, state.format)
		data, err = Encode(state.img, state.format, state.quality, false)
		if err != nil {
			return Failed(&StageError{Index: len(req.Operations), Op: "encode", Err: err})
		}
	}
	report(100)

	b := state.img.Bounds()
	return Result{OK: true, Data: data, Width: b.Dx(), Height: b.Dy(), Format: state.format}
}

func (p *Pipeline) apply(ctx context.Context, asset *Asset, s *stageState, op Operation, last bool) error {
	switch o := op.(type) {
	case Resize:
		img, err := ResizeImage(s.img, o)
		if err != nil {
			return err
		}
		s.img, s.encoded = img, nil
	case Crop:
		area := o.Area
		if o.Auto {
			framed, err := p.frame(ctx, asset, s.img, o)
			if err != nil {
				return err
			}
			area = framed
		}
		img, err := CropImage(s.img, area)
		if err != nil {
			return err
		}
		s.img, s.encoded = img, nil
	case Rotate:
		s.img, s.encoded = RotateImage(s.img, o), nil
	case Compress:
		if err := checkQuality(o.Quality); err != nil {
			return err
		}
		format := s.format
		if o.Format != imgutil.KindUnknown {
			format = o.Format
		}
		s.img = opaqueFor(s.img, format)
		data, err := Encode(s.img, format, o.Quality, true)
		if err != nil {
			return err
		}
		s.format, s.quality, s.encoded = format, o.Quality, data
		if format.Lossy() && !last {
			// later stages must see the compression artefacts
			img, _, err := Decode(data)
			if err != nil {
				return err
			}
			s.img = img
		}
	case Convert:
		if !Encodable(o.Format) {
			return fmt.Errorf("%w: %s", ErrUnsupportedFormat, o.Format)
		}
		if err := checkQuality(o.Quality); err != nil {
			return err
		}
		if !o.Format.SupportsAlpha() && !o.PreserveTransparency && !s.img.Opaque() {
			s.img = Flatten(s.img, o.Background)
		}
		s.format, s.encoded = o.Format, nil
		if o.Quality > 0 {
			s.quality = o.Quality
		}
	case nil:
		return fmt.Errorf("%w: nil operation", ErrUnknownOperation)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownOperation, op.Name())
	}
	return nil
}

// opaqueFor composites img onto white when format cannot carry its
// transparency.
func opaqueFor(img *image.RGBA, format imgutil.Kind) *image.RGBA {
	if format.SupportsAlpha() || img.Opaque() {
		return img
	}
	return Flatten(img, nil)
}

func (p *Pipeline) frame(ctx context.Context, asset *Asset, img *image.RGBA, op Crop) (CropArea, error) {
	if p.framer == nil {
		return CropArea{}, ErrNoFramer
	}
	aspect := op.Aspect
	if aspect <= 0 && op.MaintainAspectRatio && !op.Area.Empty() {
		aspect = float64(op.Area.Width) / float64(op.Area.Height)
	}
	b := img.Bounds()
	key := fmt.Sprintf("%s@%dx%d", asset.ID, b.Dx(), b.Dy())
	return p.framer.Frame(ctx, key, img, aspect)
}
