package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/rs/zerolog"

	"imgforge/pkg/imgutil"
)

type fixedFramer struct {
	area   CropArea
	aspect float64
	key    string
}

func (f *fixedFramer) Frame(_ context.Context, key string, _ image.Image, aspect float64) (CropArea, error) {
	f.key = key
	f.aspect = aspect
	return f.area, nil
}

type sepia struct{}

func (sepia) Name() string { return "sepia" }

func run(t *testing.T, p *Pipeline, req Request) Result {
	t.Helper()
	var last int
	res := p.Execute(context.Background(), req, func(pct int) {
		if pct < last || pct > 100 {
			t.Fatalf("progress went from %d to %d", last, pct)
		}
		last = pct
	})
	if res.OK && last != 100 {
		t.Fatalf("successful run ended at %d%%", last)
	}
	return res
}

func TestExecuteResizeScenario(t *testing.T) {
	p := New(nil, zerolog.Nop())
	sizes := [][2]int{{400, 300}, {100, 100}, {120, 80}}
	for _, size := range sizes {
		res := run(t, p, Request{
			Asset:      pngAsset(t, size[0], size[1]),
			Operations: []Operation{Resize{Width: 108, Height: 108}},
			Format:     imgutil.KindJPEG,
		})
		if !res.OK {
			t.Fatalf("resize %v: %v", size, res.Err)
		}
		if res.Width != 108 || res.Height != 108 || res.Format != imgutil.KindJPEG {
			t.Fatalf("resize %v: got %dx%d %s", size, res.Width, res.Height, res.Format)
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(res.Data))
		if err != nil || cfg.Width != 108 || cfg.Height != 108 {
			t.Fatalf("encoded output %+v, %v", cfg, err)
		}
	}
}

func TestExecuteCropOutOfBoundsReturnsNoBytes(t *testing.T) {
	p := New(nil, zerolog.Nop())
	res := run(t, p, Request{
		Asset:      pngAsset(t, 200, 200),
		Operations: []Operation{Crop{Area: CropArea{X: -10, Y: 0, Width: 100, Height: 100}}},
	})
	if res.OK || res.Data != nil {
		t.Fatalf("expected failure without bytes, got ok=%v len=%d", res.OK, len(res.Data))
	}
	if !errors.Is(res.Err, ErrCropOutOfBounds) {
		t.Fatalf("err = %v, want ErrCropOutOfBounds", res.Err)
	}
}

func TestExecuteHaltsAtFirstFailingStage(t *testing.T) {
	p := New(nil, zerolog.Nop())
	res := run(t, p, Request{
		Asset: pngAsset(t, 20, 20),
		Operations: []Operation{
			Rotate{Angle: 90},
			Resize{Width: -1},
			sepia{},
		},
	})
	var stageErr *StageError
	if !errors.As(res.Err, &stageErr) {
		t.Fatalf("expected StageError, got %v", res.Err)
	}
	if stageErr.Index != 1 || stageErr.Op != "resize" || !errors.Is(res.Err, ErrInvalidDimension) {
		t.Fatalf("unexpected stage error %+v", stageErr)
	}
}

func TestExecuteUnknownOperation(t *testing.T) {
	p := New(nil, zerolog.Nop())
	res := run(t, p, Request{Asset: pngAsset(t, 8, 8), Operations: []Operation{sepia{}}})
	if !errors.Is(res.Err, ErrUnknownOperation) {
		t.Fatalf("err = %v, want ErrUnknownOperation", res.Err)
	}
}

func TestExecuteDecodeError(t *testing.T) {
	p := New(nil, zerolog.Nop())
	res := run(t, p, Request{Asset: NewAsset("junk.png", "image/png", []byte("definitely not an image"))})
	if !errors.Is(res.Err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", res.Err)
	}

	truncated := pngAsset(t, 8, 8)
	truncated.Data = truncated.Data[:40]
	res = run(t, p, Request{Asset: truncated})
	if !errors.Is(res.Err, ErrDecode) {
		t.Fatalf("truncated err = %v, want ErrDecode", res.Err)
	}
}

func TestExecuteRotateIdentityKeepsPixels(t *testing.T) {
	p := New(nil, zerolog.Nop())
	src := gradient(9, 4)
	res := run(t, p, Request{
		Asset:      NewAsset("g.png", "", encodePNG(t, src)),
		Operations: []Operation{Rotate{}},
		Format:     imgutil.KindPNG,
	})
	if !res.OK {
		t.Fatalf("rotate: %v", res.Err)
	}
	out, _, err := Decode(res.Data)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if !samePixels(src, out) {
		t.Fatalf("rotate 0 changed pixels")
	}
}

func TestExecuteConvertFlattensTransparency(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 16, 16))
	asset := NewAsset("clear.png", "image/png", encodePNG(t, src))
	p := New(nil, zerolog.Nop())

	res := run(t, p, Request{
		Asset:      asset,
		Operations: []Operation{Convert{Format: imgutil.KindJPEG, Background: color.RGBA{R: 0xff, A: 0xff}}},
	})
	if !res.OK || res.Format != imgutil.KindJPEG {
		t.Fatalf("convert: %+v", res)
	}
	out, _, err := Decode(res.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	px := out.RGBAAt(8, 8)
	if px.R < 0xf0 || px.G > 0x10 || px.B > 0x10 {
		t.Fatalf("expected red background, got %v", px)
	}

	res = run(t, p, Request{
		Asset:      asset,
		Operations: []Operation{Convert{Format: imgutil.KindPNG}},
	})
	out, _, err = Decode(res.Data)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if out.RGBAAt(8, 8).A != 0 {
		t.Fatalf("png conversion lost transparency")
	}
}

func TestExecuteFlattensTransparencyForOpaqueTargets(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 32, 32))
	asset := NewAsset("clear.png", "image/png", encodePNG(t, src))
	p := New(nil, zerolog.Nop())

	cases := map[string]Request{
		"request format": {Asset: asset, Format: imgutil.KindJPEG},
		"compress":       {Asset: asset, Operations: []Operation{Compress{Quality: 80, Format: imgutil.KindJPEG}}},
		"compress then resize": {Asset: asset, Operations: []Operation{
			Compress{Quality: 80, Format: imgutil.KindJPEG},
			Resize{Width: 16},
		}},
	}
	for name, req := range cases {
		res := run(t, p, req)
		if !res.OK || res.Format != imgutil.KindJPEG {
			t.Fatalf("%s: %+v", name, res)
		}
		out, _, err := Decode(res.Data)
		if err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		b := out.Bounds()
		px := out.RGBAAt(b.Dx()/2, b.Dy()/2)
		if px.R < 0xf0 || px.G < 0xf0 || px.B < 0xf0 {
			t.Fatalf("%s: expected white background, got %v", name, px)
		}
	}
}

func TestExecuteConvertRejectsWebPOutput(t *testing.T) {
	p := New(nil, zerolog.Nop())
	res := run(t, p, Request{Asset: pngAsset(t, 4, 4), Operations: []Operation{Convert{Format: imgutil.KindWebP}}})
	if !errors.Is(res.Err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", res.Err)
	}
}

func TestCompressQuality(t *testing.T) {
	p := New(nil, zerolog.Nop())
	asset := pngAsset(t, 64, 64)

	lossless := func(q int) []byte {
		res := run(t, p, Request{Asset: asset, Operations: []Operation{Compress{Quality: q}}})
		if !res.OK {
			t.Fatalf("compress png q=%d: %v", q, res.Err)
		}
		return res.Data
	}
	if !bytes.Equal(lossless(5), lossless(95)) {
		t.Fatalf("quality changed lossless output")
	}

	lossy := func(q int) []byte {
		res := run(t, p, Request{Asset: asset, Operations: []Operation{Compress{Quality: q, Format: imgutil.KindJPEG}}})
		if !res.OK || res.Format != imgutil.KindJPEG {
			t.Fatalf("compress jpeg q=%d: %+v", q, res)
		}
		return res.Data
	}
	if len(lossy(10)) >= len(lossy(95)) {
		t.Fatalf("lower quality did not shrink jpeg output")
	}

	res := run(t, p, Request{Asset: asset, Operations: []Operation{Compress{Quality: 101}}})
	if !errors.Is(res.Err, ErrInvalidQuality) {
		t.Fatalf("err = %v, want ErrInvalidQuality", res.Err)
	}
}

func TestCompressMidPipelineFeedsLaterStages(t *testing.T) {
	p := New(nil, zerolog.Nop())
	res := run(t, p, Request{
		Asset: pngAsset(t, 40, 20),
		Operations: []Operation{
			Compress{Quality: 50, Format: imgutil.KindJPEG},
			Resize{Width: 20},
		},
	})
	if !res.OK || res.Width != 20 || res.Height != 10 || res.Format != imgutil.KindJPEG {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAutoCropUsesFramer(t *testing.T) {
	framer := &fixedFramer{area: CropArea{X: 2, Y: 0, Width: 10, Height: 10}}
	p := New(framer, zerolog.Nop())
	asset := pngAsset(t, 20, 10)

	res := run(t, p, Request{Asset: asset, Operations: []Operation{Crop{Auto: true, Aspect: 1}}})
	if !res.OK || res.Width != 10 || res.Height != 10 {
		t.Fatalf("auto crop: %+v", res)
	}
	if framer.aspect != 1 || framer.key != asset.ID+"@20x10" {
		t.Fatalf("framer called with aspect=%v key=%q", framer.aspect, framer.key)
	}

	res = run(t, New(nil, zerolog.Nop()), Request{Asset: asset, Operations: []Operation{Crop{Auto: true}}})
	if !errors.Is(res.Err, ErrNoFramer) {
		t.Fatalf("err = %v, want ErrNoFramer", res.Err)
	}
}

func TestExecuteHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := New(nil, zerolog.Nop()).Execute(ctx, Request{Asset: pngAsset(t, 4, 4)}, nil)
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", res.Err)
	}
}

func TestAssetReleaseDropsRaster(t *testing.T) {
	asset := pngAsset(t, 4, 4)
	asset.Retain()
	asset.Retain()
	if _, _, err := asset.Raster(); err != nil {
		t.Fatalf("raster: %v", err)
	}
	asset.Release()
	if !asset.Decoded() {
		t.Fatalf("raster dropped while still retained")
	}
	asset.Release()
	if asset.Decoded() {
		t.Fatalf("raster kept after final release")
	}
	if asset.BaseName() != "sample" {
		t.Fatalf("BaseName = %q", asset.BaseName())
	}
}
