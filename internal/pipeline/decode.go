package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"

	"imgforge/pkg/imgutil"
)

// DecodeInfo describes the source of a decoded raster.
type DecodeInfo struct {
	Kind        imgutil.Kind
	Orientation int
	// Reoriented is set when an EXIF orientation changed the pixel layout.
	Reoriented bool
}

// Decode turns an encoded buffer into an upright RGBA raster. The format is
// taken from the magic bytes, not from any declared MIME type.
func Decode(data []byte) (*image.RGBA, DecodeInfo, error) {
	info := DecodeInfo{Kind: imgutil.Sniff(data), Orientation: 1}
	if info.Kind == imgutil.KindUnknown {
		return nil, info, fmt.Errorf("%w: unrecognised image signature", ErrDecode)
	}

	r := bytes.NewReader(data)
	var (
		img image.Image
		err error
	)
	switch info.Kind {
	case imgutil.KindJPEG:
		img, err = jpeg.Decode(r)
	case imgutil.KindPNG:
		img, err = png.Decode(r)
	case imgutil.KindGIF:
		img, err = gif.Decode(r)
	case imgutil.KindWebP:
		img, err = webp.Decode(r)
	case imgutil.KindBMP:
		img, err = bmp.Decode(r)
	case imgutil.KindTIFF:
		img, err = tiff.Decode(r)
	}
	if err != nil {
		return nil, info, fmt.Errorf("%w: %s: %v", ErrDecode, info.Kind, err)
	}

	raster := toRGBA(img)
	if info.Kind == imgutil.KindJPEG || info.Kind == imgutil.KindTIFF {
		if orientation, err := readOrientation(data); err == nil {
			info.Orientation = orientation
			if op, needed := orientationTransform(orientation); needed {
				raster = RotateImage(raster, op)
				info.Reoriented = true
			}
		}
	}
	return raster, info, nil
}

// toRGBA copies img into a zero-origin RGBA raster.
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, src.Bounds().Dx(), src.Bounds().Dy()))
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst
}
