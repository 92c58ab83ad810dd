package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"imgforge/pkg/imgutil"
)

// DefaultQuality is used for lossy output when a request leaves quality unset.
const DefaultQuality = 92

// Encodable reports whether the pipeline can write kind.
func Encodable(kind imgutil.Kind) bool {
	switch kind {
	case imgutil.KindJPEG, imgutil.KindPNG, imgutil.KindGIF, imgutil.KindBMP, imgutil.KindTIFF:
		return true
	default:
		return false
	}
}

func checkQuality(q int) error {
	if q < 0 || q > 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidQuality, q)
	}
	return nil
}

// Encode writes img as kind. quality only affects lossy formats; compact asks
// lossless encoders for their smallest output.
func Encode(img image.Image, kind imgutil.Kind, quality int, compact bool) ([]byte, error) {
	if err := checkQuality(quality); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	var err error
	switch kind {
	case imgutil.KindJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: max(quality, 1)})
	case imgutil.KindPNG:
		enc := png.Encoder{CompressionLevel: png.DefaultCompression}
		if compact {
			enc.CompressionLevel = png.BestCompression
		}
		err = enc.Encode(&buf, img)
	case imgutil.KindGIF:
		err = gif.Encode(&buf, img, &gif.Options{NumColors: 256})
	case imgutil.KindBMP:
		err = bmp.Encode(&buf, img)
	case imgutil.KindTIFF:
		opts := &tiff.Options{Compression: tiff.Uncompressed}
		if compact {
			opts = &tiff.Options{Compression: tiff.Deflate, Predictor: true}
		}
		err = tiff.Encode(&buf, img, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return buf.Bytes(), nil
}
