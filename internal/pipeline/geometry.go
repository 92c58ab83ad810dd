package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// TargetSize computes the output dimensions of a resize on a width x height raster.
func TargetSize(width, height int, op Resize) (int, int, error) {
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("%w: source is %dx%d", ErrInvalidDimension, width, height)
	}
	if op.Width < 0 || op.Height < 0 || op.Percent < 0 {
		return 0, 0, fmt.Errorf("%w: negative resize target", ErrInvalidDimension)
	}

	var nw, nh int
	switch {
	case op.Percent > 0:
		nw = int(math.Round(float64(width) * op.Percent / 100))
		nh = int(math.Round(float64(height) * op.Percent / 100))
	case op.Width > 0 && op.Height > 0:
		nw, nh = op.Width, op.Height
	case op.Width > 0:
		nw = op.Width
		nh = int(math.Round(float64(height) * float64(op.Width) / float64(width)))
	case op.Height > 0:
		nh = op.Height
		nw = int(math.Round(float64(width) * float64(op.Height) / float64(height)))
	default:
		return 0, 0, fmt.Errorf("%w: resize needs a width, height or percentage", ErrInvalidDimension)
	}

	if nw <= 0 || nh <= 0 {
		return 0, 0, fmt.Errorf("%w: resize of %dx%d gives %dx%d", ErrInvalidDimension, width, height, nw, nh)
	}
	return nw, nh, nil
}

// ResizeImage scales src with a Catmull-Rom filter.
func ResizeImage(src *image.RGBA, op Resize) (*image.RGBA, error) {
	b := src.Bounds()
	nw, nh, err := TargetSize(b.Dx(), b.Dy(), op)
	if err != nil {
		return nil, err
	}
	if nw == b.Dx() && nh == b.Dy() {
		return cloneRGBA(src), nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst, nil
}

// CropImage copies area out of src. The output is exactly area.Width x area.Height.
func CropImage(src *image.RGBA, area CropArea) (*image.RGBA, error) {
	b := src.Bounds()
	if area.Empty() {
		return nil, fmt.Errorf("%w: crop area %v", ErrInvalidDimension, area)
	}
	if !area.Within(b.Dx(), b.Dy()) {
		return nil, fmt.Errorf("%w: %v exceeds %dx%d", ErrCropOutOfBounds, area, b.Dx(), b.Dy())
	}

	dst := image.NewRGBA(image.Rect(0, 0, area.Width, area.Height))
	draw.Draw(dst, dst.Bounds(), src, b.Min.Add(image.Pt(area.X, area.Y)), draw.Src)
	return dst, nil
}

// RotatedSize is the bounding box of a width x height raster turned by angle degrees.
func RotatedSize(width, height int, angle float64) (int, int) {
	sin, cos := rotation(angle)
	w, h := float64(width), float64(height)
	nw := int(math.Round(w*math.Abs(cos) + h*math.Abs(sin)))
	nh := int(math.Round(w*math.Abs(sin) + h*math.Abs(cos)))
	return max(nw, 1), max(nh, 1)
}

// RotateImage turns src clockwise by op.Angle degrees inside an enclosing
// bounding box, mirroring first when flips are requested. Right angles are
// remapped pixel for pixel; other angles are resampled bilinearly onto
// op.Background (transparent when nil).
func RotateImage(src *image.RGBA, op Rotate) *image.RGBA {
	angle := normalizeAngle(op.Angle)
	if angle == 0 && !op.FlipHorizontal && !op.FlipVertical {
		return cloneRGBA(src)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	nw, nh := RotatedSize(w, h, angle)
	sin, cos := rotation(angle)

	fx, fy := 1.0, 1.0
	if op.FlipHorizontal {
		fx = -1
	}
	if op.FlipVertical {
		fy = -1
	}

	// Source to destination: translate to the source centre, flip, rotate,
	// translate to the destination centre.
	a, bb := cos*fx, -sin*fy
	c, d := sin*fx, cos*fy
	scx, scy := float64(w)/2, float64(h)/2
	dcx, dcy := float64(nw)/2, float64(nh)/2

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	if math.Mod(angle, 90) == 0 {
		det := a*d - bb*c
		for y := 0; y < nh; y++ {
			ry := float64(y) + 0.5 - dcy
			for x := 0; x < nw; x++ {
				rx := float64(x) + 0.5 - dcx
				sx := int(math.Floor((d*rx-bb*ry)/det + scx))
				sy := int(math.Floor((-c*rx+a*ry)/det + scy))
				if sx < 0 || sy < 0 || sx >= w || sy >= h {
					continue
				}
				si := src.PixOffset(b.Min.X+sx, b.Min.Y+sy)
				di := dst.PixOffset(x, y)
				copy(dst.Pix[di:di+4], src.Pix[si:si+4])
			}
		}
		return dst
	}

	if op.Background != nil {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(op.Background), image.Point{}, draw.Src)
	}
	s2d := f64.Aff3{
		a, bb, dcx - (a*scx + bb*scy),
		c, d, dcy - (c*scx + d*scy),
	}
	draw.BiLinear.Transform(dst, s2d, src, b, draw.Over, nil)
	return dst
}

// Flatten composites src onto an opaque background.
func Flatten(src *image.RGBA, bg color.Color) *image.RGBA {
	if bg == nil {
		bg = color.White
	}
	dst := image.NewRGBA(image.Rect(0, 0, src.Bounds().Dx(), src.Bounds().Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Over)
	return dst
}

func normalizeAngle(angle float64) float64 {
	angle = math.Mod(angle, 360)
	if angle < 0 {
		angle += 360
	}
	return angle
}

// rotation returns sin and cos of angle degrees, exact on right angles.
func rotation(angle float64) (float64, float64) {
	angle = normalizeAngle(angle)
	switch angle {
	case 0:
		return 0, 1
	case 90:
		return 1, 0
	case 180:
		return 0, -1
	case 270:
		return -1, 0
	}
	return math.Sincos(angle * math.Pi / 180)
}
