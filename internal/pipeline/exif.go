package pipeline

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
)

// readOrientation returns the EXIF orientation tag (1-8) of an encoded image.
// Images without EXIF data report 1.
func readOrientation(data []byte) (int, error) {
	tags, _, err := exif.GetFlatExifDataUniversalSearchWithReadSeeker(bytes.NewReader(data), nil, true)
	if err != nil {
		if isNoExif(err) {
			return 1, nil
		}
		return 1, err
	}

	for _, tag := range tags {
		if tag.TagName != "Orientation" || strings.Contains(tag.IfdPath, "Thumbnail") {
			continue
		}
		value := 0
		switch v := tag.Value.(type) {
		case []uint16:
			if len(v) > 0 {
				value = int(v[0])
			}
		default:
			value, _ = strconv.Atoi(strings.TrimSpace(tag.FormattedFirst))
		}
		if value >= 1 && value <= 8 {
			return value, nil
		}
	}
	return 1, nil
}

// orientationTransform maps an EXIF orientation onto the rotation that makes
// the raster upright.
func orientationTransform(orientation int) (Rotate, bool) {
	switch orientation {
	case 2:
		return Rotate{FlipHorizontal: true}, true
	case 3:
		return Rotate{Angle: 180}, true
	case 4:
		return Rotate{FlipVertical: true}, true
	case 5:
		return Rotate{Angle: 90, FlipVertical: true}, true
	case 6:
		return Rotate{Angle: 90}, true
	case 7:
		return Rotate{Angle: 90, FlipHorizontal: true}, true
	case 8:
		return Rotate{Angle: 270}, true
	default:
		return Rotate{}, false
	}
}

func isNoExif(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, exif.ErrNoExif) || strings.Contains(strings.ToLower(err.Error()), "no exif")
}
