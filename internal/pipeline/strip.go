package pipeline

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"imgforge/pkg/imgutil"
)

var (
	jpegExifHeader = []byte("Exif\x00\x00")
	jpegXmpHeader  = []byte("http://ns.adobe.com/xap/1.0/\x00")
	jpegPhotoshop  = []byte("Photoshop 3.0\x00")
	jpegICCHeader  = []byte("ICC_PROFILE\x00")
)

// segment is one JPEG marker segment or PNG chunk. raw covers the whole
// encoded unit so kept segments are copied byte for byte.
type segment struct {
	name    string
	payload []byte
	raw     []byte
	// last is set on the unit after which no metadata can follow.
	last bool
}

type splitFunc func(data []byte) (seg segment, rest []byte, err error)

// container describes how to walk one file format.
type container struct {
	header int
	split  splitFunc
	// needsEnd rejects input that runs out before a last segment.
	needsEnd bool
}

var containers = map[imgutil.Kind]container{
	imgutil.KindJPEG: {header: 2, split: splitJPEG, needsEnd: true},
	imgutil.KindPNG:  {header: 8, split: splitPNG},
}

// metadataFilter decides which segments survive a strip.
type metadataFilter struct {
	keepICC bool
}

func (f metadataFilter) keep(seg segment) bool {
	switch seg.name {
	case "APP1":
		return !bytes.HasPrefix(seg.payload, jpegExifHeader) && !bytes.HasPrefix(seg.payload, jpegXmpHeader)
	case "APP13":
		return !bytes.HasPrefix(seg.payload, jpegPhotoshop)
	case "APP2":
		return f.keepICC || !bytes.HasPrefix(seg.payload, jpegICCHeader)
	case "tEXt", "zTXt", "iTXt", "eXIf", "tIME":
		return false
	case "iCCP":
		return f.keepICC
	}
	return true
}

// StripMetadata returns data without EXIF, XMP, IPTC or textual metadata.
// Pixel data is copied untouched. Only JPEG and PNG are supported.
func StripMetadata(data []byte, keepICC bool) ([]byte, error) {
	kind := imgutil.Sniff(data)
	c, ok := containers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: cannot strip %s", ErrUnsupportedFormat, kind)
	}
	out, err := metadataFilter{keepICC: keepICC}.apply(data, c)
	if err != nil {
		return nil, fmt.Errorf("%w: strip metadata: %v", ErrDecode, err)
	}
	return out, nil
}

func (f metadataFilter) apply(data []byte, c container) ([]byte, error) {
	out := make([]byte, 0, len(data))
	out = append(out, data[:c.header]...)
	rest := data[c.header:]
	for len(rest) > 0 {
		seg, next, err := c.split(rest)
		if err != nil {
			return nil, err
		}
		if f.keep(seg) {
			out = append(out, seg.raw...)
		}
		if seg.last {
			return out, nil
		}
		rest = next
	}
	if c.needsEnd {
		return nil, io.ErrUnexpectedEOF
	}
	return out, nil
}

// splitJPEG reads the marker at the front of data. Fill bytes are dropped
// and scan data after SOS is carried along unparsed.
func splitJPEG(data []byte) (segment, []byte, error) {
	i := bytes.IndexByte(data, 0xff)
	if i < 0 {
		return segment{}, nil, io.ErrUnexpectedEOF
	}
	for i < len(data) && data[i] == 0xff {
		i++
	}
	if i == len(data) {
		return segment{}, nil, io.ErrUnexpectedEOF
	}
	marker := data[i]
	start, i := i-1, i+1

	switch {
	case marker == 0xd9: // EOI
		return segment{name: "EOI", raw: data[start:i], last: true}, nil, nil
	case marker == 0xda: // SOS
		return segment{name: "SOS", raw: data[start:], last: true}, nil, nil
	case marker == 0x01 || (marker >= 0xd0 && marker <= 0xd7):
		return segment{raw: data[start:i]}, data[i:], nil
	}

	if len(data) < i+2 {
		return segment{}, nil, io.ErrUnexpectedEOF
	}
	end := i + int(binary.BigEndian.Uint16(data[i:]))
	if end < i+2 {
		return segment{}, nil, errors.New("invalid JPEG segment length")
	}
	if end > len(data) {
		return segment{}, nil, io.ErrUnexpectedEOF
	}
	seg := segment{payload: data[i+2 : end], raw: data[start:end]}
	if marker >= 0xe0 && marker <= 0xef {
		seg.name = fmt.Sprintf("APP%d", marker-0xe0)
	}
	return seg, data[end:], nil
}

// splitPNG reads the chunk at the front of data: length, type, payload, CRC.
func splitPNG(data []byte) (segment, []byte, error) {
	if len(data) < 8 {
		return segment{}, nil, io.ErrUnexpectedEOF
	}
	end := 12 + int64(binary.BigEndian.Uint32(data[:4]))
	if end > int64(len(data)) {
		return segment{}, nil, io.ErrUnexpectedEOF
	}
	name := string(data[4:8])
	return segment{
		name:    name,
		payload: data[8 : end-4],
		raw:     data[:end],
		last:    name == "IEND",
	}, data[end:], nil
}
