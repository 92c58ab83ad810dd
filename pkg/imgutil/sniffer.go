package imgutil

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
)

// Kind identifies a supported image type.
type Kind int

const (
	KindUnknown Kind = iota
	KindJPEG
	KindPNG
	KindTIFF
	KindGIF
	KindWebP
	KindBMP
)

func (k Kind) String() string {
	switch k {
	case KindJPEG:
		return "jpeg"
	case KindPNG:
		return "png"
	case KindTIFF:
		return "tiff"
	case KindGIF:
		return "gif"
	case KindWebP:
		return "webp"
	case KindBMP:
		return "bmp"
	default:
		return "unknown"
	}
}

// MIME returns the canonical media type for k.
func (k Kind) MIME() string {
	switch k {
	case KindUnknown:
		return "application/octet-stream"
	default:
		return "image/" + k.String()
	}
}

// Extension returns the file extension (without dot) used for k.
func (k Kind) Extension() string {
	switch k {
	case KindJPEG:
		return "jpg"
	case KindTIFF:
		return "tif"
	case KindUnknown:
		return "bin"
	default:
		return k.String()
	}
}

// SupportsAlpha reports whether encoded k can carry transparency.
func (k Kind) SupportsAlpha() bool {
	switch k {
	case KindPNG, KindGIF, KindTIFF, KindWebP:
		return true
	default:
		return false
	}
}

// Lossy reports whether an encode quality setting has any effect for k.
func (k Kind) Lossy() bool {
	return k == KindJPEG
}

// ParseKind maps a format name, extension or MIME type onto a Kind.
func ParseKind(s string) Kind {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "image/")
	s = strings.TrimPrefix(s, ".")
	switch s {
	case "jpeg", "jpg", "pjpeg":
		return KindJPEG
	case "png", "x-png":
		return KindPNG
	case "tiff", "tif":
		return KindTIFF
	case "gif":
		return KindGIF
	case "webp":
		return KindWebP
	case "bmp", "x-ms-bmp":
		return KindBMP
	default:
		return KindUnknown
	}
}

var (
	pngSig    = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	jpegSig   = []byte{0xff, 0xd8, 0xff}
	tiffSigLE = []byte{0x49, 0x49, 0x2a, 0x00}
	tiffSigBE = []byte{0x4d, 0x4d, 0x00, 0x2a}
	gif87Sig  = []byte("GIF87a")
	gif89Sig  = []byte("GIF89a")
	riffSig   = []byte("RIFF")
	webpSig   = []byte("WEBP")
	bmpSig    = []byte("BM")
)

// HeaderSize is the number of leading bytes DetectHeader needs.
const HeaderSize = 12

// DetectHeader inspects the first HeaderSize bytes of a file for known signatures.
func DetectHeader(header []byte) (Kind, error) {
	if len(header) < HeaderSize {
		return KindUnknown, errors.New("header too short")
	}

	switch {
	case bytes.HasPrefix(header, jpegSig):
		return KindJPEG, nil
	case bytes.HasPrefix(header, pngSig):
		return KindPNG, nil
	case bytes.HasPrefix(header, tiffSigLE), bytes.HasPrefix(header, tiffSigBE):
		return KindTIFF, nil
	case bytes.HasPrefix(header, gif87Sig), bytes.HasPrefix(header, gif89Sig):
		return KindGIF, nil
	case bytes.HasPrefix(header, riffSig) && bytes.Equal(header[8:12], webpSig):
		return KindWebP, nil
	case bytes.HasPrefix(header, bmpSig):
		return KindBMP, nil
	}

	return KindUnknown, nil
}

// Sniff determines the type of an in-memory buffer. Buffers shorter than
// HeaderSize are reported as unknown.
func Sniff(data []byte) Kind {
	if len(data) < HeaderSize {
		return KindUnknown
	}
	kind, _ := DetectHeader(data[:HeaderSize])
	return kind
}

// SniffFile reads the first bytes of a file to determine its type.
func SniffFile(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return KindUnknown, err
	}
	defer f.Close()

	return SniffReader(f)
}

// SniffReader reads the first HeaderSize bytes from r and determines its type.
func SniffReader(r io.Reader) (Kind, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return KindUnknown, nil
		}
		return KindUnknown, err
	}

	return DetectHeader(header)
}
