package batch

import (
	"encoding/hex"
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"imgforge/internal/pipeline"
	"imgforge/pkg/imgutil"
)

var ErrUnknownPreset = errors.New("unknown preset")

// DefaultPresets is the built-in catalogue. Social presets frame the subject
// with an auto crop before scaling to the platform's size.
func DefaultPresets() []Preset {
	social := func(id, name, suffix string, aspect float64, w, h int) Preset {
		return Preset{
			ID:       id,
			Name:     name,
			Category: "social",
			Suffix:   suffix,
			Operations: []pipeline.Operation{
				pipeline.Crop{Auto: true, Aspect: aspect},
				pipeline.Resize{Width: w, Height: h},
			},
			Format:  imgutil.KindJPEG,
			Quality: 85,
		}
	}
	return []Preset{
		social("square", "Square post 1080x1080", "square", 1, 1080, 1080),
		social("portrait", "Portrait post 1080x1350", "portrait", 4.0/5.0, 1080, 1350),
		social("story", "Story 1080x1920", "story", 9.0/16.0, 1080, 1920),
		social("landscape", "Link preview 1200x628", "landscape", 1200.0/628.0, 1200, 628),
		{
			ID:       "thumbnail",
			Name:     "Thumbnail 256x256",
			Category: "web",
			Suffix:   "thumb",
			Operations: []pipeline.Operation{
				pipeline.Crop{Auto: true, Aspect: 1},
				pipeline.Resize{Width: 256, Height: 256},
				pipeline.Compress{Quality: 80, Format: imgutil.KindJPEG},
			},
			Format:  imgutil.KindJPEG,
			Quality: 80,
		},
		{
			ID:       "web",
			Name:     "Web optimised, 1600 wide",
			Category: "web",
			Suffix:   "web",
			Operations: []pipeline.Operation{
				pipeline.Resize{Width: 1600},
				pipeline.Compress{Quality: 82, Format: imgutil.KindJPEG},
			},
			Format:  imgutil.KindJPEG,
			Quality: 82,
		},
	}
}

// Select returns the presets named by ids, in that order.
func Select(presets []Preset, ids []string) ([]Preset, error) {
	byID := make(map[string]Preset, len(presets))
	for _, p := range presets {
		byID[p.ID] = p
	}
	out := make([]Preset, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[strings.TrimSpace(id)]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, id)
		}
		out = append(out, p)
	}
	return out, nil
}

type presetFile struct {
	Presets []presetSpec `yaml:"presets"`
}

type presetSpec struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Category   string   `yaml:"category"`
	Suffix     string   `yaml:"suffix"`
	Format     string   `yaml:"format"`
	Quality    int      `yaml:"quality"`
	Operations []opSpec `yaml:"operations"`
}

type opSpec struct {
	Type string `yaml:"type"`

	Width   int     `yaml:"width"`
	Height  int     `yaml:"height"`
	Percent float64 `yaml:"percent"`

	X              int    `yaml:"x"`
	Y              int    `yaml:"y"`
	Auto           bool   `yaml:"auto"`
	Aspect         string `yaml:"aspect"`
	MaintainAspect bool   `yaml:"maintain_aspect"`

	Angle float64 `yaml:"angle"`
	FlipH bool    `yaml:"flip_horizontal"`
	FlipV bool    `yaml:"flip_vertical"`

	Quality              int    `yaml:"quality"`
	Format               string `yaml:"format"`
	PreserveTransparency bool   `yaml:"preserve_transparency"`
	Background           string `yaml:"background"`
}

// LoadPresetFile reads presets from a YAML file.
func LoadPresetFile(path string) ([]Preset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	presets, err := LoadPresets(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return presets, nil
}

// LoadPresets parses a YAML document of the form
//
//	presets:
//	  - id: banner
//	    category: web
//	    format: jpeg
//	    operations:
//	      - {type: crop, auto: true, aspect: "3:1"}
//	      - {type: resize, width: 1500}
func LoadPresets(r io.Reader) ([]Preset, error) {
	var doc presetFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode presets: %w", err)
	}

	seen := make(map[string]bool, len(doc.Presets))
	presets := make([]Preset, 0, len(doc.Presets))
	for i, spec := range doc.Presets {
		if spec.ID == "" {
			return nil, fmt.Errorf("preset %d: missing id", i)
		}
		if seen[spec.ID] {
			return nil, fmt.Errorf("preset %q: duplicate id", spec.ID)
		}
		seen[spec.ID] = true

		p, err := spec.build()
		if err != nil {
			return nil, fmt.Errorf("preset %q: %w", spec.ID, err)
		}
		presets = append(presets, p)
	}
	return presets, nil
}

func (s presetSpec) build() (Preset, error) {
	p := Preset{
		ID:       s.ID,
		Name:     s.Name,
		Category: s.Category,
		Suffix:   s.Suffix,
		Quality:  s.Quality,
	}
	if p.Name == "" {
		p.Name = s.ID
	}
	if p.Category == "" {
		p.Category = s.ID
	}
	format, err := ParseFormat(s.Format)
	if err != nil {
		return p, err
	}
	p.Format = format
	for i, o := range s.Operations {
		op, err := o.build()
		if err != nil {
			return p, fmt.Errorf("operation %d: %w", i, err)
		}
		p.Operations = append(p.Operations, op)
	}
	return p, nil
}

func (o opSpec) build() (pipeline.Operation, error) {
	switch strings.ToLower(o.Type) {
	case "resize":
		return pipeline.Resize{Width: o.Width, Height: o.Height, Percent: o.Percent}, nil
	case "crop":
		aspect, err := ParseAspect(o.Aspect)
		if err != nil {
			return nil, err
		}
		return pipeline.Crop{
			Area:                pipeline.CropArea{X: o.X, Y: o.Y, Width: o.Width, Height: o.Height},
			MaintainAspectRatio: o.MaintainAspect,
			Auto:                o.Auto,
			Aspect:              aspect,
		}, nil
	case "rotate":
		bg, err := parseColor(o.Background)
		if err != nil {
			return nil, err
		}
		return pipeline.Rotate{Angle: o.Angle, FlipHorizontal: o.FlipH, FlipVertical: o.FlipV, Background: bg}, nil
	case "compress":
		kind, err := ParseFormat(o.Format)
		if err != nil {
			return nil, err
		}
		return pipeline.Compress{Quality: o.Quality, Format: kind}, nil
	case "convert":
		kind, err := ParseFormat(o.Format)
		if err != nil {
			return nil, err
		}
		bg, err := parseColor(o.Background)
		if err != nil {
			return nil, err
		}
		return pipeline.Convert{
			Format:               kind,
			Quality:              o.Quality,
			PreserveTransparency: o.PreserveTransparency,
			Background:           bg,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", pipeline.ErrUnknownOperation, o.Type)
	}
}

// ParseAspect accepts "W:H" or a decimal ratio. Empty input yields 0.
func ParseAspect(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if w, h, ok := strings.Cut(s, ":"); ok {
		wf, err1 := strconv.ParseFloat(w, 64)
		hf, err2 := strconv.ParseFloat(h, 64)
		if err1 != nil || err2 != nil || wf <= 0 || hf <= 0 {
			return 0, fmt.Errorf("invalid aspect ratio %q", s)
		}
		return wf / hf, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid aspect ratio %q", s)
	}
	return v, nil
}

// ParseFormat maps a format name such as "jpg" or "PNG" to its Kind. Empty
// input yields KindUnknown, meaning "keep the source format".
func ParseFormat(s string) (imgutil.Kind, error) {
	if s == "" {
		return imgutil.KindUnknown, nil
	}
	kind := imgutil.ParseKind(s)
	if kind == imgutil.KindUnknown {
		return kind, fmt.Errorf("%w: %q", pipeline.ErrUnsupportedFormat, s)
	}
	return kind, nil
}

// parseColor reads "#rrggbb" or "#rrggbbaa". Empty input yields nil.
func parseColor(s string) (color.Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if s == "" {
		return nil, nil
	}
	if len(s) != 6 && len(s) != 8 {
		return nil, fmt.Errorf("invalid colour %q", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid colour %q", s)
	}
	c := color.NRGBA{R: b[0], G: b[1], B: b[2], A: 0xff}
	if len(b) == 4 {
		c.A = b[3]
	}
	return c, nil
}
