package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"imgforge/internal/pipeline"
)

// parseResize accepts "WxH", "W", "Wx", "xH" or "P%".
func parseResize(s string) (pipeline.Resize, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return pipeline.Resize{}, fmt.Errorf("empty resize")
	}
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		v, err := strconv.ParseFloat(pct, 64)
		if err != nil || v <= 0 {
			return pipeline.Resize{}, fmt.Errorf("invalid resize percentage %q", s)
		}
		return pipeline.Resize{Percent: v}, nil
	}

	w, h, _ := strings.Cut(s, "x")
	var op pipeline.Resize
	var err error
	if w != "" {
		if op.Width, err = strconv.Atoi(w); err != nil {
			return pipeline.Resize{}, fmt.Errorf("invalid resize width in %q", s)
		}
	}
	if h != "" {
		if op.Height, err = strconv.Atoi(h); err != nil {
			return pipeline.Resize{}, fmt.Errorf("invalid resize height in %q", s)
		}
	}
	if op.Width == 0 && op.Height == 0 {
		return pipeline.Resize{}, fmt.Errorf("invalid resize %q", s)
	}
	return op, nil
}

// parseCrop accepts "x,y,w,h".
func parseCrop(s string) (pipeline.CropArea, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return pipeline.CropArea{}, fmt.Errorf("crop must be x,y,w,h, got %q", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return pipeline.CropArea{}, fmt.Errorf("crop must be x,y,w,h, got %q", s)
		}
		v[i] = n
	}
	return pipeline.CropArea{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}
