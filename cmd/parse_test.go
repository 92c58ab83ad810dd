package cmd

import (
	"testing"

	"imgforge/internal/pipeline"
)

func TestParseResize(t *testing.T) {
	cases := map[string]pipeline.Resize{
		"1080x1080": {Width: 1080, Height: 1080},
		"800":       {Width: 800},
		"800x":      {Width: 800},
		"x600":      {Height: 600},
		"50%":       {Percent: 50},
		" 12.5% ":   {Percent: 12.5},
	}
	for in, want := range cases {
		got, err := parseResize(in)
		if err != nil {
			t.Fatalf("parseResize(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseResize(%q) = %+v, want %+v", in, got, want)
		}
	}
	for _, in := range []string{"", "x", "abc", "10xy", "-5%", "0%"} {
		if _, err := parseResize(in); err == nil {
			t.Fatalf("parseResize(%q) should fail", in)
		}
	}
}

func TestParseCrop(t *testing.T) {
	got, err := parseCrop("-10, 0, 100, 100")
	if err != nil {
		t.Fatalf("parseCrop: %v", err)
	}
	want := pipeline.CropArea{X: -10, Y: 0, Width: 100, Height: 100}
	if got != want {
		t.Fatalf("parseCrop = %+v, want %+v", got, want)
	}
	for _, in := range []string{"1,2,3", "a,b,c,d", ""} {
		if _, err := parseCrop(in); err == nil {
			t.Fatalf("parseCrop(%q) should fail", in)
		}
	}
}
