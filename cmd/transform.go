package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"imgforge/internal/batch"
	"imgforge/internal/download"
	"imgforge/internal/offload"
	"imgforge/internal/pipeline"
	"imgforge/internal/smartcrop"
	"imgforge/internal/tui"
)

var (
	transformResize    string
	transformCrop      string
	transformSmartCrop string
	transformRotate    float64
	transformFlipH     bool
	transformFlipV     bool
	transformFormat    string
	transformQuality   int
	transformKeepICC   bool
	transformOutputDir string
)

var transformCmd = &cobra.Command{
	Use:   "transform [flags] <file>",
	Short: "Apply crop, resize, rotate and format changes to one image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := transformRequest(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pool := offload.New(pipeline.New(smartcrop.New(nil, logger), logger), offload.Options{
			Size:    1,
			Timeout: cfg.JobTimeout,
			Logger:  logger,
		})
		defer pool.Close()

		h, err := pool.Submit(ctx, offload.Task{Request: req})
		if err != nil {
			return err
		}
		res, err := h.Wait(ctx)
		if err != nil {
			return err
		}
		if !res.OK {
			return res.Err
		}

		name := req.Asset.BaseName() + "." + res.Format.Extension()
		mgr := download.NewManager(download.DirDeliverer{Dir: transformOutputDir}, download.Options{Logger: logger})
		if err := mgr.Single(ctx, name, res.Format.MIME(), res.Data); err != nil {
			return err
		}

		outPath := filepath.Join(transformOutputDir, name)
		if abs, absErr := filepath.Abs(outPath); absErr == nil {
			outPath = abs
		}
		fmt.Fprintln(os.Stdout, tui.RenderSummary([]tui.SummaryRow{
			{Label: "Stages", Value: fmt.Sprintf("%d", len(req.Operations))},
			{Label: "Dimensions", Value: fmt.Sprintf("%dx%d", res.Width, res.Height)},
			{Label: "Format", Value: res.Format.String()},
			{Label: "Size (bytes)", Value: fmt.Sprintf("%d -> %d", len(req.Asset.Data), len(res.Data))},
		}))
		fmt.Fprintf(os.Stdout, "Written to: %s\n", outPath)
		return nil
	},
}

// transformRequest builds the request from flags. Stages run crop, smart
// crop, resize, then rotate.
func transformRequest(path string) (pipeline.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Request{}, err
	}
	req := pipeline.Request{
		Asset:   pipeline.NewAsset(filepath.Base(path), "", data),
		Quality: transformQuality,
		KeepICC: transformKeepICC,
	}
	if req.Format, err = batch.ParseFormat(transformFormat); err != nil {
		return req, err
	}

	if transformCrop != "" {
		area, err := parseCrop(transformCrop)
		if err != nil {
			return req, err
		}
		req.Operations = append(req.Operations, pipeline.Crop{Area: area})
	}
	if transformSmartCrop != "" {
		aspect, err := batch.ParseAspect(transformSmartCrop)
		if err != nil {
			return req, err
		}
		req.Operations = append(req.Operations, pipeline.Crop{Auto: true, Aspect: aspect})
	}
	if transformResize != "" {
		op, err := parseResize(transformResize)
		if err != nil {
			return req, err
		}
		req.Operations = append(req.Operations, op)
	}
	if transformRotate != 0 || transformFlipH || transformFlipV {
		req.Operations = append(req.Operations, pipeline.Rotate{
			Angle:          transformRotate,
			FlipHorizontal: transformFlipH,
			FlipVertical:   transformFlipV,
		})
	}
	return req, nil
}

func init() {
	f := transformCmd.Flags()
	f.StringVar(&transformResize, "resize", "", "resize to WxH, W, xH or P%")
	f.StringVar(&transformCrop, "crop", "", "crop to x,y,w,h")
	f.StringVar(&transformSmartCrop, "smart-crop", "", "crop around the subject at this aspect ratio (e.g. 1:1, 4:5)")
	f.Float64Var(&transformRotate, "rotate", 0, "rotate clockwise by degrees")
	f.BoolVar(&transformFlipH, "flip-h", false, "mirror horizontally")
	f.BoolVar(&transformFlipV, "flip-v", false, "mirror vertically")
	f.StringVar(&transformFormat, "format", "", "output format: jpeg, png, gif, bmp or tiff (default: source format)")
	f.IntVar(&transformQuality, "quality", 0, "JPEG quality 1-100 (default 92)")
	f.BoolVar(&transformKeepICC, "keep-icc", false, "keep ICC profiles when the image is passed through unchanged")
	f.StringVarP(&transformOutputDir, "output", "o", "imgforge-out", "destination folder")

	rootCmd.AddCommand(transformCmd)
}
