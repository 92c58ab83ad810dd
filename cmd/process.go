package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"imgforge/internal/archive"
	"imgforge/internal/batch"
	"imgforge/internal/download"
	"imgforge/internal/offload"
	"imgforge/internal/pipeline"
	"imgforge/internal/smartcrop"
	"imgforge/internal/source"
	"imgforge/internal/telemetry"
	"imgforge/internal/tui"
)

var (
	processPresets    []string
	processArchive    bool
	processIndividual bool
	processOutputDir  string
	processPool       int
	processTimeout    time.Duration
	processMaxMB      int
	processStagger    time.Duration
)

var processCmd = &cobra.Command{
	Use:   "process [flags] <path>",
	Short: "Run every image under path through one or more presets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if processArchive && processIndividual {
			return fmt.Errorf("--archive cannot be used with --individual")
		}
		flags := cmd.Flags()
		poolSize := cfg.PoolSize
		if flags.Changed("pool") {
			poolSize = processPool
		}
		timeout := cfg.JobTimeout
		if flags.Changed("timeout") {
			timeout = processTimeout
		}
		maxBytes := cfg.MaxArchiveBytes
		if flags.Changed("max-archive-mb") {
			maxBytes = int64(processMaxMB) << 20
		}
		stagger := cfg.Stagger
		if flags.Changed("stagger") {
			stagger = processStagger
		}
		if poolSize <= 0 || timeout <= 0 {
			return fmt.Errorf("--pool and --timeout must be positive")
		}
		if stagger == 0 {
			stagger = -1
		}

		all, err := loadPresets()
		if err != nil {
			return err
		}
		presets, err := batch.Select(all, processPresets)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		files, err := source.Collect(ctx, args[0], processOutputDir)
		if err != nil {
			return err
		}
		assets, err := source.Load(ctx, files, poolSize)
		if err != nil {
			return err
		}

		cropper := smartcrop.New(nil, logger)
		pool := offload.New(pipeline.New(cropper, logger), offload.Options{
			Size:    poolSize,
			Timeout: timeout,
			Logger:  logger,
		})
		defer pool.Close()

		jobs := batch.Plan(assets, presets)
		orchestrator := batch.New(pool, batch.Options{
			PoolSize: poolSize,
			Timeout:  timeout,
			Observer: telemetry.Log{Logger: logger},
			Logger:   logger,
		})

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		updates := make(chan batch.Progress, 64)
		program := tea.NewProgram(tui.NewModel(updates, cancel))

		uiDone := showProgress(program, updates)

		report, runErr := orchestrator.Run(runCtx, jobs, updates)
		close(updates)
		<-uiDone
		stop()

		mode := download.ModeArchive
		if processIndividual || (!processArchive && len(report.Succeeded) == 1) {
			mode = download.ModeIndividual
		}
		mgr := download.NewManager(download.DirDeliverer{Dir: processOutputDir}, download.Options{
			Stagger: stagger,
			Builder: archive.NewBuilder(archive.Options{MaxSize: maxBytes, Logger: logger}),
			Logger:  logger,
		})
		delivered, deliverErr := mgr.Many(context.Background(), download.ItemsFromJobs(report.Succeeded), mode)

		rows := append(tui.ReportRows(report), tui.SummaryRow{Label: "Delivered", Value: fmt.Sprintf("%d file(s) as %s", len(delivered), mode)})
		fmt.Fprintln(os.Stdout, tui.RenderSummary(rows))
		if failures := tui.RenderFailures(report.Failed); failures != "" {
			fmt.Fprintln(os.Stdout, failures)
		}
		if len(delivered) > 0 {
			outPath := processOutputDir
			if abs, absErr := filepath.Abs(processOutputDir); absErr == nil {
				outPath = abs
			}
			fmt.Fprintf(os.Stdout, "Output written to: %s\n", outPath)
		}

		if errors.Is(runErr, context.Canceled) {
			runErr = fmt.Errorf("batch cancelled: %d job(s) not started", len(report.Cancelled))
		}
		return errors.Join(runErr, deliverErr)
	},
}

// viewRunner is the part of *tea.Program used to show progress.
type viewRunner interface {
	Run() (tea.Model, error)
}

// showProgress runs view and then drains updates, so a view that exits
// early never blocks the batch. The returned channel closes once updates is
// closed and drained.
func showProgress(view viewRunner, updates <-chan batch.Progress) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := view.Run(); err != nil {
			logger.Warn().Err(err).Msg("progress view stopped")
		}
		for range updates {
		}
	}()
	return done
}

func init() {
	f := processCmd.Flags()
	f.StringSliceVarP(&processPresets, "preset", "p", []string{"square"}, "preset ids to apply (see 'imgforge presets')")
	f.BoolVar(&processArchive, "archive", false, "deliver all outputs as one zip archive")
	f.BoolVar(&processIndividual, "individual", false, "deliver outputs as individual files")
	f.StringVarP(&processOutputDir, "output", "o", "imgforge-out", "destination folder")
	f.IntVar(&processPool, "pool", 4, "number of images processed at once")
	f.DurationVar(&processTimeout, "timeout", 30*time.Second, "per-job timeout")
	f.IntVar(&processMaxMB, "max-archive-mb", 100, "largest archive to build, in megabytes")
	f.DurationVar(&processStagger, "stagger", 100*time.Millisecond, "delay between individual deliveries")

	rootCmd.AddCommand(processCmd)
}
