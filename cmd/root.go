package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"imgforge/internal/batch"
	"imgforge/internal/infra"
)

var (
	cfg    *infra.Config
	logger = zerolog.Nop()

	presetsFile string
)

var rootCmd = &cobra.Command{
	Use:           "imgforge",
	Short:         "imgforge - resize, crop and convert images in batches",
	Long:          "imgforge runs images through resize, crop, rotate, compress and convert presets on a bounded worker pool and packages the results.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := infra.LoadConfig()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		cfg = c
		logger = infra.NewLogger(cfg.AppEnv, cfg.LogLevel, os.Stderr)
		if presetsFile == "" {
			presetsFile = cfg.PresetsFile
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadPresets returns the built-in presets followed by those in the
// configured file. File presets replace built-ins with the same id.
func loadPresets() ([]batch.Preset, error) {
	presets := batch.DefaultPresets()
	if presetsFile == "" {
		return presets, nil
	}
	extra, err := batch.LoadPresetFile(presetsFile)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(presets))
	for i, p := range presets {
		index[p.ID] = i
	}
	for _, p := range extra {
		if i, ok := index[p.ID]; ok {
			presets[i] = p
			continue
		}
		presets = append(presets, p)
	}
	return presets, nil
}

func init() {
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.PersistentFlags().StringVar(&presetsFile, "presets-file", "", "YAML file with additional presets (default $IMGFORGE_PRESETS)")
}
