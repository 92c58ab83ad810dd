package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"imgforge/internal/tui"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List available presets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		presets, err := loadPresets()
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, tui.RenderPresets(presets))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(presetsCmd)
}
