package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vmunix/arrgo-renamer/internal/core"
)

var (
	previewTemplate   string
	previewOutputPath string
	previewTMDBID     string
)

var previewCmd = &cobra.Command{
	Use:   "preview <username> <path>...",
	Short: "Render (without applying) the rename plan for one or more paths",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildService()
		if err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()

		username, paths := args[0], args[1:]
		opts := core.PreviewOptions{Template: previewTemplate, OutputPath: previewOutputPath, TMDBID: previewTMDBID}

		previews, err := svc.PreviewPlans(cmd.Context(), username, paths, opts)
		if err != nil {
			return err
		}
		printResult(previews, func() {
			for _, p := range previews {
				fmt.Printf("%s -> %s\n", p.CanonicalPath, p.Plan.RelativePath())
			}
		})
		return nil
	},
}

func init() {
	previewCmd.Flags().StringVar(&previewTemplate, "template", "", "Override the rename template for this preview")
	previewCmd.Flags().StringVar(&previewOutputPath, "output-path", "", "Override output path (informational, passed through)")
	previewCmd.Flags().StringVar(&previewTMDBID, "tmdb-id", "", "Manual TMDB ID override for this preview")
	rootCmd.AddCommand(previewCmd)
}
