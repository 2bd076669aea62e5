package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vmunix/arrgo-renamer/internal/core"
)

var (
	enrichForce     bool
	enrichForceHash bool
	enrichSkipAnime bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <username> <path>...",
	Short: "Resolve metadata for one or more canonical paths",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildService()
		if err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()

		username, paths := args[0], args[1:]
		opts := core.EnrichOptions{Force: enrichForce, ForceHash: enrichForceHash, SkipAnimeProviders: enrichSkipAnime}

		entries, err := svc.EnrichBulk(cmd.Context(), username, paths, opts)
		if err != nil {
			return err
		}
		printResult(entries, func() {
			for i, entry := range entries {
				fmt.Printf("%s -> %s\n", paths[i], entry.Title)
			}
		})
		return nil
	},
}

func init() {
	enrichCmd.Flags().BoolVar(&enrichForce, "force", false, "Bypass the enrich cache and re-resolve")
	enrichCmd.Flags().BoolVar(&enrichForceHash, "force-hash", false, "Force a hash-based re-identification")
	enrichCmd.Flags().BoolVar(&enrichSkipAnime, "skip-anime", false, "Skip anime-only providers")
	rootCmd.AddCommand(enrichCmd)
}
