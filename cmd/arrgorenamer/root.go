package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vmunix/arrgo-renamer/internal/config"
	"github.com/vmunix/arrgo-renamer/internal/core"
)

var version = "dev"

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "arrgorenamer",
	Short: "CLI client for the media library renamer",
	Long: `arrgorenamer - CLI client for the media library renamer

Scans configured libraries, resolves metadata, previews rename plans,
and publishes or reverses hardlinks into the output tree.

Run 'arrgorenamerd' to start the background daemon (watchers, artwork
worker, nightly sweep).`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("arrgorenamer %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (defaults to XDG discovery)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate("arrgorenamer {{.Version}}\n")

	rootCmd.AddCommand(versionCmd)
}

// buildService loads the config and constructs a core.Service, discarding
// the store's logger noise to stderr rather than the structured log file
// (CLI invocations are interactive, unlike the daemon).
func buildService() (*core.Service, error) {
	path := configPath
	if path == "" {
		discovered, err := config.Discover()
		if err != nil {
			return nil, fmt.Errorf("discover config: %w", err)
		}
		path = discovered
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return core.New(cfg, logger)
}

// printResult renders v as JSON when --json is set, otherwise falls back
// to the given plain-text render func.
func printResult(v any, plain func()) {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	plain()
}
