package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	scanIncremental bool
	scanForceAll    bool
)

var scanCmd = &cobra.Command{
	Use:   "scan [libraryID]",
	Short: "Run a full or incremental scan of a library",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildService()
		if err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()
		ctx := cmd.Context()

		if scanForceAll {
			artifacts, err := svc.ForceFullScan(ctx)
			printResult(artifacts, func() {
				for _, a := range artifacts {
					fmt.Printf("library %s: %d items\n", a.LibraryID, a.TotalCount)
				}
			})
			return err
		}

		if len(args) != 1 {
			return fmt.Errorf("scan requires a libraryID, or --force-all")
		}
		libraryID := args[0]

		if scanIncremental {
			res, err := svc.IncrementalScan(ctx, libraryID)
			if err != nil {
				return err
			}
			printResult(res, func() {
				fmt.Printf("incremental scan %s: %d to process, %d removed\n", libraryID, len(res.ToProcess), len(res.Removed))
			})
			return nil
		}

		artifact, err := svc.Scan(ctx, libraryID)
		if err != nil {
			return err
		}
		printResult(artifact, func() {
			fmt.Printf("full scan %s: %d items\n", libraryID, artifact.TotalCount)
		})
		return nil
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanIncremental, "incremental", false, "Run an incremental scan instead of a full scan")
	scanCmd.Flags().BoolVar(&scanForceAll, "force-all", false, "Force a full scan of every configured library")
	rootCmd.AddCommand(scanCmd)
}
