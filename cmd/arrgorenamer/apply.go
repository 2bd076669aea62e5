package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vmunix/arrgo-renamer/internal/apply"
)

var (
	applyPlansFile    string
	applyDryRun       bool
	applyOutputFolder string
)

var applyCmd = &cobra.Command{
	Use:   "apply <username>",
	Short: "Materialize rename plans as hardlinks into the output tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if applyPlansFile == "" {
			return fmt.Errorf("apply requires --plans-file")
		}
		raw, err := os.ReadFile(applyPlansFile)
		if err != nil {
			return fmt.Errorf("read plans file: %w", err)
		}
		var plans []apply.Plan
		if err := json.Unmarshal(raw, &plans); err != nil {
			return fmt.Errorf("parse plans file: %w", err)
		}

		svc, err := buildService()
		if err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()

		opts := apply.Options{DryRun: applyDryRun, OutputFolder: applyOutputFolder}
		outcomes, err := svc.Apply(cmd.Context(), args[0], plans, opts)
		if err != nil {
			return err
		}
		printResult(outcomes, func() {
			for _, o := range outcomes {
				if o.Err != nil {
					fmt.Printf("%s: %s (%v)\n", o.ItemID, o.Status, o.Err)
					continue
				}
				fmt.Printf("%s: %s -> %s\n", o.ItemID, o.Status, o.ToPath)
			}
		})
		return nil
	},
}

func init() {
	applyCmd.Flags().StringVar(&applyPlansFile, "plans-file", "", "Path to a JSON array of {itemId, fromPath, toPath} plans")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Report what would happen without hardlinking")
	applyCmd.Flags().StringVar(&applyOutputFolder, "output-folder", "", "Override output folder root for this apply")
	rootCmd.AddCommand(applyCmd)
}
