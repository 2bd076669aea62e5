package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the nightly sweep immediately (drops entries whose source file is gone, unless applied or hidden)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildService()
		if err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()

		n, err := svc.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		printResult(map[string]int{"swept": n}, func() {
			fmt.Printf("swept %d entries\n", n)
		})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
