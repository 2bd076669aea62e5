package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vmunix/arrgo-renamer/internal/apply"
)

var (
	unapprovePaths           []string
	unapproveCount           int
	unapproveDeleteHardlinks bool
)

var unapproveCmd = &cobra.Command{
	Use:   "unapprove <username>",
	Short: "Reverse an apply, moving paths back into scan consideration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildService()
		if err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()

		opts := apply.UnapproveOptions{}
		if cmd.Flags().Changed("delete-hardlinks") {
			opts.DeleteHardlinks = &unapproveDeleteHardlinks
		}

		results, err := svc.Unapprove(cmd.Context(), args[0], unapprovePaths, unapproveCount, opts)
		if err != nil {
			return err
		}
		printResult(results, func() {
			for _, r := range results {
				if r.Err != nil {
					fmt.Printf("%s: error (%v)\n", r.CanonicalPath, r.Err)
					continue
				}
				fmt.Printf("%s: movedBack=%v unlinked=%v\n", r.CanonicalPath, r.MovedBack, r.Unlinked)
			}
		})
		return nil
	},
}

func init() {
	unapproveCmd.Flags().StringSliceVar(&unapprovePaths, "path", nil, "Canonical path to unapprove (repeatable); defaults to the N most recently applied")
	unapproveCmd.Flags().IntVar(&unapproveCount, "count", 10, "Number of most-recently-applied entries to unapprove when --path is not given")
	unapproveCmd.Flags().BoolVar(&unapproveDeleteHardlinks, "delete-hardlinks", true, "Delete published hardlinks on unapprove")
	rootCmd.AddCommand(unapproveCmd)
}
