package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danield137/lev/runtime/evals"
)

func newScorersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scorers",
		Short: "List the registered scorer kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, kind := range evals.NewRegistry().Kinds() {
				fmt.Fprintln(cmd.OutOrStdout(), kind)
			}
			return nil
		},
	}
}
