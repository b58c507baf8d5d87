package main

import (
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var (
		output string
		query  string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Load the conversation list from the local backend and print it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			prof, err := loadProfile(v)
			if err != nil {
				return err
			}

			b, err := openBackend(ctx, prof)
			if err != nil {
				return err
			}
			defer b.Close()

			r, err := newReconciler(b.gateway, prof, nil)
			if err != nil {
				return err
			}
			defer r.Close()

			if err := r.Reload(ctx); err != nil {
				return err
			}
			return writeRows(cmd.OutOrStdout(), r.Project(query), output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	cmd.Flags().StringVarP(&query, "query", "q", "", "only show conversations whose name or preview contains this text")
	return cmd
}
