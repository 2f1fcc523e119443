package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ripkitten-co/prowl/eventlog"
)

func newStreamsCmd(a *app) *cobra.Command {
	var categories []string
	cmd := &cobra.Command{
		Use:   "streams",
		Short: "List streams, optionally of some categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			streams, err := a.log.ListStreams(cmd.Context(), eventlog.StreamFilter{Categories: categories})
			if err != nil {
				return err
			}
			for _, s := range streams {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&categories, "category", nil, "only streams of these categories")
	return cmd
}

func newCategoriesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List stream categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			cats, err := a.log.ListCategories(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range cats {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
}
