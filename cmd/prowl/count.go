package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ripkitten-co/prowl/eventlog"
	"github.com/ripkitten-co/prowl/projection"
)

// source selects the streams a command reads.
type source struct {
	streams    []string
	categories []string
	all        bool
}

func (s *source) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&s.streams, "stream", nil, "read these streams")
	cmd.Flags().StringSliceVar(&s.categories, "category", nil, "read every stream of these categories")
	cmd.Flags().BoolVar(&s.all, "all", false, "read every stream")
	cmd.MarkFlagsMutuallyExclusive("stream", "category", "all")
}

func (s *source) query() (projection.StreamQuery, error) {
	switch {
	case len(s.streams) > 0:
		return projection.FromStreams(s.streams...), nil
	case len(s.categories) > 0:
		return projection.FromCategories(s.categories...), nil
	case s.all:
		return projection.FromAll(), nil
	}
	return projection.StreamQuery{}, errors.New("one of --stream, --category or --all is required")
}

func countByType(_ context.Context, _ projection.Context, counts map[string]int, evt eventlog.Event) (map[string]int, error) {
	counts[evt.Type]++
	return counts, nil
}

func newCounts() map[string]int { return map[string]int{} }

func countRows(counts map[string]int) [][]string {
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	rows := make([][]string, 0, len(types))
	for _, t := range types {
		rows = append(rows, []string{t, fmt.Sprint(counts[t])})
	}
	return rows
}

func newCountCmd(a *app) *cobra.Command {
	var (
		src    source
		output string
	)
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count events per type without storing a checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := src.query()
			if err != nil {
				return err
			}
			if err := a.open(cmd.Context()); err != nil {
				return err
			}

			logger := a.logger("count")
			query := projection.NewQuery[map[string]int](a.log,
				projection.WithLoadCount(a.cfg.PersistBlockSize),
				projection.WithLogger(logger),
			).Init(newCounts).WhenAny(countByType)
			switch {
			case len(src.streams) > 0:
				query.FromStream(src.streams...)
			case len(src.categories) > 0:
				query.FromCategory(src.categories...)
			default:
				query.FromAll()
			}
			logger.Debug().Str("query", q.String()).Msg("counting")

			if err := query.Run(cmd.Context()); err != nil {
				return err
			}
			counts := query.State()
			return render(cmd.OutOrStdout(), output, []string{"TYPE", "COUNT"}, countRows(counts), counts)
		},
	}
	src.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, yaml or json")
	return cmd
}
