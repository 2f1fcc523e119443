package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ripkitten-co/prowl/projection"
)

type projectionView struct {
	Name        string           `json:"name" yaml:"name"`
	Status      string           `json:"status" yaml:"status"`
	Positions   map[string]int64 `json:"positions,omitempty" yaml:"positions,omitempty"`
	State       any              `json:"state,omitempty" yaml:"state,omitempty"`
	LockedUntil *time.Time       `json:"locked_until,omitempty" yaml:"locked_until,omitempty"`
}

func newProjectionsCmd(a *app) *cobra.Command {
	var (
		prefix string
		output string
	)
	cmd := &cobra.Command{
		Use:   "projections",
		Short: "List projections and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			m := projection.NewManager(a.checkpoints)
			names, err := m.FetchNames(cmd.Context(), prefix)
			if err != nil {
				return err
			}

			views := make([]projectionView, 0, len(names))
			rows := make([][]string, 0, len(names))
			for _, name := range names {
				status, err := m.FetchStatus(cmd.Context(), name)
				if err != nil {
					return err
				}
				views = append(views, projectionView{Name: name, Status: string(status)})
				rows = append(rows, []string{name, string(status)})
			}
			return render(cmd.OutOrStdout(), output, []string{"NAME", "STATUS"}, rows, views)
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only names starting with prefix")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, yaml or json")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status NAME",
		Short: "Show a projection's status, positions and state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			d, err := projection.NewManager(a.checkpoints).Describe(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			view := projectionView{Name: d.Name, Status: string(d.Status), Positions: d.Position, LockedUntil: d.LockedUntil}
			if len(d.State) > 0 {
				var state any
				if err := json.Unmarshal(d.State, &state); err == nil {
					view.State = state
				}
			}

			streams := make([]string, 0, len(d.Position))
			for s := range d.Position {
				streams = append(streams, s)
			}
			sort.Strings(streams)
			rows := [][]string{{"status", string(d.Status)}}
			for _, s := range streams {
				rows = append(rows, []string{"position " + s, fmt.Sprint(d.Position[s])})
			}
			if d.LockedUntil != nil {
				rows = append(rows, []string{"locked until", d.LockedUntil.Format(time.RFC3339Nano)})
			}
			if len(d.State) > 0 {
				rows = append(rows, []string{"state", strings.TrimSpace(string(d.State))})
			}
			return render(cmd.OutOrStdout(), output, []string{"FIELD", "VALUE"}, rows, view)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, yaml or json")
	return cmd
}

func newStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop NAME",
		Short: "Ask the runner of a projection to stop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			return projection.NewManager(a.checkpoints).StopProjection(cmd.Context(), args[0])
		},
	}
}

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset NAME",
		Short: "Ask the runner of a projection to reset and replay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			return projection.NewManager(a.checkpoints).ResetProjection(cmd.Context(), args[0])
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	var includeEmitted bool
	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Ask the runner of a projection to delete it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			return projection.NewManager(a.checkpoints).DeleteProjection(cmd.Context(), args[0], includeEmitted)
		},
	}
	cmd.Flags().BoolVar(&includeEmitted, "include-emitted", false, "also delete emitted events or the read model")
	return cmd
}
