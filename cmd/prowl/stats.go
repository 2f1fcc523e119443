package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ripkitten-co/prowl/eventlog"
	"github.com/ripkitten-co/prowl/projection"
	xlog "github.com/ripkitten-co/prowl/internal/log"
)

func newStatsCmd(a *app) *cobra.Command {
	var (
		src    source
		follow bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "stats NAME",
		Short: "Maintain per-type event counts in a persistent projection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := src.query(); err != nil {
				return err
			}
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			ctx := cmd.Context()
			name := args[0]

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			p := projection.NewProjector[map[string]int](name, a.log, a.checkpoints, a.projectionOptions(name, reg)...).
				Init(newCounts).
				WhenAny(func(ctx context.Context, _ projection.ProjectorContext, counts map[string]int, evt eventlog.Event) (map[string]int, error) {
					counts[evt.Type]++
					return counts, nil
				})
			switch {
			case len(src.streams) > 0:
				p.FromStream(src.streams...)
			case len(src.categories) > 0:
				p.FromCategory(src.categories...)
			default:
				p.FromAll()
			}

			if !follow {
				if err := p.Run(ctx, false); err != nil {
					return err
				}
				counts := p.State()
				return render(cmd.OutOrStdout(), output, []string{"TYPE", "COUNT"}, countRows(counts), counts)
			}

			if a.cfg.MetricsAddr != "" {
				stop := serveMetrics(a.logger("metrics"), a.cfg.MetricsAddr, reg)
				defer stop()
			}
			d := projection.NewDaemon(projection.WithDaemonLogger(a.logger("daemon")))
			d.Add(p)
			err := d.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	src.register(cmd)
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep running and project new events as they arrive")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, yaml or json")
	return cmd
}

func (a *app) logger(component string) zerolog.Logger {
	return xlog.WithComponent(component)
}

// projectionOptions maps the loaded configuration onto runtime options.
func (a *app) projectionOptions(name string, reg prometheus.Registerer) []projection.Option {
	return []projection.Option{
		projection.WithPersistBlockSize(a.cfg.PersistBlockSize),
		projection.WithSleep(a.cfg.Sleep),
		projection.WithLockTimeout(a.cfg.LockTimeout),
		projection.WithUpdateLockThreshold(a.cfg.UpdateLockThreshold),
		projection.WithLogger(xlog.Derive(func(c *zerolog.Context) {
			*c = c.Str("component", "projection").Str("projection", name)
		})),
		projection.WithMetrics(projection.NewMetrics(reg)),
		projection.WithWaker(eventlog.NewNotifier(a.store.PgxPool())),
	}
}

// serveMetrics exposes reg on addr until the returned function is called.
func serveMetrics(log zerolog.Logger, addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
