// Command prowl inspects event streams and drives projections over a
// Postgres event log.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ripkitten-co/prowl"
	"github.com/ripkitten-co/prowl/checkpoint"
	"github.com/ripkitten-co/prowl/checkpoint/badgerstore"
	"github.com/ripkitten-co/prowl/checkpoint/redisstore"
	"github.com/ripkitten-co/prowl/checkpoint/sqlitestore"
	"github.com/ripkitten-co/prowl/eventlog"
	"github.com/ripkitten-co/prowl/internal/config"
	xlog "github.com/ripkitten-co/prowl/internal/log"
)

// app holds the connections shared by every command.
type app struct {
	cfg         config.Config
	store       *prowl.Store
	log         eventlog.Log
	checkpoints checkpoint.Store
	closers     []func() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, a := newRootCmd()
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:           "prowl",
		Short:         "Inspect event streams and run projections",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.configure(cmd)
		},
	}

	f := root.PersistentFlags()
	f.String("database-url", "", "Postgres connection string (PROWL_DATABASE_URL)")
	f.String("checkpoint-backend", "", "checkpoint store: postgres, badger, redis, sqlite or memory (PROWL_CHECKPOINT_BACKEND)")
	f.String("log-level", "", "log level (PROWL_LOG_LEVEL)")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address (PROWL_METRICS_ADDR)")

	root.AddCommand(
		newStreamsCmd(a),
		newCategoriesCmd(a),
		newProjectionsCmd(a),
		newStatusCmd(a),
		newStopCmd(a),
		newResetCmd(a),
		newDeleteCmd(a),
		newCountCmd(a),
		newStatsCmd(a),
	)
	return root, a
}

func (a *app) configure(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	overrides := map[string]*string{
		"database-url":       &cfg.DatabaseURL,
		"checkpoint-backend": &cfg.CheckpointBackend,
		"log-level":          &cfg.LogLevel,
		"metrics-addr":       &cfg.MetricsAddr,
	}
	for name, dst := range overrides {
		if v, _ := cmd.Flags().GetString(name); v != "" {
			*dst = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return nil
}

// open connects to the event log and the checkpoint store on first use.
func (a *app) open(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if a.cfg.DatabaseURL == "" {
		return errors.New("database url required: set PROWL_DATABASE_URL or --database-url")
	}

	store, err := prowl.New(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	a.store = store
	a.log = eventlog.NewPostgres(store)
	a.closers = append(a.closers, func() error { store.Close(); return nil })

	cs, closeFn, err := openCheckpoints(ctx, a.cfg, store)
	if err != nil {
		return err
	}
	a.checkpoints = cs
	if closeFn != nil {
		a.closers = append(a.closers, closeFn)
	}
	return nil
}

func openCheckpoints(ctx context.Context, cfg config.Config, store *prowl.Store) (checkpoint.Store, func() error, error) {
	switch cfg.CheckpointBackend {
	case config.BackendBadger:
		s, err := badgerstore.Open(cfg.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.BackendRedis:
		s, err := redisstore.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.BackendSQLite:
		s, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.BackendMemory:
		return checkpoint.NewMemory(), nil, nil
	}
	return checkpoint.NewPostgres(store), nil, nil
}

// close releases connections in reverse order of opening.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	a.store = nil
	return errors.Join(errs...)
}
