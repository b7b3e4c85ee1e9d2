package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-phase/app"
	"github.com/nvr-ai/go-phase/config"
	"github.com/nvr-ai/go-phase/logging"
	"github.com/nvr-ai/go-phase/storage"
)

const (
	flagConfig = "config"
	flagDebug  = "debug"
	flagLimit  = "limit"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "phasecam",
		Usage: "detect the crop growth phase from a camera and drive the servo",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Value:   "configs/phasecam.yaml",
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{"PHASECAM_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run cycles until interrupted",
				Action: runAction,
			},
			{
				Name:   "once",
				Usage:  "run a single cycle",
				Action: onceAction,
			},
			{
				Name:   "check",
				Usage:  "validate the configuration and print the phase table",
				Action: checkAction,
			},
			{
				Name:  "records",
				Usage: "list the latest records of the sqlite store",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: flagLimit, Value: 10, Usage: "number of records"},
				},
				Action: recordsAction,
			},
		},
	}
}

func load(c *cli.Context) (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, nil, err
	}
	if c.Bool(flagDebug) {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, &config.Error{Field: "logging", Err: err}
	}
	return cfg, logger, nil
}

func build(ctx context.Context, c *cli.Context) (*app.App, *zap.SugaredLogger, error) {
	cfg, logger, err := load(c)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.NewBuilder(cfg, logger).Build(ctx)
	if err != nil {
		logger.Sync()
		return nil, nil, err
	}
	return a, logger, nil
}

func runAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, logger, err := build(ctx, c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	err = a.Scheduler.Run(ctx)
	logTimings(logger, a)
	return errors.Wrap(multierr.Append(err, a.Close()), "run")
}

func onceAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, logger, err := build(ctx, c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	report := a.Orchestrator.RunCycle(ctx)
	logger.Infow("cycle finished", "status", report.Status, "detail", report.Detail, "trace", report.Trace)
	logTimings(logger, a)
	if err := a.Close(); err != nil {
		logger.Warnw("shutdown", "error", err)
	}
	return nil
}

func checkAction(c *cli.Context) error {
	cfg, _, err := load(c)
	if err != nil {
		return err
	}
	table, _ := cfg.PhaseTable()
	fmt.Fprintf(c.App.Writer, "configuration ok\nphases: %s\nneutral command: %d\ninterval: %s\n",
		table, cfg.NeutralCommand, cfg.Interval())
	return nil
}

func recordsAction(c *cli.Context) error {
	cfg, logger, err := load(c)
	if err != nil {
		return err
	}
	if cfg.Storage.Backend != storage.BackendSQLite {
		return errors.Errorf("records requires the %q storage backend, configured %q", storage.BackendSQLite, cfg.Storage.Backend)
	}
	s, err := storage.NewSQLite(cfg.Storage.SQLite, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	recs, err := s.Recent(c.Context, c.Int(flagLimit))
	if err != nil {
		return err
	}
	for _, r := range recs {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\t%s\n", r.CreatedAt, r.Phases, r.Angle, r.Image)
	}
	return nil
}

func logTimings(logger *zap.SugaredLogger, a *app.App) {
	prof := a.Orchestrator.Profiler()
	for _, op := range prof.Operations() {
		logger.Infow("timing", "op", op.Name, "count", op.Count, "avg", op.Avg, "min", op.Min, "max", op.Max)
	}
	if m, ok := a.InferenceMetrics(); ok {
		logger.Infow("inference", "runs", m.InferenceCount, "avg", m.Average(), "last", m.Last)
	}
	rs := prof.Runtime()
	logger.Infow("runtime", "uptime", rs.Uptime, "goroutines", rs.Goroutines, "heap_alloc", rs.HeapAlloc, "gc_cycles", rs.GCCycles)
}
