// report prints attendance metrics for one or more employees over a date
// range, read either from the HRIS database or through the upstream API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/cmlabs-hris/attendance-engine/internal/config"
	"github.com/cmlabs-hris/attendance-engine/internal/pkg/clock"
	"github.com/cmlabs-hris/attendance-engine/internal/pkg/database"
	"github.com/cmlabs-hris/attendance-engine/internal/repository/postgresql"
	"github.com/cmlabs-hris/attendance-engine/internal/repository/upstream"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseOptions(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.SlogLevel(),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep := reporter{
		tolerance: cfg.Engine.DefaultTolerance,
		location:  cfg.App.Location,
	}

	var reports []employeeReport
	switch opts.Source {
	case sourcePostgres:
		dsn := cfg.DatabaseURL()
		if dsn == "" {
			return errors.New("postgres source needs DATABASE_URL or DB_HOST")
		}
		db, err := database.NewPostgreSQLDB(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		history := postgresql.NewHistoryRepository(db, cfg.App.Location)
		err = postgresql.WithSnapshot(ctx, db, func(ctx context.Context) error {
			var buildErr error
			reports, buildErr = rep.build(ctx, history, opts)
			return buildErr
		})
		if err != nil {
			return err
		}

	case sourceUpstream:
		token := opts.Token
		if token == "" {
			token = os.Getenv("UPSTREAM_TOKEN")
		}
		if token == "" {
			return errors.New("upstream source needs --token or UPSTREAM_TOKEN")
		}
		if cfg.Upstream.BaseURL == "" {
			return errors.New("upstream source needs UPSTREAM_BASE_URL")
		}

		client := upstream.NewClient(upstream.Config{
			BaseURL:        cfg.Upstream.BaseURL,
			Timeout:        cfg.Upstream.Timeout,
			ReadRetries:    cfg.Upstream.ReadRetries,
			RetryBaseDelay: cfg.Upstream.RetryBaseDelay,
			Location:       cfg.App.Location,
		}, &http.Client{}, func() string { return token }, clock.Real())

		reports, err = rep.build(ctx, client, opts)
		if err != nil {
			return err
		}
	}

	return writeReports(os.Stdout, opts.Format, reports)
}
