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
	"time"

	"github.com/cmlabs-hris/attendance-engine/internal/config"
	"github.com/cmlabs-hris/attendance-engine/internal/domain/attendance"
	appHTTP "github.com/cmlabs-hris/attendance-engine/internal/handler/http"
	"github.com/cmlabs-hris/attendance-engine/internal/pkg/clock"
	"github.com/cmlabs-hris/attendance-engine/internal/pkg/cron"
	"github.com/cmlabs-hris/attendance-engine/internal/pkg/database"
	"github.com/cmlabs-hris/attendance-engine/internal/pkg/jwt"
	"github.com/cmlabs-hris/attendance-engine/internal/pkg/sse"
	"github.com/cmlabs-hris/attendance-engine/internal/repository/postgresql"
	"github.com/cmlabs-hris/attendance-engine/internal/repository/upstream"
	attendanceService "github.com/cmlabs-hris/attendance-engine/internal/service/attendance"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("attendance agent stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.SlogLevel(),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	hub := sse.NewHub()
	JWTService := jwt.NewJWTService(cfg.JWT.Secret)

	httpClient := &http.Client{Timeout: cfg.Upstream.Timeout + time.Second}
	gatewayFactory := upstream.NewFactory(upstream.Config{
		BaseURL:        cfg.Upstream.BaseURL,
		Timeout:        cfg.Upstream.Timeout,
		ReadRetries:    cfg.Upstream.ReadRetries,
		RetryBaseDelay: cfg.Upstream.RetryBaseDelay,
		Location:       cfg.App.Location,
	}, httpClient, clk)

	// History comes straight from the HRIS database when one is configured,
	// otherwise through each caller's upstream session.
	var history attendance.HistoryRepository
	if dsn := cfg.DatabaseURL(); dsn != "" {
		db, err := database.NewPostgreSQLDB(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		history = postgresql.NewHistoryRepository(db, cfg.App.Location)
		slog.Info("attendance history read from database")
	}

	registry := attendanceService.NewRegistry(
		gatewayFactory,
		clk,
		hub,
		cfg.Engine.DefaultTolerance,
		cfg.Engine.SessionIdleTimeout,
	)
	defer registry.CloseAll()

	service := attendanceService.NewAttendanceService(registry, history, clk, cfg.Engine.DefaultTolerance)

	scheduler := cron.NewScheduler(clk)
	cron.NewAttendanceJobs(registry, clk, cron.AttendanceIntervals{
		Poll: cfg.Engine.PollInterval,
		Tick: cfg.Engine.TickInterval,
	}).RegisterJobs(scheduler)
	scheduler.Start()
	defer scheduler.Stop()

	attendanceHandler := appHTTP.NewAttendanceHandler(service, hub, JWTService)
	router := appHTTP.NewRouter(appHTTP.RouterConfig{
		Env:            cfg.App.Env,
		Version:        version,
		AllowedOrigins: cfg.App.AllowedOrigins,
		LogLevel:       cfg.App.SlogLevel(),
	}, JWTService, attendanceHandler)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("attendance agent listening", "addr", server.Addr, "upstream", cfg.Upstream.BaseURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
