package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/AngelCh415/salesinsight/internal/analysis"
	"github.com/AngelCh415/salesinsight/internal/config"
	"github.com/AngelCh415/salesinsight/internal/httpx"
	"github.com/AngelCh415/salesinsight/internal/ingest"
	"github.com/AngelCh415/salesinsight/internal/metrics"
	"github.com/AngelCh415/salesinsight/internal/scheduler"
	"github.com/AngelCh415/salesinsight/internal/store"
)

func main() {
	cfg := config.FromEnv()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	holder, err := config.NewAnalysisHolder(cfg.AnalysisConfig, logger, analysis.Check)
	if err != nil {
		logger.Error("analysis config", slog.String("err", err.Error()))
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewRecorder(reg)

	cl := ingest.NewHTTPClient(cfg.HTTPTimeout)
	st := store.NewMemoryStore()
	loader := ingest.NewLoader(cl, st, logger, cfg)
	svc := analysis.NewService(holder, st, logger, rec)

	if cfg.MySQLDSN != "" {
		if err := preload(ctx, cfg, st); err != nil {
			logger.Error("mysql preload", slog.String("err", err.Error()))
			os.Exit(1)
		}
		logger.Info("mysql preload done", slog.Int("events", st.Len()))
	}

	sched := scheduler.New(logger)
	if cfg.AnalysisSchedule != "" {
		err := sched.Add("analysis", cfg.AnalysisSchedule, func() { scheduledRun(ctx, logger, cfg, loader, svc) })
		if err != nil {
			logger.Error("schedule", slog.String("err", err.Error()))
			os.Exit(1)
		}
	}
	sched.Start()

	r := httpx.NewRouter(httpx.Deps{
		Log:      logger,
		Store:    st,
		Loader:   loader,
		Analysis: svc,
		Metrics:  metrics.NewService(st),
		Recorder: rec,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		sched.Stop(shutdown)
		if err := srv.Shutdown(shutdown); err != nil {
			logger.Warn("shutdown", slog.String("err", err.Error()))
		}
	}()

	logger.Info("starting server", slog.String("port", cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.String("err", err.Error()))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func preload(ctx context.Context, cfg config.Config, st *store.MemoryStore) error {
	db, err := ingest.OpenMySQL(cfg.MySQLDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	events, err := ingest.LoadMySQL(ctx, db, cfg.MySQLTable, time.Time{}, time.Time{})
	if err != nil {
		return err
	}
	for _, e := range events {
		st.UpsertEvent(e)
	}
	return nil
}

// scheduledRun refreshes from the sales API when one is configured, analyses and exports.
func scheduledRun(ctx context.Context, log *slog.Logger, cfg config.Config, l *ingest.Loader, svc *analysis.Service) {
	if cfg.SalesURL != "" {
		if _, err := l.FetchRemote(ctx, nil); err != nil {
			log.Warn("scheduled ingest failed", slog.String("err", err.Error()))
		}
	}
	res, err := svc.Run(ctx, time.Time{}, nil)
	if errors.Is(err, analysis.ErrRunInProgress) {
		log.Info("scheduled run skipped", slog.String("reason", err.Error()))
		return
	}
	if err != nil {
		log.Error("scheduled run failed", slog.String("err", err.Error()))
		return
	}
	if cfg.SinkURL == "" {
		return
	}
	if err := l.ExportRun(ctx, res); err != nil {
		log.Error("scheduled export failed", slog.String("run_id", res.ID), slog.String("err", err.Error()))
	}
}
