package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"health-diary/backend/internal/ai"
	"health-diary/backend/internal/api"
	"health-diary/backend/internal/config"
	"health-diary/backend/internal/jobs"
	"health-diary/backend/internal/metrics"
	"health-diary/backend/internal/trend"
)

func main() {
	configPath := flag.String("config", os.Getenv("HEALTH_DIARY_CONFIG"), "Optional YAML config file")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		logrus.WithError(err).Warn("load .env")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		logrus.Fatalf("resolve timezone: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logrus.Fatalf("create data directory: %v", err)
	}

	m := metrics.New()

	server, err := api.NewServer(api.Config{
		DBPath:          cfg.Database.Path,
		SilentDB:        cfg.Database.Silent,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		CatalogPath:     cfg.Engine.CatalogPath,
		Threshold:       cfg.Engine.Threshold,
		MaxQuestions:    cfg.Engine.MaxQuestions,
		ContextTriggers: cfg.Engine.ContextTriggers,
		SessionTTL:      cfg.Sessions.TTL,
		Location:        loc,
		Suggester:       buildSuggester(cfg.AI),
		AIRetries:       cfg.AI.Retries,
		Metrics:         m,
	})
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}
	defer func() {
		if cerr := server.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("close database")
		}
	}()

	if cfg.Trends.RefreshOnStart {
		if _, err := trend.RefreshSnapshots(server.DB(), time.Now().UTC()); err != nil {
			logrus.WithError(err).Warn("initial trend refresh")
		}
	}

	scheduler := jobs.NewScheduler()
	if err := scheduler.Add("trend-refresh", cfg.Trends.RefreshCron, jobs.TrendRefresh(server.DB(), m)); err != nil {
		logrus.Fatalf("schedule trend refresh: %v", err)
	}
	if err := scheduler.Add("session-sweep", cfg.Sessions.SweepCron, jobs.SessionSweep(server.Sessions(), m)); err != nil {
		logrus.Fatalf("schedule session sweep: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		logrus.Fatalf("start scheduler: %v", err)
	}
	defer scheduler.Stop()

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logrus.Infof("starting health-diary backend on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("server exited: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("graceful shutdown")
	}
}

// buildSuggester chains the primary provider with the fallback. It returns nil when neither
// has a key or AI is disabled.
func buildSuggester(cfg config.AIConfig) ai.Suggester {
	if cfg.Disabled {
		logrus.Info("AI suggestions disabled via configuration")
		return nil
	}
	var primary, fallback ai.Suggester
	if client, err := newClient(cfg.Primary, cfg.RequestsPerMinute); err == nil {
		primary = client
	}
	if client, err := newClient(cfg.Fallback, cfg.RequestsPerMinute); err == nil {
		fallback = client
	}
	if primary == nil && fallback == nil {
		return nil
	}
	return ai.WithFallback(primary, fallback)
}

func newClient(p config.ProviderConfig, rpm int) (*ai.Client, error) {
	client, err := ai.NewClient(ai.Config{
		Name:              p.Name,
		APIKey:            p.APIKey,
		Model:             p.Model,
		BaseURL:           p.BaseURL,
		Temperature:       p.Temperature,
		MaxTokens:         p.MaxTokens,
		Timeout:           p.Timeout,
		RequestsPerMinute: rpm,
	})
	if err != nil {
		if !errors.Is(err, ai.ErrDisabled) {
			logrus.WithError(err).WithField("provider", p.Name).Warn("ai client")
		}
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"provider": client.Name(), "model": p.Model}).Info("AI suggestions enabled")
	return client, nil
}
