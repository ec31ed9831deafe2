package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/hperssn/trialclock/internal/config"
	"github.com/hperssn/trialclock/internal/events"
	httpapi "github.com/hperssn/trialclock/internal/http"
	"github.com/hperssn/trialclock/internal/metrics"
	"github.com/hperssn/trialclock/internal/runner"
	"github.com/hperssn/trialclock/internal/storage"
	"github.com/hperssn/trialclock/internal/submit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(cfg)

	course, err := config.LoadCourse(cfg.CourseFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load course")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := openRepository(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("failed to open trial archive")
	}
	if repo != nil {
		defer repo.Close()
	}

	prom := metrics.NewPrometheus()

	publisher, err := openPublisher(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("nats_url", cfg.NATSURL).Msg("failed to connect event publisher")
	}
	defer publisher.Close()

	// The archive goes first: saving is idempotent, so a retry after a
	// backend failure never posts the same trial to the backend twice.
	var backend *submit.BackendClient
	var submitters submit.MultiSubmitter
	if repo != nil {
		submitters = append(submitters, submit.NewArchiveSubmitter(repo, nil))
	}
	if cfg.BackendURL != "" {
		backend = submit.NewBackendClient(cfg.BackendURL, cfg.BackendToken, cfg.BackendTimeout)
		submitters = append(submitters, backend)
	}

	opts := runner.Options{
		DisplayInterval: cfg.DisplayInterval,
		StaleAfter:      cfg.StaleAfter,
		CleanupInterval: cfg.CleanupInterval,
		Course:          course,
		StrictObstacles: cfg.StrictObstacles,
		Publisher:       metrics.NewMetricPublisher(publisher, prom),
		Metrics:         prom,
	}
	if len(submitters) > 0 {
		opts.Submitter = submitters
	} else {
		log.Warn().Msg("no BACKEND_URL and no storage configured, submissions are disabled")
	}

	manager := runner.NewTrialManager(opts)
	go manager.RunCleanup(ctx)

	var candidates httpapi.CandidateLister
	if backend != nil {
		candidates = backend
	}

	api := httpapi.NewServer(manager, candidates, repo, httpapi.Config{
		AuthDisabled: cfg.AuthDisabled,
		Tokens:       httpapi.NewTokenVerifier(cfg.JWTSecret, nil),
		Metrics:      prom.Handler(),
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
		},
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedHeaders:   []string{"*"},
		AllowCredentials: !containsWildcard(cfg.CORSOrigins),
	})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     h2c.NewHandler(c.Handler(api.Routes()), &http2.Server{}),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("course", course.Name).
			Str("storage", cfg.StorageDriver).
			Bool("auth_disabled", cfg.AuthDisabled).
			Bool("bearer_tokens", cfg.JWTSecret != "").
			Msg("trial clock listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cancel()
	manager.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("trial clock shutdown complete")
}

func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if strings.EqualFold(cfg.LogFormat, "console") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
}

func openRepository(cfg config.Config) (storage.Repository, error) {
	switch cfg.StorageDriver {
	case config.StorageSQLite:
		repo, err := storage.NewSQLiteRepository(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.StoragePostgres:
		d := cfg.DB
		repo, err := storage.NewPostgresRepository(storage.PostgresDSN(d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode))
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, nil
	}
}

func openPublisher(ctx context.Context, cfg config.Config) (events.Publisher, error) {
	if cfg.NATSURL == "" {
		return events.NewLogPublisher(), nil
	}

	jsCfg := events.DefaultJetStreamConfig()
	jsCfg.URL = cfg.NATSURL
	jsCfg.StreamName = cfg.NATSStream
	jsCfg.SubjectPrefix = cfg.NATSSubjectPrefix

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return events.NewJetStreamPublisher(connectCtx, jsCfg)
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
