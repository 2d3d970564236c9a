package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ILLUVRSE/dispatch/internal/applier"
	"github.com/ILLUVRSE/dispatch/internal/audit"
	"github.com/ILLUVRSE/dispatch/internal/auth"
	"github.com/ILLUVRSE/dispatch/internal/config"
	"github.com/ILLUVRSE/dispatch/internal/httpserver"
	"github.com/ILLUVRSE/dispatch/internal/logging"
	"github.com/ILLUVRSE/dispatch/internal/pipeline"
	"github.com/ILLUVRSE/dispatch/internal/reasoning"
	"github.com/ILLUVRSE/dispatch/internal/redispatch"
	"github.com/ILLUVRSE/dispatch/internal/seed"
	"github.com/ILLUVRSE/dispatch/internal/service"
	"github.com/ILLUVRSE/dispatch/internal/stages"
	"github.com/ILLUVRSE/dispatch/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dispatch-service: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dispatch-service",
		Short:         "Emergency dispatch driven by staged reasoning calls",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the Postgres schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(cmd.Context())
			},
		},
		seedCmd(),
	)
	return root
}

func seedCmd() *cobra.Command {
	var rngSeed int64
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert the demo dataset into an empty database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), rngSeed)
		},
	}
	cmd.Flags().Int64Var(&rngSeed, "rand-seed", 0, "seed for generated occupancy and doctors (0 = time based)")
	return cmd
}

// bootstrap loads config and builds the logger every command needs.
func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config load: %w", err)
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Development: cfg.LogDevelopment})
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger init: %w", err)
	}
	return cfg, logger, nil
}

func openDB(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// openStore returns Postgres when a database URL is configured and the
// in-memory store otherwise. The returned func releases the connection pool.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database configured, state is kept in memory")
		return store.NewMemoryStore(), func() {}, nil
	}
	db, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	pg := store.NewPGStore(db)
	if err := pg.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return pg, func() { db.Close() }, nil
}

func newRandSource(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

func runMigrate(ctx context.Context) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	if cfg.DatabaseURL == "" {
		return errors.New("DISPATCH_DATABASE_URL is required")
	}
	db, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.NewPGStore(db).Migrate(ctx); err != nil {
		return err
	}
	logger.Info("schema applied")
	return nil
}

func runSeed(ctx context.Context, rngSeed int64) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	if cfg.DatabaseURL == "" {
		return errors.New("DISPATCH_DATABASE_URL is required")
	}
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	_, err = seed.Apply(ctx, st, newRandSource(rngSeed), logger.Named("seed"))
	return err
}

func newSinks(ctx context.Context, cfg config.Config, logger *zap.Logger) (audit.Publisher, audit.Archiver, func(), error) {
	var (
		publisher audit.Publisher = audit.NopPublisher{}
		archiver  audit.Archiver  = audit.NopArchiver{}
		closeFn                   = func() {}
	)
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := audit.NewKafkaPublisher(audit.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		publisher = kp
		closeFn = func() {
			if err := kp.Close(); err != nil {
				logger.Warn("kafka writer close failed", zap.Error(err))
			}
		}
	}
	if cfg.ArchiveBucket != "" {
		sa, err := audit.NewS3Archiver(ctx, cfg.ArchiveBucket, cfg.ArchivePrefix, logger)
		if err != nil {
			closeFn()
			return nil, nil, nil, err
		}
		archiver = sa
	}
	return publisher, archiver, closeFn, nil
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.SeedOnStart {
		if _, err := seed.Apply(ctx, st, newRandSource(0), logger.Named("seed")); err != nil {
			return err
		}
	}

	temperature := cfg.ReasoningTemperature
	policy := reasoning.DefaultPolicy()
	policy.MaxAttempts = cfg.ReasoningMaxAttempts
	policy.BaseDelay = cfg.ReasoningBackoffBase
	client := reasoning.New(reasoning.HTTPClientConfig{
		BaseURL:     cfg.ReasoningBaseURL,
		APIKey:      cfg.ReasoningAPIKey,
		Model:       cfg.ReasoningModel,
		Temperature: &temperature,
		Timeout:     cfg.ReasoningTimeout,
		Policy:      policy,
		Referer:     cfg.ReasoningReferer,
		Title:       cfg.ReasoningTitle,
		Logger:      logger,
	})
	if cfg.Offline() {
		logger.Warn("reasoning credential not set, every run will degrade")
	}

	publisher, archiver, closeSinks, err := newSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	p := pipeline.New(stages.NewRunner(client, logger), applier.New(st, logger), st, pipeline.Config{
		Pacing:           cfg.StagePacing,
		ValidateDecision: cfg.ValidateDecision,
	}, logger)
	svc := service.New(service.Deps{
		Store:     st,
		Pipeline:  p,
		Publisher: publisher,
		Archiver:  archiver,
		Logger:    logger,
	})

	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	if cfg.RedispatchInterval > 0 {
		w := redispatch.New(st, svc, redispatch.Config{
			Interval: cfg.RedispatchInterval,
			MinAge:   cfg.RedispatchMinAge,
			Logger:   logger,
		})
		go func() {
			defer close(workerDone)
			w.Run(workerCtx)
		}()
	} else {
		close(workerDone)
	}
	defer func() {
		stopWorker()
		<-workerDone
	}()

	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}
	if !verifier.Enabled() {
		logger.Warn("no write credentials configured, write routes will reject every request")
	}

	server := httpserver.New(cfg, svc, verifier, logger)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dispatch service listening", zap.String("addr", cfg.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return shutdown(httpServer, errCh, logger)
}

func shutdown(s *http.Server, errCh <-chan error, logger *zap.Logger) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
