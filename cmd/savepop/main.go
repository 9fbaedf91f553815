// Package main runs the savepop API server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/savepop/savepop/internal/app"
	"github.com/savepop/savepop/internal/app/httpapi"
	"github.com/savepop/savepop/internal/app/services/levels"
	"github.com/savepop/savepop/internal/app/storage/postgres"
	redisstore "github.com/savepop/savepop/internal/app/storage/redis"
	"github.com/savepop/savepop/internal/config"
	"github.com/savepop/savepop/internal/platform/migrations"
	"github.com/savepop/savepop/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	flag.Parse()

	_ = godotenv.Load() // allow .env for local runs
	if *configPath == "" {
		*configPath = os.Getenv("SAVEPOP_CONFIG")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("savepop exited")
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	opts := app.Options{
		Quorum:     cfg.Game.Quorum,
		ResultTTL:  cfg.Game.ResultTTL,
		GoalSweep:  cfg.Game.GoalSweep,
		QuestSweep: cfg.Game.QuestSweep,
	}
	if cfg.Advisor.URL != "" {
		advisor, err := levels.NewHTTPAdvisor(&http.Client{Timeout: cfg.Advisor.Timeout}, cfg.Advisor.URL, cfg.Advisor.APIKey, log.Named("advisor"))
		if err != nil {
			return fmt.Errorf("advisor: %w", err)
		}
		opts.Advisor = advisor
		opts.AdvisorTimeout = cfg.Advisor.Timeout
		log.WithField("url", cfg.Advisor.URL).Info("level advisor enabled")
	}

	hub := httpapi.NewHub(log.Named("stream"))
	opts.Events = hub

	application, err := app.New(stores, opts, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := application.Attach(hub); err != nil {
		return fmt.Errorf("attach event hub: %w", err)
	}

	audit, err := httpapi.NewFileAuditSink(cfg.Server.AuditFile)
	if err != nil {
		return err
	}
	if audit != nil {
		defer audit.Close()
	}

	handler := httpapi.NewHandler(application, httpapi.Options{
		JWTSecret: cfg.Auth.JWTSecret,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		Hub:       hub,
		Audit:     audit,
		AuditMax:  cfg.Server.AuditMax,
		Log:       log.Named("httpapi"),
	})
	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwt_secret is empty; trusting X-User-ID headers")
	}

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("savepop API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			log.WithError(err).Error("server error")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop")
	}
	log.Info("savepop stopped")
	return nil
}

// openStores picks PostgreSQL when a DSN is configured and memory otherwise.
// Redis, when configured, takes over keyed request results.
func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (app.Stores, func(), error) {
	var (
		stores  app.Stores
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Database.DSN != "" {
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return app.Stores{}, nil, fmt.Errorf("open database: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			closeAll()
			return app.Stores{}, nil, fmt.Errorf("ping database: %w", err)
		}
		if cfg.Database.Migrate {
			if err := migrations.Apply(ctx, db); err != nil {
				closeAll()
				return app.Stores{}, nil, err
			}
			log.WithField("migrations", len(migrations.Names())).Info("database schema applied")
		}

		store := postgres.New(db)
		stores = app.Stores{
			Goals:       store,
			Ledger:      store,
			Grid:        store,
			Veto:        store,
			Quests:      store,
			Idempotency: store,
		}
		log.Info("using postgres storage")
	} else {
		log.Warn("database.dsn is empty; using in-memory storage")
	}

	if cfg.Redis.Addr != "" {
		client, err := redisstore.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			closeAll()
			return app.Stores{}, nil, err
		}
		closers = append(closers, func() { _ = client.Close() })
		stores.Idempotency = redisstore.New(client, cfg.Redis.Prefix)
		log.WithField("addr", cfg.Redis.Addr).Info("using redis for request results")
	}

	return stores, closeAll, nil
}
