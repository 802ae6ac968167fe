// Package main wires together the scraper daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pricescan/pricescan-scraper/internal/api"
	"github.com/pricescan/pricescan-scraper/internal/clock/system"
	"github.com/pricescan/pricescan-scraper/internal/config"
	"github.com/pricescan/pricescan-scraper/internal/extractor/selector"
	"github.com/pricescan/pricescan-scraper/internal/fetcher/collyfetch"
	"github.com/pricescan/pricescan-scraper/internal/logging"
	"github.com/pricescan/pricescan-scraper/internal/normalize"
	"github.com/pricescan/pricescan-scraper/internal/ratelimit"
	"github.com/pricescan/pricescan-scraper/internal/runner"
	"github.com/pricescan/pricescan-scraper/internal/scheduler"
	"github.com/pricescan/pricescan-scraper/internal/scrape"
	memorysink "github.com/pricescan/pricescan-scraper/internal/sink/memory"
	postgressink "github.com/pricescan/pricescan-scraper/internal/sink/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sink scrape.Sink
	if cfg.DB.DSN != "" {
		pgSink, err := postgressink.New(ctx, postgressink.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			logger.Fatal("postgres sink init failed", zap.Error(err))
		}
		defer pgSink.Close()
		sink = pgSink
		logger.Info("using postgres sink")
	} else {
		sink = memorysink.New()
		logger.Warn("db.dsn not set, observations are held in memory only")
	}

	clock := system.New()
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.HTTP.RateLimitRPS,
		DefaultBurst: cfg.HTTP.RateBurst,
	})
	fetcher := collyfetch.New(collyfetch.Config{
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      cfg.HTTP.Timeout,
		IgnoreRobots: cfg.HTTP.IgnoreRobots,
	}, limiter)
	normalizer := normalize.New(cfg.Currency, cfg.Correction)

	runnerCfg := runner.Config{
		RequestTimeout: cfg.HTTP.Timeout,
		UserAgent:      cfg.HTTP.UserAgent,
		DelayMin:       cfg.Delay.Min,
		DelayMax:       cfg.Delay.Max,
	}

	// Disabled sources get a runner too: the due-check keeps them off the
	// schedule, but a manual trigger can still exercise them.
	var runners []scheduler.SourceRunner
	for _, source := range cfg.Sources {
		extractor, err := selector.New(source.Selectors)
		if err != nil {
			if source.Enabled {
				logger.Fatal("extractor init failed",
					zap.String("source", source.ID), zap.Error(err))
			}
			logger.Warn("skipping source without usable selectors",
				zap.String("source", source.ID), zap.Error(err))
			continue
		}
		runners = append(runners, runner.New(
			source,
			fetcher,
			extractor,
			normalizer,
			sink,
			clock,
			runnerCfg,
			logger.Named("runner"),
		))
	}
	if len(runners) == 0 {
		logger.Warn("no enabled sources configured")
	}

	sched := scheduler.New(runners, clock, scheduler.Config{
		TickInterval:         cfg.Scheduler.TickInterval,
		MaxWorkers:           cfg.Scheduler.MaxWorkers,
		ShutdownGrace:        cfg.Scheduler.ShutdownGrace,
		MaxConsecutiveErrors: cfg.Scheduler.MaxConsecutiveErrors,
		ErrorCooldown:        cfg.Scheduler.ErrorCooldown,
	}, logger.Named("scheduler"))

	if err := sched.Start(); err != nil {
		logger.Fatal("scheduler start failed", zap.Error(err))
	}

	apiServer := api.NewServer(sched, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	sched.Stop()
	logger.Info("shutdown complete")
}
