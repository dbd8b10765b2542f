// Package main is the entry point for the task reward engine.
// It serves the HTTP API and, when a token is configured, the Telegram bot.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"task-reward-engine/internal/api"
	"task-reward-engine/internal/bot"
	"task-reward-engine/internal/config"
	"task-reward-engine/internal/notify"
	"task-reward-engine/internal/pkg/db"
	"task-reward-engine/internal/pkg/lock"
	"task-reward-engine/internal/pricing"
	"task-reward-engine/internal/repository"
	"task-reward-engine/internal/repository/memstore"
	"task-reward-engine/internal/service"
	"task-reward-engine/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	configureLogging(&cfg.Log)

	log.Info().
		Str("storage", cfg.Storage.Driver).
		Str("requirement_mode", cfg.StopPoints.RequirementMode).
		Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	var (
		st          store.Store
		healthCheck func(*gin.Context) error
	)
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		log.Warn().Msg("Using in-memory storage; data is lost on restart")
		st = memstore.New()
	default:
		dbPool, err := db.NewPool(ctx, &cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer dbPool.Close()

		if err := repository.Migrate(ctx, dbPool.Pool); err != nil {
			log.Fatal().Err(err).Msg("Failed to run database migrations")
		}
		st = repository.NewStore(dbPool.Pool)
		healthCheck = func(c *gin.Context) error {
			return dbPool.HealthCheck(c.Request.Context(), 2*time.Second)
		}
	}

	// Telegram client first, so notifications can go through it.
	var (
		teleNotifier service.Notifier = service.LogNotifier{}
		telegramBot  *bot.Bot
	)
	teleBot, err := bot.NewTelebot(&cfg.Bot)
	if err != nil {
		log.Warn().Err(err).Msg("Telegram bot disabled")
	} else {
		teleNotifier = notify.NewTelegram(teleBot, cfg.Admin.IDs)
	}

	// Services
	opts := service.OptionsFromConfig(cfg)
	alloc := pricing.NewAllocator(pricing.NewRand(0), cfg.Pricing.SliceVariationPercent)
	stopPointService := service.NewStopPointService(st, opts, teleNotifier)
	walletService := service.NewWalletService(st, stopPointService, teleNotifier)
	taskService := service.NewTaskService(st, alloc, stopPointService, opts, teleNotifier)
	commissionService := service.NewCommissionService(st)
	rankingService := service.NewRankingService(st, time.Local)

	userLock := lock.NewUserLock()

	if teleBot != nil {
		telegramBot = bot.New(teleBot, &bot.Dependencies{
			Config:      cfg,
			Wallets:     walletService,
			Tasks:       taskService,
			StopPoints:  stopPointService,
			Commissions: commissionService,
			Rankings:    rankingService,
			UserLock:    userLock,
		})
		go telegramBot.Start()
	}

	// HTTP API
	gin.SetMode(cfg.Server.Mode)
	router := api.NewRouter(&api.Dependencies{
		Wallets:     walletService,
		Tasks:       taskService,
		StopPoints:  stopPointService,
		Commissions: commissionService,
		Rankings:    rankingService,
		UserLock:    userLock,
		LockTimeout: cfg.Lock.Timeout,
		AdminToken:  cfg.Server.AdminToken,
		HealthCheck: healthCheck,
	})
	if cfg.Server.AdminToken == "" {
		log.Warn().Msg("server.admin_token is empty; admin API is disabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server is starting...")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if telegramBot != nil {
		telegramBot.Stop()
	}
	log.Info().Msg("Stopped gracefully")
}

// configureLogging applies the configured level and output format.
func configureLogging(cfg *config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if !cfg.Pretty {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
