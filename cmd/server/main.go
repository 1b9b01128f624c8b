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

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/questforge/quest-server-go/internal/broadcast"
	"github.com/questforge/quest-server-go/internal/config"
	"github.com/questforge/quest-server-go/internal/game"
	"github.com/questforge/quest-server-go/internal/narrator"
	"github.com/questforge/quest-server-go/internal/repository"
	"github.com/questforge/quest-server-go/internal/server"
	"github.com/questforge/quest-server-go/internal/session"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting quest server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	db, err := repository.NewDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.InitSchema(ctx); err != nil {
		logger.Fatal("failed to apply schema", zap.Error(err))
	}

	stats := db.Stats()
	logger.Info("database connection pool initialized",
		zap.Int32("total_conns", stats.TotalConns()),
		zap.Int32("idle_conns", stats.IdleConns()),
	)

	eventRepo := repository.NewEventRepository(db)
	charRepo := repository.NewCharacterRepository(db)
	sessionRepo := repository.NewSessionRepository(db)

	var cache broadcast.EventCache
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer client.Close()
		redisCache, err := broadcast.NewRedisEventCache(ctx, client)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		cache = redisCache
		logger.Info("redis event cache initialized", zap.String("addr", cfg.Redis.Addr()))
	} else {
		logger.Info("redis disabled, reconnect replay unavailable")
	}

	hub := broadcast.NewHub(cache, logger)

	bridge := narrator.NewBridge(
		narrator.NewClient(narrator.ClientConfig{
			BaseURL:     cfg.Narrator.BaseURL,
			APIKey:      cfg.Narrator.APIKey,
			Model:       cfg.Narrator.Model,
			Temperature: cfg.Narrator.Temperature,
			MaxTokens:   cfg.Narrator.MaxTokens,
		}, logger),
		cfg.Narrator.Timeout,
		logger,
	)
	logger.Info("narrator bridge initialized",
		zap.String("model", cfg.Narrator.Model),
		zap.Duration("timeout", cfg.Narrator.Timeout),
	)

	registry := session.NewRegistry(sessionRepo, session.Config{
		JoinCodeLength:  cfg.Session.JoinCodeLength,
		BcryptCost:      cfg.Session.BcryptCost,
		MaxParticipants: cfg.Session.MaxParticipants,
	}, logger)

	manager := game.NewManager(game.ManagerConfig{
		Adjudicator:  bridge,
		Audit:        eventRepo,
		Sink:         charRepo,
		HistoryLimit: cfg.Session.HistoryLimit,
		Logger:       logger,
	})

	srv := server.NewServer(registry, manager, charRepo, eventRepo, hub, logger)
	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", zap.String("address", cfg.Server.Address))
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(serveErr))
		}
	}()

	logger.Info("quest server initialized",
		zap.String("version", version),
		zap.String("address", cfg.Server.Address),
	)

	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	logger.Info("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	for _, sessionID := range manager.ActiveSessions() {
		if err := manager.End(shutdownCtx, sessionID); err != nil {
			logger.Error("failed to end session during shutdown",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
		hub.CloseSession(sessionID)
	}

	logger.Info("quest server stopped")
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
