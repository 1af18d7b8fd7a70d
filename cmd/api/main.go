package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mockchat/backend/internal/clock"
	"github.com/zhouzirui/mockchat/backend/internal/config"
	"github.com/zhouzirui/mockchat/backend/internal/handler"
	"github.com/zhouzirui/mockchat/backend/internal/handler/status"
	"github.com/zhouzirui/mockchat/backend/internal/service/chat"
	"github.com/zhouzirui/mockchat/backend/internal/service/reply"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := newLogger(cfg.Server)
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using process environment only")
	}

	// Ark is optional; without credentials the canned model answers.
	var chatModel model.BaseChatModel
	backend := "canned"
	if cfg.AI.Enabled() {
		arkModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize Ark model, falling back to canned replies")
		} else {
			chatModel = arkModel
			backend = "ark"
		}
	}

	replyCfg := reply.Config{
		MinLatency:  cfg.Reply.MinLatency,
		MaxLatency:  cfg.Reply.MaxLatency,
		FailureRate: cfg.Reply.FailureRate,
	}
	replies, err := reply.NewService(ctx, chatModel, replyCfg, clock.Real{}, nil, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize reply service")
	}
	logger.Info().
		Str("backend", backend).
		Dur("min_latency", replyCfg.MinLatency).
		Dur("max_latency", replyCfg.MaxLatency).
		Float64("failure_rate", replyCfg.FailureRate).
		Msg("reply service ready")

	router := handler.NewRouter(handler.Deps{
		Logger:       logger,
		Chat:         chat.NewService(),
		Replies:      replies,
		ReplyBackend: backend,
		Status:       status.New(cfg.Status, clock.Real{}, nil, logger),
		RateLimit:    cfg.RateLimit,
	})

	startServer(ctx, logger, cfg.Server, router)
}

func newLogger(serverCfg config.ServerConfig) zerolog.Logger {
	if serverCfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			Level(zerolog.DebugLevel).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Logger()
}

func startServer(ctx context.Context, logger zerolog.Logger, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", serverCfg.Addr).Str("env", serverCfg.Env).Msg("mock chat backend listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("server stopped")
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
