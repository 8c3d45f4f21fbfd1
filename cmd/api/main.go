package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/azmth/internal/config"
	"github.com/zhouzirui/azmth/internal/handler"
	"github.com/zhouzirui/azmth/internal/handler/chat"
	"github.com/zhouzirui/azmth/internal/logging"
	"github.com/zhouzirui/azmth/internal/service/ai"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLogger, _ := logging.New("info", false)
		logging.OrNop(bootLogger).Fatal("failed to load configuration", zap.Error(err))
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		logger.Warn("invalid LOG_LEVEL, using info", zap.Error(err))
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("no .env file loaded, continuing with system environment variables only", zap.Error(envErr))
	}

	var (
		responder     chat.Responder = ai.Echo{}
		responderName                = "echo"
	)
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI, logger)
		if err != nil {
			logger.Warn("failed to initialize AI responder, falling back to echo", zap.Error(err))
		} else {
			responder, responderName = aiService, "ark"
			logger.Info("AI responder initialized", zap.String("model", cfg.AI.Model))
		}
	} else {
		logger.Info("ark credentials not configured, using echo responder")
	}

	router := handler.NewRouter(responder, responderName, logger)

	startServer(ctx, cfg.Server, router, logger)
}

// newLogger builds the server logger. An unusable level falls back to the
// info level production logger and reports why.
func newLogger(level string) (*zap.Logger, error) {
	logger, err := logging.New(level, false)
	if err == nil {
		return logger, nil
	}
	fallback, fallbackErr := logging.New("info", false)
	return logging.OrNop(fallback), errors.Join(err, fallbackErr)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("azmth chat endpoint listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
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
