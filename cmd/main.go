package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"lifebot-chat/handler"
	"lifebot-chat/internal/config"
	"lifebot-chat/internal/integrations/backend"
	"lifebot-chat/internal/integrations/paramstore"
	"lifebot-chat/internal/repository"
	"lifebot-chat/internal/telemetry"
	"lifebot-chat/internal/usecase"
)

// staticParamPrefix names the escalation parameters served from config when
// no SSM prefix is set.
const staticParamPrefix = "/lifebot"

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "err", err)
	}
	cfg, err := config.Load(os.Getenv("LIFEBOT_CONFIG_FILE"))
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	onLambda := cfg.Lambda()
	logger := newLogger(cfg.Log.Level, onLambda)
	slog.SetDefault(logger)

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(cfg.Telemetry.ServiceName, logger)
		if err != nil {
			logger.Error("failed to initialize tracing", "err", err)
			os.Exit(1)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("tracer shutdown failed", "err", err)
			}
		}()
	}

	// ---- Clients ----
	sessions, params, paramPrefix, err := buildStores(ctx, cfg)
	if err != nil {
		logger.Error("failed to create stores", "err", err)
		os.Exit(1)
	}

	backendClient, err := backend.NewClient(cfg.Backend.BaseURL, backend.WithTimeout(cfg.Backend.Timeout), backend.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create backend client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	chatService, err := usecase.NewChatService(backendClient, sessions, params, paramPrefix, cfg.Session.ActionTTL, logger)
	if err != nil {
		logger.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService, logger)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	if onLambda {
		lambda.Start(h.Handle)
		return
	}
	if err := serve(h, cfg.Server.Port, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// buildStores picks DynamoDB and SSM when configured, and the in-memory
// session store with config-backed parameters otherwise.
func buildStores(ctx context.Context, cfg *config.Config) (usecase.SessionStore, usecase.ParamGetter, string, error) {
	var (
		sessions usecase.SessionStore = repository.NewMemory()
		params   usecase.ParamGetter
		prefix   = cfg.Params.Prefix
	)
	if prefix == "" {
		prefix = staticParamPrefix
		params = paramstore.Static{
			prefix + "/escalation/trigger_phrase":             cfg.Escalation.TriggerPhrase,
			prefix + "/escalation/correlation_window_seconds": strconv.Itoa(int(cfg.Escalation.Window / time.Second)),
		}
	}
	if cfg.Session.Table == "" && params != nil {
		return sessions, params, prefix, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, nil, "", fmt.Errorf("load AWS config: %w", err)
	}
	if cfg.Session.Table != "" {
		sessions, err = repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Session.Table)
		if err != nil {
			return nil, nil, "", err
		}
	}
	if params == nil {
		params, err = paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, nil, "", err
		}
	}
	return sessions, params, prefix, nil
}

func newLogger(level string, onLambda bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if onLambda {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func serve(h http.Handler, port int, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
