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

	"github.com/video-stream/subexplain/internal/api"
	"github.com/video-stream/subexplain/internal/apperr"
	"github.com/video-stream/subexplain/internal/auth"
	"github.com/video-stream/subexplain/internal/cache"
	"github.com/video-stream/subexplain/internal/config"
	"github.com/video-stream/subexplain/internal/dictionary"
	"github.com/video-stream/subexplain/internal/explain"
	"github.com/video-stream/subexplain/internal/fetch"
	"github.com/video-stream/subexplain/internal/logging"
	"github.com/video-stream/subexplain/internal/models"
	"github.com/video-stream/subexplain/internal/subtitle/resolver"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $"+config.EnvConfigPath+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	registry := explain.DefaultRegistry()
	bridge, err := cfg.ServerBridge()
	if errors.Is(err, config.ErrLocalBackend) {
		logger.Warn("explanations disabled", zap.Error(err))
		msg := err.Error()
		registry.Register(config.ProviderLocal, func(config.BridgeConfig, fetch.Doer) (explain.Provider, error) {
			return nil, apperr.Configuration("local bridge", msg)
		})
	} else if err != nil {
		return err
	}

	// Lookups and subtitle fetches are short; explanation calls are bounded
	// by explain_timeout instead.
	client := fetch.New(&http.Client{Timeout: 15 * time.Second}, fetch.WithLogger(logger))
	llmClient := fetch.New(&http.Client{}, fetch.WithLogger(logger))

	manager := explain.NewManager(llmClient,
		explain.WithRegistry(registry),
		explain.WithResultCache(cache.New[[]models.Item](cfg.CacheTTL)),
		explain.WithTimeout(cfg.ExplainTimeout),
		explain.WithManagerLogger(logger),
	)
	if kind, err := manager.Check(bridge); err != nil {
		logger.Warn("explain provider not ready", zap.String("provider", bridge.AIProvider), zap.Error(err))
	} else {
		logger.Info("explain provider", zap.String("provider", string(kind)))
	}

	svc := api.Services{
		Explain: manager,
		Dictionary: dictionary.New(client,
			dictionary.WithEndpoints(cfg.JishoURL, cfg.DictionaryURL),
			dictionary.WithMaxTokens(cfg.MaxTokens),
			dictionary.WithConcurrency(cfg.LookupConcurrency),
			dictionary.WithCache(cache.New[[]models.Item](cfg.CacheTTL)),
			dictionary.WithLogger(logger),
		),
		Resolver: resolver.New(client,
			resolver.WithHosts(cfg.PrimaryHost, cfg.AlternateHost),
			resolver.WithLogger(logger),
		),
		Models: explain.NewGeminiModelLister(client, bridge.GeminiBaseURL),
		JWT:    auth.NewJWTService(cfg.AuthSecret),
		Bridge: bridge,
		Logger: logger,
	}
	if svc.JWT == nil {
		logger.Warn("auth_secret not set, helper API is unauthenticated")
	}

	router, limiter := api.NewRouter(cfg, svc)
	defer limiter.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
