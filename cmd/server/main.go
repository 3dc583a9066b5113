package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/aibuddy/buddy-server/internal/api"
	"github.com/aibuddy/buddy-server/internal/auth"
	"github.com/aibuddy/buddy-server/internal/config"
	"github.com/aibuddy/buddy-server/internal/db"
	"github.com/aibuddy/buddy-server/internal/llm"
	"github.com/aibuddy/buddy-server/internal/media"
	"github.com/aibuddy/buddy-server/internal/relay"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.Database.Path))
	}
	defer database.Close()

	// A missing upstream credential is reported per request, not at startup,
	// so the rest of the API stays available.
	var completer relay.Completer
	upstream, err := llm.New(llm.Config{
		BaseURL:     cfg.Upstream.BaseURL,
		APIKey:      cfg.Upstream.APIKey,
		Model:       cfg.Upstream.Model,
		Temperature: cfg.Upstream.Temperature,
		MaxTokens:   cfg.Upstream.MaxTokens,
	})
	if err != nil {
		logger.Warn("upstream client unavailable", zap.Error(err))
	} else {
		completer = upstream
	}

	generator, err := media.New(media.Config{
		BaseURL:    cfg.Media.BaseURL,
		ImageKey:   cfg.Media.ImageAPIKey,
		VideoKey:   cfg.Media.VideoAPIKey,
		ImageModel: cfg.Media.ImageModel,
		VideoModel: cfg.Media.VideoModel,
		Timeout:    time.Duration(cfg.Media.TimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize media client", zap.Error(err))
	}

	relayService := relay.NewService(database, completer, generator, logger, relay.Options{
		HistoryWindow: cfg.Chat.HistoryWindow,
		SystemPrompt:  cfg.Chat.SystemPrompt,
	})

	handler := api.NewHandler(database, relayService, buildResolver(cfg), cfg, logger)
	routes := api.Chain(handler.Routes(),
		api.WithRecovery(logger),
		api.WithLogging(logger),
		api.WithCORS(),
		api.WithRateLimit(cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst, logger),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           routes,
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: chat responses are long-lived SSE streams.
	}

	logger.Info("starting server", zap.String("addr", cfg.Server.Addr))
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func buildResolver(cfg *config.Config) auth.Resolver {
	var chain auth.Chain
	if len(cfg.Auth.Tokens) > 0 {
		tokens := make(map[string]auth.Identity, len(cfg.Auth.Tokens))
		for token, email := range cfg.Auth.Tokens {
			tokens[token] = auth.Identity{Email: email}
		}
		chain = append(chain, auth.TokenResolver{Tokens: tokens})
	}
	if cfg.Auth.EmailHeader != "" {
		chain = append(chain, auth.HeaderResolver{
			EmailHeader: cfg.Auth.EmailHeader,
			NameHeader:  cfg.Auth.NameHeader,
		})
	}
	return chain
}
