package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/loomchat/loomchat/internal/ai"
	"github.com/loomchat/loomchat/internal/chat"
	"github.com/loomchat/loomchat/internal/config"
	"github.com/loomchat/loomchat/internal/db"
	"github.com/loomchat/loomchat/internal/entitlements"
	"github.com/loomchat/loomchat/internal/httpapi"
	"github.com/loomchat/loomchat/internal/models"
	"github.com/loomchat/loomchat/internal/store/rabbitmq"
	"github.com/loomchat/loomchat/internal/store/redisstore"
	"github.com/loomchat/loomchat/internal/stream"
	"github.com/loomchat/loomchat/internal/tools"
	"github.com/loomchat/loomchat/internal/users"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	if err := gdb.AutoMigrate(
		&models.User{},
		&chat.Chat{},
		&chat.Message{},
		&chat.StreamRecord{},
	); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}

	// Redis is optional. Without it streams are resumable only while the
	// turn is still held in process memory.
	var replay stream.ReplayStore
	if cfg.RedisAddr != "" {
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.StreamRetention)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rds.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Warn("redis unreachable", "addr", cfg.RedisAddr, "err", err)
		} else {
			replay = rds
		}
	}
	mux := stream.NewMux(replay, cfg.StreamRetention, logger)
	if mux.Degraded() {
		logger.Warn("stream replay disabled, streams are resumable only in-process")
	}

	reg := ai.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m,
			cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})

	toolProvider, err := reg.Get(context.Background(), cfg.AIProvider, "")
	if err != nil {
		log.Fatalf("unsupported AI_PROVIDER=%q", cfg.AIProvider)
	}

	opts := chat.Options{
		Repo:         chat.NewRepo(gdb),
		Registry:     reg,
		Engine:       ai.NewEngine(cfg.MaxGenerationSteps),
		Mux:          mux,
		Entitlements: entitlements.Defaults(cfg.GuestDailyMessages, cfg.RegularDailyMessages),
		Tools:        tools.DefaultSet(toolProvider),
		Logger:       logger,
		ProviderName: cfg.AIProvider,
		TurnTimeout:  cfg.MaxTurnDuration,
	}

	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			logger.Warn("rabbitmq unreachable, chats keep placeholder titles", "err", err)
		} else {
			defer pub.Close()
			opts.Titles = pub
		}
	}

	svc := chat.NewService(opts)
	r := httpapi.NewRouter(cfg, svc, users.NewRepo(gdb), logger)

	logger.Info("server listening", "addr", cfg.HTTPAddr, "provider", cfg.AIProvider)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
