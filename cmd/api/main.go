package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/asetia/portfolio-assistant/internal/config"
	"github.com/asetia/portfolio-assistant/internal/handler"
	voicehandler "github.com/asetia/portfolio-assistant/internal/handler/voice"
	"github.com/asetia/portfolio-assistant/internal/pkg/logger"
	chatservice "github.com/asetia/portfolio-assistant/internal/service/chat"
	"github.com/asetia/portfolio-assistant/internal/service/interpreter"
	"github.com/asetia/portfolio-assistant/internal/service/ratelimit"
	"github.com/asetia/portfolio-assistant/internal/service/retrieval"
	"github.com/asetia/portfolio-assistant/internal/service/session"
	"github.com/asetia/portfolio-assistant/internal/service/speech"
	voiceservice "github.com/asetia/portfolio-assistant/internal/service/voice"

	aiservice "github.com/asetia/portfolio-assistant/internal/service/ai"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.Server.LogFilePath, cfg.Server.Environment == "production")
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis backs sessions and rate limits. Both degrade gracefully, so a
	// missing Redis is a warning, not a fatal error.
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Warn("invalid redis url, sessions disabled", zap.Error(err))
		} else {
			rdb = redis.NewClient(opts)
			if err := rdb.Ping(ctx).Err(); err != nil {
				log.Warn("redis unreachable, continuing degraded", zap.Error(err))
			}
		}
	} else {
		log.Warn("REDIS_URL not set, sessions and rate limits disabled")
	}

	// Postgres holds the portfolio chunk index.
	var db *sqlx.DB
	if cfg.Database.DSN != "" {
		db, err = sqlx.Connect("postgres", cfg.Database.DSN)
		if err != nil {
			log.Warn("database unreachable, retrieval disabled", zap.Error(err))
			db = nil
		}
	} else {
		log.Warn("DATABASE_URL not set, retrieval disabled")
	}

	if !cfg.LLM.Enabled() {
		log.Fatal("OPENAI_API_KEY is required")
	}
	chatModel, err := cfg.LLM.NewChatModel(ctx)
	if err != nil {
		log.Fatal("failed to init chat model", zap.Error(err))
	}
	voiceModel, err := cfg.LLM.NewVoiceModel(ctx)
	if err != nil {
		log.Fatal("failed to init voice model", zap.Error(err))
	}

	embedder, err := cfg.Embedding.NewEmbedder(ctx)
	if err != nil {
		log.Fatal("failed to init embedder", zap.Error(err))
	}
	embedder = retrieval.WithLRUCache(embedder, cfg.Embedding.CacheSize, cfg.Embedding.CacheTTL, log)

	sessions := session.NewStore(rdb, cfg.Session, log)
	retriever := retrieval.NewRetriever(embedder, retrieval.NewPgIndex(db), log)
	interp := interpreter.NewService(chatModel, log)
	generator := aiservice.NewGenerator(chatModel, voiceModel, log)
	chatSvc := chatservice.NewService(interp, retriever, generator, sessions, log)
	limiter := ratelimit.NewLimiter(rdb, time.Minute, log)
	credentials := speech.NewCredentialService(cfg.Voice, log)

	voiceFactory := voicehandler.ControllerFactory(func(sink voiceservice.Sink) *voiceservice.Controller {
		return voiceservice.NewController(interp, retriever, generator, sessions, sink,
			voiceservice.SystemClock,
			voiceservice.Config{SafetyTimeout: cfg.Voice.SafetyTimeout},
			log)
	})

	router := handler.NewRouter(handler.Deps{
		ChatSvc:       chatSvc,
		Sessions:      sessions,
		Credentials:   credentials,
		Limiter:       limiter,
		VoiceFactory:  voiceFactory,
		VoiceEnabled:  cfg.Voice.Enabled,
		AllowedOrigin: cfg.Server.AllowedOrigin,
		RateLimits:    cfg.RateLimit,
		Log:           log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}

	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		_ = db.Close()
	}
}
