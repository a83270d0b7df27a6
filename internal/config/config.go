package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	openaiembed "github.com/cloudwego/eino-ext/components/embedding/openai"
	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates all service configuration.
type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Session   SessionConfig
	Voice     VoiceConfig
	RateLimit RateLimitConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	llm, err := loadLLMConfig()
	if err != nil {
		return nil, err
	}

	embeddingCfg, err := loadEmbeddingConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	voice, err := loadVoiceConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		LLM:       llm,
		Embedding: embeddingCfg,
		Database:  loadDatabaseConfig(),
		Redis:     loadRedisConfig(),
		Session:   session,
		Voice:     voice,
		RateLimit: loadRateLimitConfig(),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr          string
	Environment   string
	LogFilePath   string
	AllowedOrigin string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "3001"
	}

	addr := port
	if !strings.Contains(port, ":") {
		if strings.Contains(port, " ") {
			return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		addr = ":" + port
	}

	return ServerConfig{
		Addr:          addr,
		Environment:   getEnvOrDefault("APP_ENV", "development"),
		LogFilePath:   getEnvOrDefault("LOG_FILE_PATH", "logs/portfolio-assistant.log"),
		AllowedOrigin: getEnvOrDefault("ALLOWED_ORIGIN", "*"),
	}, nil
}

// LLMConfig describes the completion provider.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	VoiceModel     string
	Temperature    *float64
	MaxTokens      *int
	MaxVoiceTokens *int
	Timeout        time.Duration
}

// Enabled reports whether the required credential is present.
func (c LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

// NewChatModel builds the streaming model used for text-chat generation.
func (c LLMConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	return c.newModel(ctx, c.ChatModel, c.MaxTokens)
}

// NewVoiceModel builds the model used for the voice path, capped much lower
// so answers stay speakable.
func (c LLMConfig) NewVoiceModel(ctx context.Context) (model.ChatModel, error) {
	return c.newModel(ctx, c.VoiceModel, c.MaxVoiceTokens)
}

func (c LLMConfig) newModel(ctx context.Context, name string, maxTokens *int) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("OPENAI_API_KEY is not configured")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	cfg := &openaimodel.ChatModelConfig{
		APIKey:      c.APIKey,
		BaseURL:     c.BaseURL,
		Model:       name,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Timeout:     c.Timeout,
	}

	return openaimodel.NewChatModel(ctx, cfg)
}

func loadLLMConfig() (LLMConfig, error) {
	temperature, err := parseOptionalFloatEnv("OPENAI_TEMPERATURE")
	if err != nil {
		return LLMConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("OPENAI_MAX_TOKENS")
	if err != nil {
		return LLMConfig{}, err
	}
	if maxTokens == nil {
		val := 800
		maxTokens = &val
	}

	maxVoiceTokens, err := parseOptionalIntEnv("OPENAI_MAX_VOICE_TOKENS")
	if err != nil {
		return LLMConfig{}, err
	}
	if maxVoiceTokens == nil {
		val := 150
		maxVoiceTokens = &val
	}

	timeout, err := parseOptionalIntEnv("OPENAI_TIMEOUT_SECONDS")
	if err != nil {
		return LLMConfig{}, err
	}
	timeoutSeconds := 60
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	return LLMConfig{
		APIKey:         strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		BaseURL:        getEnvOrDefault("OPENAI_BASE_URL", ""),
		ChatModel:      getEnvOrDefault("OPENAI_CHAT_MODEL", "gpt-4.1-mini"),
		VoiceModel:     getEnvOrDefault("OPENAI_VOICE_MODEL", "gpt-4o-mini"),
		Temperature:    temperature,
		MaxTokens:      maxTokens,
		MaxVoiceTokens: maxVoiceTokens,
		Timeout:        time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// EmbeddingConfig describes the embedding provider used for retrieval.
type EmbeddingConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	CacheSize  int
	CacheTTL   time.Duration
}

// NewEmbedder builds the query embedder. The chunk index is populated offline
// with the same model, so dimensionality here must match ingestion.
func (c EmbeddingConfig) NewEmbedder(ctx context.Context) (embedding.Embedder, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not configured")
	}

	dims := c.Dimensions
	return openaiembed.NewEmbedder(ctx, &openaiembed.EmbeddingConfig{
		APIKey:     c.APIKey,
		BaseURL:    c.BaseURL,
		Model:      c.Model,
		Dimensions: &dims,
	})
}

func loadEmbeddingConfig() (EmbeddingConfig, error) {
	dims, err := parseOptionalIntEnv("EMBEDDING_DIMENSIONS")
	if err != nil {
		return EmbeddingConfig{}, err
	}
	dimensions := 1536
	if dims != nil {
		dimensions = *dims
	}

	cacheSize, err := parseOptionalIntEnv("EMBEDDING_CACHE_SIZE")
	if err != nil {
		return EmbeddingConfig{}, err
	}
	size := 512
	if cacheSize != nil {
		size = *cacheSize
	}

	return EmbeddingConfig{
		APIKey:     strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		BaseURL:    getEnvOrDefault("OPENAI_BASE_URL", ""),
		Model:      getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		Dimensions: dimensions,
		CacheSize:  size,
		CacheTTL:   15 * time.Minute,
	}, nil
}

// DatabaseConfig describes the Postgres instance holding the chunk index.
type DatabaseConfig struct {
	DSN string
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		DSN: getEnvOrDefault("DATABASE_URL", "postgres://localhost:5432/portfolio?sslmode=disable"),
	}
}

// RedisConfig describes the store backing sessions and rate-limit counters.
type RedisConfig struct {
	URL string
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL: getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
	}
}

// SessionConfig governs history retention.
type SessionConfig struct {
	TTL           time.Duration
	HistoryWindow int
}

func loadSessionConfig() (SessionConfig, error) {
	ttl, err := parseOptionalIntEnv("SESSION_TTL_SECONDS")
	if err != nil {
		return SessionConfig{}, err
	}
	ttlSeconds := 3600
	if ttl != nil {
		ttlSeconds = *ttl
	}

	window, err := parseOptionalIntEnv("SESSION_HISTORY_WINDOW")
	if err != nil {
		return SessionConfig{}, err
	}
	// Last 10 turns, five exchanges.
	historyWindow := 10
	if window != nil && *window > 0 {
		historyWindow = *window
	}

	return SessionConfig{
		TTL:           time.Duration(ttlSeconds) * time.Second,
		HistoryWindow: historyWindow,
	}, nil
}

// VoiceConfig carries the speech-provider credentials used for short-lived
// token minting. Recognition and synthesis themselves run client-side.
type VoiceConfig struct {
	DeepgramAPIKey    string
	DeepgramProjectID string
	TokenTTL          time.Duration
	SafetyTimeout     time.Duration
	Enabled           bool
}

func loadVoiceConfig() (VoiceConfig, error) {
	ttl, err := parseOptionalIntEnv("VOICE_TOKEN_TTL_SECONDS")
	if err != nil {
		return VoiceConfig{}, err
	}
	ttlSeconds := 30
	if ttl != nil {
		ttlSeconds = *ttl
	}

	apiKey := strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY"))
	projectID := strings.TrimSpace(os.Getenv("DEEPGRAM_PROJECT_ID"))

	return VoiceConfig{
		DeepgramAPIKey:    apiKey,
		DeepgramProjectID: projectID,
		TokenTTL:          time.Duration(ttlSeconds) * time.Second,
		SafetyTimeout:     15 * time.Second,
		Enabled:           apiKey != "" && projectID != "",
	}, nil
}

// RateLimitConfig carries per-bucket fixed-window limits.
type RateLimitConfig struct {
	TokenPerMinute int
	ChatPerMinute  int
	VoicePerMinute int
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		TokenPerMinute: getEnvIntOrDefault("RATE_LIMIT_TOKEN", 5),
		ChatPerMinute:  getEnvIntOrDefault("RATE_LIMIT_CHAT", 20),
		VoicePerMinute: getEnvIntOrDefault("RATE_LIMIT_VOICE", 30),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return defaultValue
	}
	return val
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
