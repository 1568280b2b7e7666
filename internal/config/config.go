package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration for the relay process.
type Config struct {
	Commander     string
	ModelProvider string

	TelegramAPIBase string
	PollTimeout     int
	BotName         string

	OpenAIAPIKey      string
	OpenAIChatCompURL string
	OpenAIModel       string
	APIName           string

	AnthropicAPIKey  string
	AnthropicModel   string
	AnthropicBaseURL string

	SystemPrompt      string
	MaxTokens         int
	Temperature       float64
	MaxMessageLength  int
	CompletionTimeout time.Duration

	HistoryMaxUsers int
	HistoryTTL      time.Duration
	MaxConcurrency  int

	DBPath   string
	Port     string
	LogLevel slog.Level

	DummyProviderScript  string
	DummyCommanderScript string
	DummySendScript      string
}

// Load reads the relay configuration. A .env file in the working directory,
// when present, is loaded first; variables already set in the environment
// win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return fromEnv()
}

func fromEnv() (Config, error) {
	p := &parser{}

	cfg := Config{
		Commander:     envOrDefault("RELAY_COMMANDER", "telegram"),
		ModelProvider: envOrDefault("RELAY_MODEL_PROVIDER", "openai"),

		PollTimeout: p.intOrDefault("TG_TIMEOUT", 30),
		BotName:     envOrDefault("RELAY_BOT_NAME", "Groq Telegram Bot"),

		OpenAIAPIKey:      firstEnv("GROQ_API_KEY", "OPENAI_API_KEY"),
		OpenAIChatCompURL: envOrDefault("OPENAI_CHAT_COMPLETIONS_URL", "https://api.groq.com/openai/v1/chat/completions"),
		OpenAIModel:       envOrDefault("OPENAI_MODEL", "llama-3.1-8b-instant"),
		APIName:           envOrDefault("RELAY_API_NAME", "Groq"),

		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:   envOrDefault("ANTHROPIC_MODEL", "claude-3-7-sonnet-latest"),
		AnthropicBaseURL: os.Getenv("ANTHROPIC_BASE_URL"),

		SystemPrompt:      os.Getenv("RELAY_SYSTEM_PROMPT"),
		MaxTokens:         p.intOrDefault("RELAY_MAX_TOKENS", 1000),
		Temperature:       p.floatOrDefault("RELAY_TEMPERATURE", 0.7),
		MaxMessageLength:  p.intOrDefault("RELAY_MAX_MESSAGE_LENGTH", 2000),
		CompletionTimeout: p.durationOrDefault("RELAY_COMPLETION_TIMEOUT", 60*time.Second),

		HistoryMaxUsers: p.intOrDefault("RELAY_HISTORY_MAX_USERS", 10000),
		HistoryTTL:      p.durationOrDefault("RELAY_HISTORY_TTL", 24*time.Hour),
		MaxConcurrency:  p.intOrDefault("RELAY_MAX_CONCURRENCY", 16),

		DBPath:   os.Getenv("RELAY_DB_PATH"),
		Port:     os.Getenv("PORT"),
		LogLevel: p.levelOrDefault("RELAY_LOG_LEVEL", slog.LevelInfo),

		DummyProviderScript:  envOrDefault("RELAY_DUMMY_PROVIDER_SCRIPT", "ok"),
		DummyCommanderScript: envOrDefault("RELAY_DUMMY_COMMANDER_SCRIPT", "ok"),
		DummySendScript:      envOrDefault("RELAY_DUMMY_COMMANDER_SEND_SCRIPT", "ok"),
	}
	if p.err != nil {
		return Config{}, p.err
	}

	switch cfg.Commander {
	case "telegram":
		token := os.Getenv("TELEGRAM_BOT_TOKEN")
		if token == "" {
			return Config{}, fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment when RELAY_COMMANDER=telegram")
		}
		cfg.TelegramAPIBase = fmt.Sprintf("https://api.telegram.org/bot%s", token)
	case "dummy":
	default:
		return Config{}, fmt.Errorf("unsupported RELAY_COMMANDER %q", cfg.Commander)
	}

	switch cfg.ModelProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("GROQ_API_KEY or OPENAI_API_KEY is required in environment when RELAY_MODEL_PROVIDER=openai")
		}
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return Config{}, fmt.Errorf("ANTHROPIC_API_KEY is required in environment when RELAY_MODEL_PROVIDER=anthropic")
		}
	case "dummy":
	default:
		return Config{}, fmt.Errorf("unsupported RELAY_MODEL_PROVIDER %q", cfg.ModelProvider)
	}

	if cfg.MaxTokens <= 0 {
		return Config{}, fmt.Errorf("RELAY_MAX_TOKENS must be positive, got %d", cfg.MaxTokens)
	}
	if cfg.MaxConcurrency <= 0 {
		return Config{}, fmt.Errorf("RELAY_MAX_CONCURRENCY must be positive, got %d", cfg.MaxConcurrency)
	}
	if cfg.CompletionTimeout <= 0 {
		return Config{}, fmt.Errorf("RELAY_COMPLETION_TIMEOUT must be positive, got %s", cfg.CompletionTimeout)
	}
	if cfg.HistoryMaxUsers < 0 {
		return Config{}, fmt.Errorf("RELAY_HISTORY_MAX_USERS must not be negative, got %d", cfg.HistoryMaxUsers)
	}
	return cfg, nil
}

// ModelName returns the model identifier of the selected provider.
func (c Config) ModelName() string {
	switch c.ModelProvider {
	case "anthropic":
		return c.AnthropicModel
	case "dummy":
		return "dummy"
	default:
		return c.OpenAIModel
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// parser keeps the first parse error so fromEnv can report it once.
type parser struct {
	err error
}

func (p *parser) fail(key, v string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
}

func (p *parser) intOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return n
}

func (p *parser) floatOrDefault(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return f
}

func (p *parser) durationOrDefault(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return d
}

func (p *parser) levelOrDefault(key string, fallback slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return l
}
