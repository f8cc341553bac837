package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
)

var defaultModels = map[string]string{
	ProviderOpenRouter: "anthropic/claude-3.5-sonnet",
	ProviderAnthropic:  "claude-3-5-sonnet-latest",
}

type Config struct {
	Port     int
	LogLevel string

	LLMProvider      string
	OpenRouterAPIKey string
	OpenRouterURL    string
	AnthropicAPIKey  string
	Model            string
	AppReferer       string

	MaxVerificationRounds int
	TransformTimeout      time.Duration
	MaxExecutionSteps     uint64
	SessionTTL            time.Duration

	DatabaseURL string
	NatsURL     string
	NatsToken   string
	APIToken    string
}

// Load reads configuration from the environment. Variables in a .env file in
// the working directory are applied first without overriding the environment.
func Load() Config {
	_ = godotenv.Load()

	provider := strings.ToLower(envStr("LLM_PROVIDER", ProviderOpenRouter))
	return Config{
		Port:     envInt("RESHAPER_PORT", 8760),
		LogLevel: envStr("LOG_LEVEL", "info"),

		LLMProvider:      provider,
		OpenRouterAPIKey: envStr("OPENROUTER_API_KEY", ""),
		OpenRouterURL:    envStr("OPENROUTER_URL", "https://openrouter.ai/api/v1"),
		AnthropicAPIKey:  envStr("ANTHROPIC_API_KEY", ""),
		Model:            envStr("RESHAPER_MODEL", defaultModels[provider]),
		AppReferer:       envStr("APP_REFERER", "http://localhost:8760"),

		MaxVerificationRounds: envInt("MAX_VERIFICATION_ROUNDS", 2),
		TransformTimeout:      envDuration("TRANSFORM_TIMEOUT", 10*time.Second),
		MaxExecutionSteps:     uint64(envInt("MAX_EXECUTION_STEPS", 50_000_000)),
		SessionTTL:            envDuration("SESSION_TTL", 2*time.Hour),

		DatabaseURL: envStr("DATABASE_URL", ""),
		NatsURL:     envStr("NATS_URL", ""),
		NatsToken:   envStr("NATS_TOKEN", ""),
		APIToken:    envStr("RESHAPER_API_TOKEN", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
		warnInvalid(key, v, fallback)
	}
	return fallback
}

// envDuration accepts Go durations ("30s") or a plain number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	warnInvalid(key, v, fallback)
	return fallback
}

func warnInvalid(key, value string, fallback any) {
	slog.Warn("invalid config value, using default", "key", key, "value", value, "default", fallback)
}
