// Package config loads and validates all runtime configuration for the
// gateway.
//
// Configuration is read from environment variables (preferred for
// containers) or from a config.yaml file in the working directory.
// Environment variables take precedence over the YAML file; a .env file is
// loaded first when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 4002.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	LogLevel string

	// Env scopes Redis key prefixes and the log queue name
	// (log_queue_{env}). Default: "development".
	Env string

	// Hosted enables credit/subscription enforcement. Self-hosted
	// deployments leave it off.
	Hosted bool

	// APIURL and UIURL are used to construct absolute URLs.
	APIURL string
	UIURL  string

	// OriginURLs is the CORS allowlist. Empty allows all origins.
	OriginURLs []string

	// NoFallback forces x-no-fallback behavior globally.
	NoFallback bool

	// KeepAliveTimeout bounds idle keep-alive connections. Default: 60s.
	KeepAliveTimeout time.Duration

	// ShutdownGracePeriod is how long in-flight streams may drain on
	// shutdown. Default: 120s.
	ShutdownGracePeriod time.Duration

	// RPMLimit is the per-organization requests-per-minute cap. 0 disables.
	RPMLimit int

	// Redis connection settings. Host empty disables Redis-backed
	// subsystems (limiters fail open, queue drops); CACHE_MODE=redis is
	// then rejected by validation.
	Redis RedisConfig

	// ClickHouse receives drained log envelopes. Addr empty disables the
	// consumer.
	ClickHouse ClickHouseConfig

	// Stripe webhook verification.
	StripeWebhookSecret string

	// FirstTimeCreditBonusMultiplier configures the first-topup bonus;
	// ≤ 1 disables it.
	FirstTimeCreditBonusMultiplier float64

	// Cache controls the response cache.
	Cache CacheConfig

	// Provider credentials. A provider with no credential is simply not
	// registered.
	OpenAI     ProviderConfig
	Anthropic  ProviderConfig
	Google     ProviderConfig
	Cerebras   ProviderConfig
	Together   ProviderConfig
	DeepSeek   ProviderConfig
	XAI        ProviderConfig
	Groq       ProviderConfig
	ZAI        ProviderConfig
	Alibaba    ProviderConfig
	Inference  ProviderConfig
	Perplexity ProviderConfig
	Novita     ProviderConfig
	Nebius     ProviderConfig
	Moonshot   ProviderConfig
	NanoGPT    ProviderConfig
	Routeway   ProviderConfig
	CloudRift  ProviderConfig
	CanopyWave ProviderConfig

	// Google Vertex AI (ADC).
	VertexAI VertexAIConfig

	// AWS Bedrock.
	Bedrock BedrockConfig
}

// ProviderConfig holds configuration for a single bearer-key provider.
type ProviderConfig struct {
	// APIKey is the provider API key. Leave empty to disable the provider.
	APIKey string

	// BaseURL overrides the provider's default endpoint. Useful for mocks.
	BaseURL string
}

// VertexAIConfig holds Google Vertex AI configuration.
type VertexAIConfig struct {
	Project  string
	Location string
}

// BedrockConfig holds AWS Bedrock configuration.
type BedrockConfig struct {
	AccessKey    string
	SecretKey    string
	SessionToken string
	Region       string
	EndpointURL  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

// Addr renders host:port for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ClickHouseConfig holds the log sink connection.
type ClickHouseConfig struct {
	Addr     string
	Database string
	User     string
	Password string
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// Mode: "redis", "memory", or "none". Default: "memory".
	Mode string

	// TTL is the default time-to-live for cached responses. Default: 1h.
	TTL time.Duration

	// ExcludeExact lists model names that must never be cached.
	ExcludeExact []string

	// ExcludePatterns lists regexes matched against model names.
	ExcludePatterns []string
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 4002)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HOSTED", false)
	v.SetDefault("NO_FALLBACK", false)
	v.SetDefault("KEEP_ALIVE_TIMEOUT_S", 60)
	v.SetDefault("SHUTDOWN_GRACE_PERIOD_MS", 120_000)
	v.SetDefault("RPM_LIMIT", 0)
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("CACHE_MODE", "memory")
	v.SetDefault("CACHE_TTL", "1h")
	v.SetDefault("FIRST_TIME_CREDIT_BONUS_MULTIPLIER", 1.0)

	key := func(name string) ProviderConfig {
		return ProviderConfig{
			APIKey:  v.GetString(name + "_API_KEY"),
			BaseURL: v.GetString(name + "_BASE_URL"),
		}
	}

	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),
		Env:      strings.ToLower(v.GetString("APP_ENV")),
		Hosted:   v.GetBool("HOSTED"),

		APIURL:     v.GetString("API_URL"),
		UIURL:      v.GetString("UI_URL"),
		OriginURLs: splitList(v.GetString("ORIGIN_URLS")),
		NoFallback: v.GetBool("NO_FALLBACK"),

		KeepAliveTimeout:    time.Duration(v.GetInt("KEEP_ALIVE_TIMEOUT_S")) * time.Second,
		ShutdownGracePeriod: time.Duration(v.GetInt("SHUTDOWN_GRACE_PERIOD_MS")) * time.Millisecond,
		RPMLimit:            v.GetInt("RPM_LIMIT"),

		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
		},

		ClickHouse: ClickHouseConfig{
			Addr:     v.GetString("CLICKHOUSE_ADDR"),
			Database: v.GetString("CLICKHOUSE_DATABASE"),
			User:     v.GetString("CLICKHOUSE_USER"),
			Password: v.GetString("CLICKHOUSE_PASSWORD"),
		},

		StripeWebhookSecret:            v.GetString("STRIPE_WEBHOOK_SECRET"),
		FirstTimeCreditBonusMultiplier: v.GetFloat64("FIRST_TIME_CREDIT_BONUS_MULTIPLIER"),

		Cache: CacheConfig{
			Mode:            strings.ToLower(v.GetString("CACHE_MODE")),
			TTL:             v.GetDuration("CACHE_TTL"),
			ExcludeExact:    v.GetStringSlice("CACHE_EXCLUDE_EXACT"),
			ExcludePatterns: v.GetStringSlice("CACHE_EXCLUDE_PATTERNS"),
		},

		OpenAI:     key("OPENAI"),
		Anthropic:  key("ANTHROPIC"),
		Google:     ProviderConfig{APIKey: v.GetString("GOOGLE_API_KEY"), BaseURL: v.GetString("GOOGLE_BASE_URL")},
		Cerebras:   key("CEREBRAS"),
		Together:   key("TOGETHER"),
		DeepSeek:   key("DEEPSEEK"),
		XAI:        key("XAI"),
		Groq:       key("GROQ"),
		ZAI:        key("ZAI"),
		Alibaba:    key("ALIBABA"),
		Inference:  key("INFERENCE"),
		Perplexity: key("PERPLEXITY"),
		Novita:     key("NOVITA"),
		Nebius:     key("NEBIUS"),
		Moonshot:   key("MOONSHOT"),
		NanoGPT:    key("NANOGPT"),
		Routeway:   key("ROUTEWAY"),
		CloudRift:  key("CLOUDRIFT"),
		CanopyWave: key("CANOPYWAVE"),

		VertexAI: VertexAIConfig{
			Project:  v.GetString("VERTEX_PROJECT"),
			Location: v.GetString("VERTEX_LOCATION"),
		},

		Bedrock: BedrockConfig{
			AccessKey:    v.GetString("AWS_ACCESS_KEY_ID"),
			SecretKey:    v.GetString("AWS_SECRET_ACCESS_KEY"),
			SessionToken: v.GetString("AWS_SESSION_TOKEN"),
			Region:       v.GetString("AWS_REGION"),
			EndpointURL:  v.GetString("BEDROCK_ENDPOINT_URL"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if !c.AtLeastOneProviderKey() {
		return fmt.Errorf(
			"config: at least one provider credential is required " +
				"(OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY, CEREBRAS_API_KEY, " +
				"TOGETHER_API_KEY, DEEPSEEK_API_KEY, XAI_API_KEY, GROQ_API_KEY, ZAI_API_KEY, " +
				"ALIBABA_API_KEY, INFERENCE_API_KEY, PERPLEXITY_API_KEY, NOVITA_API_KEY, " +
				"NEBIUS_API_KEY, MOONSHOT_API_KEY, NANOGPT_API_KEY, ROUTEWAY_API_KEY, " +
				"CLOUDRIFT_API_KEY, CANOPYWAVE_API_KEY, VERTEX_PROJECT, or AWS_ACCESS_KEY_ID)",
		)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error", c.LogLevel)
	}

	switch c.Cache.Mode {
	case "redis", "memory", "none":
	default:
		return fmt.Errorf("config: invalid CACHE_MODE %q; must be one of: redis, memory, none", c.Cache.Mode)
	}
	if c.Cache.Mode == "redis" && c.Redis.Host == "" {
		return fmt.Errorf("config: REDIS_HOST is required when CACHE_MODE=redis")
	}

	if c.Hosted && c.Redis.Host == "" {
		return fmt.Errorf("config: REDIS_HOST is required in hosted mode (rate limits and the log queue)")
	}
	if c.ShutdownGracePeriod < 0 {
		return fmt.Errorf("config: SHUTDOWN_GRACE_PERIOD_MS must be ≥ 0")
	}

	return nil
}

// AtLeastOneProviderKey reports whether any provider credential is set.
func (c *Config) AtLeastOneProviderKey() bool {
	for _, p := range []ProviderConfig{
		c.OpenAI, c.Anthropic, c.Google, c.Cerebras, c.Together, c.DeepSeek,
		c.XAI, c.Groq, c.ZAI, c.Alibaba, c.Inference, c.Perplexity,
		c.Novita, c.Nebius, c.Moonshot, c.NanoGPT, c.Routeway, c.CloudRift,
		c.CanopyWave,
	} {
		if p.APIKey != "" {
			return true
		}
	}
	return c.VertexAI.Project != "" || c.Bedrock.AccessKey != ""
}

// splitList parses a comma-separated env value.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
