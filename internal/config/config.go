package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath names the config file when -config is not given.
	EnvConfigPath = "SUBEXPLAIN_CONFIG"

	defaultPort              = 18794
	defaultLogLevel          = "info"
	defaultRateLimit         = 120
	defaultMaxBodyBytes      = 1 << 20
	defaultJishoURL          = "https://jisho.org/api/v1/search/words"
	defaultDictionaryURL     = "https://api.dictionaryapi.dev/api/v2/entries/en"
	defaultMaxTokens         = 8
	defaultLookupConcurrency = 4
	defaultCacheTTL          = 10 * time.Minute
	defaultExplainTimeout    = 70 * time.Second
	defaultPrimaryHost       = "www.youtube.com/api/timedtext"
	defaultAlternateHost     = "video.google.com/timedtext"
)

type Config struct {
	Port         int      `yaml:"port"`
	LogLevel     string   `yaml:"log_level"`
	CORSOrigins  []string `yaml:"cors_origins"`
	AuthSecret   string   `yaml:"auth_secret"` // HS256 secret; empty disables auth
	RateLimit    int      `yaml:"rate_limit"`  // requests per minute per client IP
	MaxBodyBytes int64    `yaml:"max_body_bytes"`

	JishoURL          string        `yaml:"jisho_url"`
	DictionaryURL     string        `yaml:"dictionary_url"`
	MaxTokens         int           `yaml:"max_tokens"` // 0 disables the bound
	LookupConcurrency int           `yaml:"lookup_concurrency"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	ExplainTimeout    time.Duration `yaml:"explain_timeout"`

	PrimaryHost   string `yaml:"primary_host"`
	AlternateHost string `yaml:"alternate_host"`

	Bridge BridgeConfig `yaml:"bridge"`
}

func defaultConfig() *Config {
	return &Config{
		Port:              defaultPort,
		LogLevel:          defaultLogLevel,
		CORSOrigins:       []string{"*"},
		RateLimit:         defaultRateLimit,
		MaxBodyBytes:      defaultMaxBodyBytes,
		JishoURL:          defaultJishoURL,
		DictionaryURL:     defaultDictionaryURL,
		MaxTokens:         defaultMaxTokens,
		LookupConcurrency: defaultLookupConcurrency,
		CacheTTL:          defaultCacheTTL,
		ExplainTimeout:    defaultExplainTimeout,
		PrimaryHost:       defaultPrimaryHost,
		AlternateHost:     defaultAlternateHost,
		Bridge:            BridgeConfig{}.Normalized(),
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (or $SUBEXPLAIN_CONFIG), then environment overrides. An empty path with
// no env var skips the file.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
		if err := decode(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	applyEnv(cfg)
	cfg.Bridge = cfg.Bridge.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(content []byte, cfg *Config) error {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	return decoder.Decode(cfg)
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.AuthSecret = getEnv("AUTH_SECRET", cfg.AuthSecret)
	cfg.RateLimit = getEnvInt("RATE_LIMIT", cfg.RateLimit)
	cfg.MaxTokens = getEnvInt("MAX_TOKENS", cfg.MaxTokens)
	cfg.LookupConcurrency = getEnvInt("LOOKUP_CONCURRENCY", cfg.LookupConcurrency)

	// CORS origins: comma-separated list or "*"
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		cfg.CORSOrigins = make([]string, 0, len(origins))
		for _, o := range origins {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	b := &cfg.Bridge
	b.AIProvider = getEnv("AI_PROVIDER", b.AIProvider)
	b.HelperURL = getEnv("HELPER_URL", b.HelperURL)
	b.SessionKey = getEnv("SESSION_KEY", b.SessionKey)
	b.UserLanguage = getEnv("USER_LANGUAGE", b.UserLanguage)
	b.OpenAIAPIKey = getEnv("OPENAI_API_KEY", b.OpenAIAPIKey)
	b.OpenAIModel = getEnv("OPENAI_MODEL", b.OpenAIModel)
	b.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", b.OpenAIBaseURL)
	b.GeminiAPIKey = getEnv("GEMINI_API_KEY", b.GeminiAPIKey)
	b.GeminiModel = getEnv("GEMINI_MODEL", b.GeminiModel)
	b.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", b.AnthropicAPIKey)
	b.AnthropicModel = getEnv("ANTHROPIC_MODEL", b.AnthropicModel)
}

// Validate checks ranges. It does not require any API key: a missing key
// surfaces per request as a configuration error.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, errors.New("max_tokens must not be negative"))
	}
	if c.LookupConcurrency <= 0 {
		errs = append(errs, errors.New("lookup_concurrency must be positive"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("cache_ttl must be positive"))
	}
	if _, ok := ParseProvider(c.Bridge.AIProvider); !ok {
		errs = append(errs, fmt.Errorf("unknown ai_provider %q", c.Bridge.AIProvider))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// ErrLocalBackend is returned when the helper service would forward
// explanations to its own address.
var ErrLocalBackend = errors.New("helper_url points at this server; set ai_provider to openai, gemini or anthropic")

// ServerBridge returns the bridge settings the helper service explains with.
// The local bridge is only allowed when it targets another process.
func (c *Config) ServerBridge() (BridgeConfig, error) {
	b := c.Bridge.Normalized()
	if b.Provider() == ProviderLocal && c.isSelf(b.HelperURL) {
		return b, ErrLocalBackend
	}
	return b, nil
}

func (c *Config) isSelf(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "", "localhost", "127.0.0.1", "::1", "0.0.0.0":
	default:
		return false
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return port == strconv.Itoa(c.Port)
}
