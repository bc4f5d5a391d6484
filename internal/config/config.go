// Package config provides YAML configuration loading with validation and
// environment variable overrides for the inference gateway.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`
	Admin     AdminConfig     `yaml:"admin" json:"admin"`
	Upstream  UpstreamConfig  `yaml:"upstream" json:"upstream"`
	Breaker   BreakerConfig   `yaml:"circuit_breaker" json:"circuit_breaker"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies" json:"trusted_proxies"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	TLS             TLSConfig     `yaml:"tls" json:"tls"`
}

// TLSConfig holds TLS termination settings.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	CertFile   string `yaml:"cert_file" json:"cert_file"`
	KeyFile    string `yaml:"key_file" json:"key_file"`
	MinVersion string `yaml:"min_version" json:"min_version"` // "1.2" or "1.3"; default: "1.2"
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Output     string `yaml:"output" json:"output"`             // "stdout", "stderr", or file path; default: "stdout"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`   // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`   // number of rotated files to keep; default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"` // max days to retain rotated files; default: 30
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`           // default: false
	IPAllowlist []string `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
}

// RateLimitConfig holds the per-client rate limiter settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size"`
}

// AuthConfig holds JWT authentication settings.
type AuthConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	JWTSecret string   `yaml:"jwt_secret" json:"jwt_secret"`
	Issuer    string   `yaml:"issuer" json:"issuer"`
	Audience  string   `yaml:"audience" json:"audience"`
	Scopes    []string `yaml:"scopes" json:"scopes"`
}

// UpstreamConfig holds the model provider and retry policy settings.
type UpstreamConfig struct {
	// Provider selects the upstream implementation: "mock" or "http".
	Provider string `yaml:"provider" json:"provider"`
	// URL is the model endpoint; required when provider is "http".
	URL string `yaml:"url" json:"url"`
	// CallTimeout bounds each individual upstream attempt.
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout"`
	// MaxRetryAttempts is the number of extra attempts after the first.
	// Pointer so an explicit 0 (no retries) survives defaulting.
	MaxRetryAttempts *int `yaml:"max_retry_attempts" json:"max_retry_attempts"`
	// BackoffBase is the first inter-attempt sleep; doubles per retry.
	BackoffBase time.Duration `yaml:"backoff_base" json:"backoff_base"`
	// LatencyBudget is the default end-to-end budget; slower primary
	// results are replaced by the fallback.
	LatencyBudget time.Duration `yaml:"latency_budget" json:"latency_budget"`
	// MaxPromptChars caps accepted prompt length in runes; 0 disables.
	MaxPromptChars int `yaml:"max_prompt_chars" json:"max_prompt_chars"`
}

// Retries returns the configured extra-attempt count (default 2).
func (u UpstreamConfig) Retries() int {
	if u.MaxRetryAttempts == nil {
		return 2
	}
	return *u.MaxRetryAttempts
}

// BreakerConfig holds circuit breaker settings for the upstream provider.
type BreakerConfig struct {
	Window           time.Duration `yaml:"window" json:"window"`
	FailureThreshold float64       `yaml:"failure_threshold" json:"failure_threshold"`
	MinCalls         int           `yaml:"min_calls" json:"min_calls"`
	HalfOpenAfter    time.Duration `yaml:"half_open_after" json:"half_open_after"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl" json:"ttl"`
	MaxEntries int           `yaml:"max_entries" json:"max_entries"`
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution and LLM_* overrides, sets defaults, and validates
// the result. Warnings are stored on cfg.Warnings (goroutine-safe, no
// package-level state).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	cfg.Warnings = applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	// Logging defaults
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}

	// TLS defaults
	if cfg.Server.TLS.Enabled && cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = "1.2"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Upstream attempts can take the full call timeout across retries;
		// the write timeout must comfortably exceed that.
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1048576 // 1 MB
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 100
	}
	if cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = 50
	}

	// Upstream defaults
	up := &cfg.Upstream
	if up.Provider == "" {
		up.Provider = "mock"
	}
	if up.CallTimeout == 0 {
		up.CallTimeout = 8 * time.Second
	}
	if up.BackoffBase == 0 {
		up.BackoffBase = 200 * time.Millisecond
	}
	if up.LatencyBudget == 0 {
		up.LatencyBudget = 2500 * time.Millisecond
	}
	if up.MaxPromptChars == 0 {
		up.MaxPromptChars = 4000
	}

	// Circuit breaker defaults
	cb := &cfg.Breaker
	if cb.Window == 0 {
		cb.Window = 30 * time.Second
	}
	if cb.FailureThreshold == 0 {
		cb.FailureThreshold = 0.5
	}
	if cb.MinCalls == 0 {
		cb.MinCalls = 6
	}
	if cb.HalfOpenAfter == 0 {
		cb.HalfOpenAfter = 15 * time.Second
	}

	// Cache defaults
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 60 * time.Second
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 512
	}
}

// applyEnvOverrides applies the LLM_* environment variables on top of the
// file-derived configuration. A malformed value is skipped with a warning
// rather than failing the load.
func applyEnvOverrides(cfg *Config) []string {
	var warnings []string

	warn := func(name, raw string) {
		warnings = append(warnings, fmt.Sprintf("ignoring malformed %s=%q", name, raw))
	}

	envSecs := func(name string, dst *time.Duration) {
		raw, ok := os.LookupEnv(name)
		if !ok {
			return
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			warn(name, raw)
			return
		}
		*dst = time.Duration(v * float64(time.Second))
	}
	envMillis := func(name string, dst *time.Duration) {
		raw, ok := os.LookupEnv(name)
		if !ok {
			return
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			warn(name, raw)
			return
		}
		*dst = time.Duration(v) * time.Millisecond
	}
	envInt := func(name string, dst *int, minimum int) {
		raw, ok := os.LookupEnv(name)
		if !ok {
			return
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < minimum {
			warn(name, raw)
			return
		}
		*dst = v
	}

	envSecs("LLM_TIMEOUT_SECS", &cfg.Upstream.CallTimeout)
	envMillis("LLM_RETRY_BACKOFF_BASE_MS", &cfg.Upstream.BackoffBase)
	envMillis("LLM_LATENCY_BUDGET_MS", &cfg.Upstream.LatencyBudget)

	if raw, ok := os.LookupEnv("LLM_RETRY_MAX_ATTEMPTS"); ok {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			warn("LLM_RETRY_MAX_ATTEMPTS", raw)
		} else {
			cfg.Upstream.MaxRetryAttempts = &v
		}
	}

	envSecs("LLM_CB_WINDOW_SECONDS", &cfg.Breaker.Window)
	envSecs("LLM_CB_HALFOPEN_AFTER_SECONDS", &cfg.Breaker.HalfOpenAfter)
	envInt("LLM_CB_MIN_CALLS", &cfg.Breaker.MinCalls, 1)
	if raw, ok := os.LookupEnv("LLM_CB_FAILURE_THRESHOLD"); ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 || v > 1 {
			warn("LLM_CB_FAILURE_THRESHOLD", raw)
		} else {
			cfg.Breaker.FailureThreshold = v
		}
	}

	envSecs("LLM_CACHE_TTL_SECONDS", &cfg.Cache.TTL)
	envInt("LLM_CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries, 1)

	return warnings
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}
	if cfg.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("rate_limit.burst_size must be positive")
	}
	if cfg.Auth.Enabled {
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
		}
		if cfg.Auth.Issuer == "" {
			return fmt.Errorf("auth.issuer is required when auth is enabled")
		}
		if cfg.Auth.Audience == "" {
			return fmt.Errorf("auth.audience is required when auth is enabled")
		}
	}

	// Upstream validation
	up := cfg.Upstream
	switch up.Provider {
	case "mock":
	case "http":
		if up.URL == "" {
			return fmt.Errorf("upstream.url is required when provider is \"http\"")
		}
		u, err := url.Parse(up.URL)
		if err != nil {
			return fmt.Errorf("upstream.url: invalid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("upstream.url: scheme must be http or https, got %q", u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("upstream.url: host is required")
		}
	default:
		return fmt.Errorf("upstream.provider must be \"mock\" or \"http\", got %q", up.Provider)
	}
	if up.CallTimeout <= 0 {
		return fmt.Errorf("upstream.call_timeout must be positive")
	}
	if up.Retries() < 0 {
		return fmt.Errorf("upstream.max_retry_attempts must be non-negative")
	}
	if up.BackoffBase <= 0 {
		return fmt.Errorf("upstream.backoff_base must be positive")
	}
	if up.LatencyBudget <= 0 {
		return fmt.Errorf("upstream.latency_budget must be positive")
	}
	if up.MaxPromptChars < 0 {
		return fmt.Errorf("upstream.max_prompt_chars must be non-negative")
	}

	// Circuit breaker validation
	cb := cfg.Breaker
	if cb.Window <= 0 {
		return fmt.Errorf("circuit_breaker.window must be positive")
	}
	if cb.FailureThreshold <= 0 || cb.FailureThreshold > 1 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be between 0 (exclusive) and 1 (inclusive)")
	}
	if cb.MinCalls < 1 {
		return fmt.Errorf("circuit_breaker.min_calls must be positive")
	}
	if cb.HalfOpenAfter <= 0 {
		return fmt.Errorf("circuit_breaker.half_open_after must be positive")
	}

	// Cache validation
	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if cfg.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.max_entries must be positive")
	}

	// TLS validation
	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
		if cfg.Server.TLS.MinVersion != "1.2" && cfg.Server.TLS.MinVersion != "1.3" {
			return fmt.Errorf("server.tls.min_version must be \"1.2\" or \"1.3\", got %q", cfg.Server.TLS.MinVersion)
		}
	}

	// Logging validation
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	// Admin validation
	if cfg.Admin.Enabled {
		if len(cfg.Admin.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range cfg.Admin.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
	}

	return nil
}
