// Package config defines the static bootstrap configuration for the skindiff
// service and provides validation helpers. Runtime-mutable analysis
// parameters live in internal/settings; everything here requires a restart.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SKINDIFF_* environment
// variables.
type Config struct {
	Buff     BuffConfig     `toml:"buff"`
	Youpin   YoupinConfig   `toml:"youpin"`
	Analysis AnalysisConfig `toml:"analysis"`
	Storage  StorageConfig  `toml:"storage"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// BuffConfig holds Buff API endpoints and transport parameters.
type BuffConfig struct {
	BaseURL         string   `toml:"base_url"`
	RequestTimeout  duration `toml:"request_timeout"`
	MaxConnsPerHost int      `toml:"max_conns_per_host"`
	MaxRetries      int      `toml:"max_retries"`
}

// YoupinConfig holds YouPin API endpoints and transport parameters.
type YoupinConfig struct {
	BaseURL         string   `toml:"base_url"`
	RequestTimeout  duration `toml:"request_timeout"`
	MaxConnsPerHost int      `toml:"max_conns_per_host"`
	MaxRetries      int      `toml:"max_retries"`
}

// AnalysisConfig seeds the runtime-mutable settings on first boot.
type AnalysisConfig struct {
	DiffMin        float64  `toml:"diff_min"`
	DiffMax        float64  `toml:"diff_max"`
	BuffPriceMin   float64  `toml:"buff_price_min"`
	BuffPriceMax   float64  `toml:"buff_price_max"` // <= 0 means unbounded
	MaxOutput      int      `toml:"max_output"`
	BuffMaxPages   int      `toml:"buff_max_pages"`
	YoupinMaxPages int      `toml:"youpin_max_pages"`
	BuffPageSize   int      `toml:"buff_page_size"`
	YoupinPageSize int      `toml:"youpin_page_size"`
	BuffMinDelay   duration `toml:"buff_min_delay"`
	YoupinMinDelay duration `toml:"youpin_min_delay"`
	FullInterval   duration `toml:"full_interval"`
	IncrInterval   duration `toml:"incremental_interval"`
}

// StorageConfig holds the paths of the two persisted JSON files.
type StorageConfig struct {
	TokensFile string `toml:"tokens_file"`
	KeysFile   string `toml:"keys_file"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	BasePath    string   `toml:"base_path"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values the service runs with
// when no TOML file overrides them. The analysis defaults mirror the bands
// and caps the system shipped with.
func Defaults() Config {
	return Config{
		Buff: BuffConfig{
			BaseURL:         "https://buff.163.com",
			RequestTimeout:  duration{30 * time.Second},
			MaxConnsPerHost: 4,
			MaxRetries:      5,
		},
		Youpin: YoupinConfig{
			BaseURL:         "https://api.youpin898.com",
			RequestTimeout:  duration{30 * time.Second},
			MaxConnsPerHost: 4,
			MaxRetries:      5,
		},
		Analysis: AnalysisConfig{
			DiffMin:        3.0,
			DiffMax:        5.0,
			BuffPriceMin:   0,
			BuffPriceMax:   0,
			MaxOutput:      300,
			BuffMaxPages:   100,
			YoupinMaxPages: 50,
			BuffPageSize:   80,
			YoupinPageSize: 100,
			BuffMinDelay:   duration{1 * time.Second},
			YoupinMinDelay: duration{3 * time.Second},
			FullInterval:   duration{time.Hour},
			IncrInterval:   duration{5 * time.Minute},
		},
		Storage: StorageConfig{
			TokensFile: "data/tokens.json",
			KeysFile:   "data/interesting_keys.json",
		},
		Server: ServerConfig{
			Port:        8000,
			BasePath:    "/api",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"refresh_failed", "top_pair", "auth_failed"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Buff.BaseURL == "" {
		errs = append(errs, "buff: base_url must not be empty")
	}
	if c.Buff.MaxConnsPerHost < 1 {
		errs = append(errs, "buff: max_conns_per_host must be >= 1")
	}
	if c.Buff.MaxRetries < 1 {
		errs = append(errs, "buff: max_retries must be >= 1")
	}
	if c.Youpin.BaseURL == "" {
		errs = append(errs, "youpin: base_url must not be empty")
	}
	if c.Youpin.MaxConnsPerHost < 1 {
		errs = append(errs, "youpin: max_conns_per_host must be >= 1")
	}
	if c.Youpin.MaxRetries < 1 {
		errs = append(errs, "youpin: max_retries must be >= 1")
	}

	if c.Storage.TokensFile == "" {
		errs = append(errs, "storage: tokens_file must not be empty")
	}
	if c.Storage.KeysFile == "" {
		errs = append(errs, "storage: keys_file must not be empty")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Sprintf("server: base_path must start with '/', got %q", c.Server.BasePath))
	}

	// Analysis seeds are validated again by internal/settings; catch the
	// values that would make the first refresh nonsensical here.
	if c.Analysis.DiffMin < 0 || c.Analysis.DiffMax < c.Analysis.DiffMin {
		errs = append(errs, "analysis: diff band must satisfy 0 <= diff_min <= diff_max")
	}
	if c.Analysis.MaxOutput < 1 || c.Analysis.MaxOutput > 10000 {
		errs = append(errs, fmt.Sprintf("analysis: max_output must be 1-10000, got %d", c.Analysis.MaxOutput))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
