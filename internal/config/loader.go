package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SKINDIFF_* environment variable overrides, and
// returns the final Config. A missing file is not an error — the service is
// fully operable on defaults alone. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SKINDIFF_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators tweak deployments without touching the TOML file; none of
// these variables is required.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Buff.BaseURL, "SKINDIFF_BUFF_BASE_URL")
	setInt(&cfg.Buff.MaxConnsPerHost, "SKINDIFF_BUFF_MAX_CONNS_PER_HOST")
	setInt(&cfg.Buff.MaxRetries, "SKINDIFF_BUFF_MAX_RETRIES")
	setDuration(&cfg.Buff.RequestTimeout, "SKINDIFF_BUFF_REQUEST_TIMEOUT")

	setStr(&cfg.Youpin.BaseURL, "SKINDIFF_YOUPIN_BASE_URL")
	setInt(&cfg.Youpin.MaxConnsPerHost, "SKINDIFF_YOUPIN_MAX_CONNS_PER_HOST")
	setInt(&cfg.Youpin.MaxRetries, "SKINDIFF_YOUPIN_MAX_RETRIES")
	setDuration(&cfg.Youpin.RequestTimeout, "SKINDIFF_YOUPIN_REQUEST_TIMEOUT")

	setFloat64(&cfg.Analysis.DiffMin, "SKINDIFF_DIFF_MIN")
	setFloat64(&cfg.Analysis.DiffMax, "SKINDIFF_DIFF_MAX")
	setFloat64(&cfg.Analysis.BuffPriceMin, "SKINDIFF_BUFF_PRICE_MIN")
	setFloat64(&cfg.Analysis.BuffPriceMax, "SKINDIFF_BUFF_PRICE_MAX")
	setInt(&cfg.Analysis.MaxOutput, "SKINDIFF_MAX_OUTPUT")
	setInt(&cfg.Analysis.BuffMaxPages, "SKINDIFF_BUFF_MAX_PAGES")
	setInt(&cfg.Analysis.YoupinMaxPages, "SKINDIFF_YOUPIN_MAX_PAGES")
	setInt(&cfg.Analysis.BuffPageSize, "SKINDIFF_BUFF_PAGE_SIZE")
	setInt(&cfg.Analysis.YoupinPageSize, "SKINDIFF_YOUPIN_PAGE_SIZE")
	setDuration(&cfg.Analysis.BuffMinDelay, "SKINDIFF_BUFF_MIN_DELAY")
	setDuration(&cfg.Analysis.YoupinMinDelay, "SKINDIFF_YOUPIN_MIN_DELAY")
	setDuration(&cfg.Analysis.FullInterval, "SKINDIFF_FULL_INTERVAL")
	setDuration(&cfg.Analysis.IncrInterval, "SKINDIFF_INCREMENTAL_INTERVAL")

	setStr(&cfg.Storage.TokensFile, "SKINDIFF_TOKENS_FILE")
	setStr(&cfg.Storage.KeysFile, "SKINDIFF_KEYS_FILE")

	setInt(&cfg.Server.Port, "SKINDIFF_SERVER_PORT")
	setStr(&cfg.Server.BasePath, "SKINDIFF_SERVER_BASE_PATH")
	setStringSlice(&cfg.Server.CORSOrigins, "SKINDIFF_SERVER_CORS_ORIGINS")

	setStr(&cfg.Notify.TelegramToken, "SKINDIFF_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SKINDIFF_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SKINDIFF_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SKINDIFF_NOTIFY_EVENTS")

	setStr(&cfg.LogLevel, "SKINDIFF_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
