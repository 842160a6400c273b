// Package config loads the bot configuration from YAML, then lets an
// optional .env file and BOT_* environment variables override it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/crypto_dip_bot/internal/domain"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yaml"

type Config struct {
	Binance struct {
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
		Testnet   bool   `yaml:"testnet"`
		WSPrices  bool   `yaml:"ws_prices"`
	} `yaml:"binance"`
	Telegram struct {
		Enabled bool   `yaml:"enabled"`
		Token   string `yaml:"token"`
		ChatID  int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	Discord struct {
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"discord"`
	Storage struct {
		StatePath   string `yaml:"state_path"`
		JournalPath string `yaml:"journal_path"`
	} `yaml:"storage"`
	Engine struct {
		PollInterval         time.Duration `yaml:"poll_interval"`
		TrailingStopEnabled  bool          `yaml:"trailing_stop_enabled"`
		RestartRetryInterval time.Duration `yaml:"restart_retry_interval"`
	} `yaml:"engine"`
	Defaults domain.Parameters `yaml:"defaults"`
	Logging  struct {
		Level       string `yaml:"level"`
		JournalFile string `yaml:"journal_file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

// Defaults returns a configuration that runs against nothing: credentials
// still have to come from the file or the environment.
func Defaults() Config {
	var cfg Config
	cfg.Binance.WSPrices = true
	cfg.Storage.StatePath = "data/state.json"
	cfg.Storage.JournalPath = "data/journal.db"
	cfg.Engine.PollInterval = 2 * time.Second
	cfg.Engine.RestartRetryInterval = 30 * time.Second
	cfg.Defaults = domain.DefaultParameters()
	cfg.Logging.Level = "info"
	cfg.Logging.JournalFile = "logs/trades.log"
	cfg.Server.Port = 8080
	return cfg
}

// Load reads path on top of Defaults and applies the environment. A missing
// file is not an error. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Binance.APIKey, "BOT_BINANCE_API_KEY")
	setStr(&cfg.Binance.APISecret, "BOT_BINANCE_API_SECRET")
	setBool(&cfg.Binance.Testnet, "BOT_BINANCE_TESTNET")

	setStr(&cfg.Telegram.Token, "BOT_TELEGRAM_TOKEN")
	setInt64(&cfg.Telegram.ChatID, "BOT_TELEGRAM_CHAT_ID")
	if os.Getenv("BOT_TELEGRAM_TOKEN") != "" {
		cfg.Telegram.Enabled = true
	}

	setStr(&cfg.Discord.WebhookURL, "BOT_DISCORD_WEBHOOK_URL")

	setStr(&cfg.Storage.StatePath, "BOT_STATE_PATH")
	setStr(&cfg.Logging.Level, "BOT_LOG_LEVEL")
	setInt(&cfg.Server.Port, "BOT_SERVER_PORT")
}

func (c *Config) Validate() error {
	var errs []error
	if c.Binance.APIKey == "" || c.Binance.APISecret == "" {
		errs = append(errs, errors.New("binance api_key and api_secret are required"))
	}
	if c.Telegram.Enabled {
		if c.Telegram.Token == "" {
			errs = append(errs, errors.New("telegram token is required when telegram is enabled"))
		}
		if c.Telegram.ChatID == 0 {
			errs = append(errs, errors.New("telegram chat_id is required when telegram is enabled"))
		}
	}
	if c.Storage.StatePath == "" {
		errs = append(errs, errors.New("storage state_path is empty"))
	}
	if c.Engine.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("engine poll_interval must be positive, got %s", c.Engine.PollInterval))
	}
	if c.Engine.RestartRetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("engine restart_retry_interval must be positive, got %s", c.Engine.RestartRetryInterval))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port out of range: %d", c.Server.Port))
	}
	if err := c.Defaults.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("defaults: %w", err))
	}
	return errors.Join(errs...)
}

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
