// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// ConfigPathEnv names an optional YAML file read before the environment
const ConfigPathEnv = "RATES_CONFIG_PATH"

// Config is the service configuration
type Config struct {
	Env      string `yaml:"env" env:"APP_ENV" env-default:"development"`
	HTTPAddr string `yaml:"http_addr" env:"HTTP_ADDR" env-default:":8080"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"INFO"`

	Storage StorageConfig `yaml:"storage"`
	Rates   RatesConfig   `yaml:"rates"`
}

// StorageConfig controls the refresh cycle history
type StorageConfig struct {
	DBPath         string `yaml:"db_path" env:"DB_PATH" env-default:"./data"`
	HistoryEnabled bool   `yaml:"history_enabled" env:"HISTORY_ENABLED" env-default:"true"`
}

// RatesConfig holds the rate endpoints and the retry settings shared by both domains
type RatesConfig struct {
	CryptoPricesURL  string        `yaml:"crypto_prices_url" env:"CRYPTO_PRICES_URL" env-default:"http://localhost:5000/get_crypto_prices"`
	ExchangeRatesURL string        `yaml:"exchange_rates_url" env:"EXCHANGE_RATES_URL" env-default:"http://localhost:5000/get_exchange_rates"`
	MaxRetries       int           `yaml:"max_retries" env:"RATE_MAX_RETRIES" env-default:"3"`
	BaseDelay        time.Duration `yaml:"base_delay" env:"RATE_BASE_DELAY" env-default:"1s"`
	RefreshInterval  time.Duration `yaml:"refresh_interval" env:"RATE_REFRESH_INTERVAL" env-default:"30s"`
	RequestTimeout   time.Duration `yaml:"request_timeout" env:"RATE_REQUEST_TIMEOUT" env-default:"10s"`
}

// Validate checks the bounds the rate providers rely on
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR must not be empty"))
	}
	if c.Rates.CryptoPricesURL == "" {
		errs = append(errs, errors.New("CRYPTO_PRICES_URL must not be empty"))
	}
	if c.Rates.ExchangeRatesURL == "" {
		errs = append(errs, errors.New("EXCHANGE_RATES_URL must not be empty"))
	}
	if c.Rates.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("RATE_MAX_RETRIES must be at least 1, got %d", c.Rates.MaxRetries))
	}
	if c.Rates.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("RATE_BASE_DELAY must not be negative, got %s", c.Rates.BaseDelay))
	}
	if c.Rates.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("RATE_REFRESH_INTERVAL must be positive, got %s", c.Rates.RefreshInterval))
	}
	if c.Rates.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RATE_REQUEST_TIMEOUT must be positive, got %s", c.Rates.RequestTimeout))
	}
	if c.Storage.HistoryEnabled && c.Storage.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH must be set when HISTORY_ENABLED is true"))
	}

	return errors.Join(errs...)
}

// Load reads an optional .env file, then the YAML file named by RATES_CONFIG_PATH
// when set, then the environment. Later sources override earlier ones.
func Load(envFilePath ...string) (*Config, error) {
	if len(envFilePath) > 0 && envFilePath[0] != "" {
		if err := godotenv.Load(envFilePath[0]); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFilePath[0], err)
		}
	} else {
		// a missing default .env is fine
		_ = godotenv.Load()
	}

	var cfg Config
	if path := os.Getenv(ConfigPathEnv); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to find config file: %w", err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// MustLoad is Load for process start-up; it exits on error
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
