// Package config loads and validates the engine configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var validate = validator.New()

// SecuritySeed is one catalog entry loaded at startup.
type SecuritySeed struct {
	Ticker     string  `mapstructure:"ticker" validate:"required"`
	Kind       string  `mapstructure:"kind" validate:"required,oneof=STOCK CALL PUT"`
	Strike     string  `mapstructure:"strike"`
	Maturity   string  `mapstructure:"maturity"` // YYYY-MM-DD
	Drift      float64 `mapstructure:"drift"`
	Volatility float64 `mapstructure:"volatility"`
}

// Config is the full configuration surface consumed by the engine.
type Config struct {
	Server struct {
		Addr string `mapstructure:"addr" validate:"required"`
	} `mapstructure:"server"`

	Log struct {
		Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	} `mapstructure:"log"`

	Database struct {
		Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
		DSN    string `mapstructure:"dsn" validate:"required"`
	} `mapstructure:"database"`

	Valuation struct {
		RiskFreeRate    float64       `mapstructure:"risk_free_rate" validate:"gte=0,lt=1"`
		MinTickInterval time.Duration `mapstructure:"min_tick_interval" validate:"gt=0"`
		MaxTickInterval time.Duration `mapstructure:"max_tick_interval" validate:"gt=0,gtefield=MinTickInterval"`
		SummaryInterval time.Duration `mapstructure:"summary_interval" validate:"gt=0"`
		PositionsFile   string        `mapstructure:"positions_file"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	} `mapstructure:"valuation"`

	// InitialPrices maps stock ticker to its starting simulated price.
	InitialPrices map[string]float64 `mapstructure:"initial_prices"`

	// Securities seeds the catalog store at startup.
	Securities []SecuritySeed `mapstructure:"securities"`

	Cache struct {
		TickerCapacity int           `mapstructure:"ticker_capacity" validate:"gt=0"`
		TickerTTL      time.Duration `mapstructure:"ticker_ttl" validate:"gt=0"`
		KindCapacity   int           `mapstructure:"kind_capacity" validate:"gt=0"`
		KindTTL        time.Duration `mapstructure:"kind_ttl" validate:"gt=0"`
		AllCapacity    int           `mapstructure:"all_capacity" validate:"gt=0"`
		AllTTL         time.Duration `mapstructure:"all_ttl" validate:"gt=0"`
		PriceCapacity  int           `mapstructure:"price_capacity" validate:"gt=0"`
		PriceTTL       time.Duration `mapstructure:"price_ttl" validate:"gt=0"`
	} `mapstructure:"cache"`

	Events struct {
		QueueSize    int      `mapstructure:"queue_size" validate:"gt=0"`
		RedisAddr    string   `mapstructure:"redis_addr"`
		KafkaBrokers []string `mapstructure:"kafka_brokers"`
		KafkaTopic   string   `mapstructure:"kafka_topic"`
	} `mapstructure:"events"`
}

// RiskFreeRateDecimal returns the configured risk-free rate as a decimal.
func (c *Config) RiskFreeRateDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Valuation.RiskFreeRate)
}

// Load reads configuration from the given path (or the default search paths
// when empty), applies environment overrides and defaults, and validates the
// result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("QUANTFOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/quantfolio")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			// No file is fine; defaults plus env cover the minimum surface.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if cfg.Valuation.MaxTickInterval < cfg.Valuation.MinTickInterval {
		return nil, fmt.Errorf("max_tick_interval %s is below min_tick_interval %s",
			cfg.Valuation.MaxTickInterval, cfg.Valuation.MinTickInterval)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "quantfolio.db")
	v.SetDefault("valuation.risk_free_rate", 0.05)
	v.SetDefault("valuation.min_tick_interval", "500ms")
	v.SetDefault("valuation.max_tick_interval", "2s")
	v.SetDefault("valuation.summary_interval", "10s")
	v.SetDefault("valuation.shutdown_timeout", "10s")
	v.SetDefault("cache.ticker_capacity", 1024)
	v.SetDefault("cache.ticker_ttl", "30s")
	v.SetDefault("cache.kind_capacity", 16)
	v.SetDefault("cache.kind_ttl", "30s")
	v.SetDefault("cache.all_capacity", 4)
	v.SetDefault("cache.all_ttl", "30s")
	v.SetDefault("cache.price_capacity", 4096)
	v.SetDefault("cache.price_ttl", "5s")
	v.SetDefault("events.queue_size", 256)
}
