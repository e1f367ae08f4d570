package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Game     GameConfig     `mapstructure:"game"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// TelegramConfig holds bot credentials and delivery settings
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	AdminIDs       []int64       `mapstructure:"-"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// GameConfig holds the rules of the game
type GameConfig struct {
	StartBalance int64  `mapstructure:"start_balance"`
	MinPoints    int64  `mapstructure:"min_points"`
	MaxPoints    int64  `mapstructure:"max_points"`
	Timezone     string `mapstructure:"timezone"`
}

// EngineConfig holds settlement tuning
type EngineConfig struct {
	NotifyConcurrency int `mapstructure:"notify_concurrency"`
	MyBetsLimit       int `mapstructure:"my_bets_limit"`
}

// StorageConfig holds the SQLite location
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory is loaded first if present, so
// FORECAST_BOT_* overrides can live there.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	// FORECAST_BOT_TELEGRAM_BOT_TOKEN overrides telegram.bot_token
	v.SetEnvPrefix("FORECAST_BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// a YAML list or a "1,2" env string
	ids, err := ParseIDs(strings.Join(v.GetStringSlice("telegram.admin_ids"), ","))
	if err != nil {
		return nil, fmt.Errorf("invalid telegram.admin_ids: %w", err)
	}
	cfg.Telegram.AdminIDs = ids

	return &cfg, nil
}

// ParseIDs parses a comma or space separated list of chat ids.
func ParseIDs(raw string) ([]int64, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '[' || r == ']'
	})
	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a chat id", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.poll_timeout", "60s")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("game.start_balance", 1000)
	v.SetDefault("game.min_points", 1)
	v.SetDefault("game.max_points", 10000)
	v.SetDefault("game.timezone", "UTC")

	v.SetDefault("engine.notify_concurrency", 8)
	v.SetDefault("engine.my_bets_limit", 20)

	v.SetDefault("storage.db_path", "./data/forecastbot.db")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.Telegram.PollTimeout < time.Second {
		return fmt.Errorf("telegram.poll_timeout must be at least 1 second")
	}
	if c.Telegram.MaxRetries < 1 {
		return fmt.Errorf("telegram.max_retries must be at least 1")
	}
	if c.Telegram.RetryDelayBase < 0 {
		return fmt.Errorf("telegram.retry_delay_base must not be negative")
	}

	if c.Game.StartBalance < 0 {
		return fmt.Errorf("game.start_balance must not be negative")
	}
	if c.Game.MinPoints < 1 {
		return fmt.Errorf("game.min_points must be at least 1")
	}
	if c.Game.MaxPoints < c.Game.MinPoints {
		return fmt.Errorf("game.max_points must not be less than game.min_points")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("game.timezone is invalid: %w", err)
	}

	if c.Engine.NotifyConcurrency < 1 {
		return fmt.Errorf("engine.notify_concurrency must be at least 1")
	}
	if c.Engine.MyBetsLimit < 1 {
		return fmt.Errorf("engine.my_bets_limit must be at least 1")
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Location resolves game.timezone, used when showing bet times.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Game.Timezone)
}
