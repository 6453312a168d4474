// Package config loads application configuration from config.yaml and the
// LEADGEN_ environment, with defaults for every knob.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Dedupe   DedupeConfig   `yaml:"dedupe" mapstructure:"dedupe"`
	Outreach OutreachConfig `yaml:"outreach" mapstructure:"outreach"`
	Batch    BatchConfig    `yaml:"batch" mapstructure:"batch"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// PipelineConfig configures qualification and stage handling.
type PipelineConfig struct {
	QualificationThreshold int    `yaml:"qualification_threshold" mapstructure:"qualification_threshold"`
	ReviewTierMin          int    `yaml:"review_tier_min" mapstructure:"review_tier_min"`
	MaxStageRetries        int    `yaml:"max_stage_retries" mapstructure:"max_stage_retries"`
	WeightsFile            string `yaml:"weights_file" mapstructure:"weights_file"`
}

// DedupeConfig configures duplicate resolution.
type DedupeConfig struct {
	DiscardWindowDays int `yaml:"discard_window_days" mapstructure:"discard_window_days"`
}

// OutreachConfig configures outreach cadence and archival.
type OutreachConfig struct {
	CooldownDays       int `yaml:"cooldown_days" mapstructure:"cooldown_days"`
	ResponseWindowDays int `yaml:"response_window_days" mapstructure:"response_window_days"`
	MaxFollowUps       int `yaml:"max_follow_ups" mapstructure:"max_follow_ups"`
	FollowUpDelayDays  int `yaml:"follow_up_delay_days" mapstructure:"follow_up_delay_days"`
}

// BatchConfig configures the analysis batch pass.
type BatchConfig struct {
	Size          int     `yaml:"size" mapstructure:"size"`
	Concurrency   int     `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CooldownWindow returns the outreach cooldown as a duration.
func (c OutreachConfig) CooldownWindow() time.Duration {
	return time.Duration(c.CooldownDays) * 24 * time.Hour
}

// ResponseWindow returns the response window as a duration.
func (c OutreachConfig) ResponseWindow() time.Duration {
	return time.Duration(c.ResponseWindowDays) * 24 * time.Hour
}

// FollowUpDelay returns the delay before the next follow-up as a duration.
func (c OutreachConfig) FollowUpDelay() time.Duration {
	return time.Duration(c.FollowUpDelayDays) * 24 * time.Hour
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "leadgen.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.qualification_threshold", 50)
	v.SetDefault("pipeline.review_tier_min", 35)
	v.SetDefault("pipeline.max_stage_retries", 3)
	v.SetDefault("dedupe.discard_window_days", 90)
	v.SetDefault("outreach.cooldown_days", 30)
	v.SetDefault("outreach.response_window_days", 14)
	v.SetDefault("outreach.max_follow_ups", 2)
	v.SetDefault("outreach.follow_up_delay_days", 3)
	v.SetDefault("batch.size", 100)
	v.SetDefault("batch.concurrency", 5)
	v.SetDefault("batch.rate_per_second", 20)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
