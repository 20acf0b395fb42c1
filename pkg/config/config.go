// Package config loads application configuration from an optional yaml
// file with environment variable overrides (FLOWCORE_ prefix, dots
// replaced by underscores, e.g. FLOWCORE_SERVER_LISTEN_ADDR).
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Server struct {
		ListenAddr  string   `mapstructure:"listen_addr"`
		CORSOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"server"`
	DB struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"db"`
	Audit struct {
		RetentionDays int `mapstructure:"retention_days"`
	} `mapstructure:"audit"`
	Saga struct {
		MaxAttempts int `mapstructure:"max_attempts"`
		BaseDelayMS int `mapstructure:"base_delay_ms"`
	} `mapstructure:"saga"`
	Invokers struct {
		AgentBaseURL string `mapstructure:"agent_base_url"`
		ToolBaseURL  string `mapstructure:"tool_base_url"`
	} `mapstructure:"invokers"`
}

// AuditRetention returns the configured audit retention as a duration.
func (c *Config) AuditRetention() time.Duration {
	return time.Duration(c.Audit.RetentionDays) * 24 * time.Hour
}

// SagaBaseDelay returns the configured saga retry base delay.
func (c *Config) SagaBaseDelay() time.Duration {
	return time.Duration(c.Saga.BaseDelayMS) * time.Millisecond
}

// LoadConfig loads the configuration from a file and the environment.
// A missing config file is not an error; defaults and env vars apply.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("flowcore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// DATABASE_URL is the conventional name; keep honoring it.
	v.BindEnv("db.url", "FLOWCORE_DB_URL", "DATABASE_URL")

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3003"})
	v.SetDefault("db.url", "")
	v.SetDefault("audit.retention_days", 90)
	v.SetDefault("saga.max_attempts", 3)
	v.SetDefault("saga.base_delay_ms", 500)
	v.SetDefault("invokers.agent_base_url", "http://localhost:8090")
	v.SetDefault("invokers.tool_base_url", "http://localhost:8091")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
