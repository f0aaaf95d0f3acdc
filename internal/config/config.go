// Package config provides configuration loading, validation, and defaults
// for the relay. Values come from config.yaml and can be overridden with
// RELAY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrConfiguration indicates invalid or unloadable configuration.
var ErrConfiguration = errors.New("configuration error")

// Config defines the application configuration for all components of the
// relay: HTTP server, logging, registry database, Gemini integration,
// Messenger delivery, and the maintenance scheduler.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Messenger MessengerConfig `mapstructure:"messenger"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"             validate:"required"`
	StaticDir       string        `mapstructure:"static_dir"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"     validate:"min=1s"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"    validate:"min=1s"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s"`
}

// LogConfig holds structured logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// DatabaseConfig holds the registry database settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// GeminiConfig holds settings for the generative backend. API keys are
// per-tenant and live in the bot registry, not here.
type GeminiConfig struct {
	Model       string        `mapstructure:"model"       validate:"required"`
	Temperature float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	Timeout     time.Duration `mapstructure:"timeout"     validate:"min=1s,max=10m"`
}

// MessengerConfig holds settings for the Messenger Send API.
type MessengerConfig struct {
	GraphBaseURL string        `mapstructure:"graph_base_url" validate:"required,url"`
	APIVersion   string        `mapstructure:"api_version"    validate:"required"`
	SendTimeout  time.Duration `mapstructure:"send_timeout"   validate:"min=1s,max=5m"`
}

// RelayConfig holds the reply pipeline settings shared by all tenants.
type RelayConfig struct {
	PersonaInstruction  string `mapstructure:"persona_instruction"   validate:"required"`
	FallbackReply       string `mapstructure:"fallback_reply"        validate:"required"`
	SentinelAccessToken string `mapstructure:"sentinel_access_token" validate:"required"`
	DefaultVerifyToken  string `mapstructure:"default_verify_token"  validate:"required"`
}

// SchedulerConfig holds scheduled maintenance task settings keyed by task name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig enables a single scheduled task and sets its cron schedule.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// Load loads and validates configuration from:
// 1. Default values
// 2. The config file at path (optional)
// 3. RELAY_* environment variables
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: failed to read config file: %v", ErrConfiguration, err)
		}
		slog.Info("configuration file not found, using defaults", "path", path)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	slog.Info("configuration loaded",
		"addr", cfg.Server.Addr,
		"log_level", cfg.Log.Level,
		"db_path", cfg.Database.Path,
		"gemini_model", cfg.Gemini.Model)

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.static_dir", "public")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.path", "registry.db")

	v.SetDefault("gemini.model", "gemini-pro")
	v.SetDefault("gemini.temperature", 1.0)
	v.SetDefault("gemini.timeout", 2*time.Minute)

	v.SetDefault("messenger.graph_base_url", "https://graph.facebook.com")
	v.SetDefault("messenger.api_version", "v12.0")
	v.SetDefault("messenger.send_timeout", 30*time.Second)

	v.SetDefault("relay.persona_instruction", "Your name is KORA AI. Reply with soft vibes:\n\nUser: ")
	v.SetDefault("relay.fallback_reply", "KORA AI is taking a break. Please try again later.")
	v.SetDefault("relay.sentinel_access_token", "DUMMY_TOKEN")
	v.SetDefault("relay.default_verify_token", "Hassan")

	v.SetDefault("scheduler.tasks.registry_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.registry_maintenance.schedule", "0 0 4 * * *")
}
