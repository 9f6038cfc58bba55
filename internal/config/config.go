// Package config provides Viper-based configuration loading for the session broker.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the websocket listener settings.
type ServerConfig struct {
	// Host is the bind address for the HTTP/websocket listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the listener.
	Port int `mapstructure:"port"`
	// ShutdownTimeout bounds graceful shutdown of in-flight connections.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GatewayConfig holds per-connection websocket tuning.
type GatewayConfig struct {
	// WriteTimeout is the per-message write deadline.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PongTimeout is how long a connection may go without answering a ping.
	PongTimeout time.Duration `mapstructure:"pong_timeout"`
	// PingInterval is the keepalive ping period; must be shorter than PongTimeout.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// SendBuffer is the per-connection outbound message buffer size.
	// A full buffer drops messages rather than blocking the broker.
	SendBuffer int `mapstructure:"send_buffer"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// ModeConfig declares one matchmaking mode.
type ModeConfig struct {
	// ID is the mode identifier clients send, e.g. "3v3".
	ID string `mapstructure:"id" yaml:"id"`
	// TeamsPerSide is the player count per side; required group size is twice this.
	TeamsPerSide int `mapstructure:"teams_per_side" yaml:"teams_per_side"`
}

// MatchmakingConfig holds the mode catalog settings.
type MatchmakingConfig struct {
	// CatalogPath optionally points at a YAML mode catalog file.
	// When set it replaces the inline Modes list.
	CatalogPath string `mapstructure:"catalog_path"`
	// Modes is the inline mode catalog used when CatalogPath is empty.
	Modes []ModeConfig `mapstructure:"modes"`
	// StatsInterval is the period of the operational stats log line;
	// zero disables it.
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Matchmaking MatchmakingConfig `mapstructure:"matchmaking"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateGateway(c.Gateway); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateMatchmaking(c.Matchmaking); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", s.Port))
	}
	if s.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateGateway(g GatewayConfig) error {
	var errs []string
	if g.WriteTimeout <= 0 {
		errs = append(errs, "gateway.write_timeout must be positive")
	}
	if g.PongTimeout <= 0 {
		errs = append(errs, "gateway.pong_timeout must be positive")
	}
	if g.PingInterval <= 0 {
		errs = append(errs, "gateway.ping_interval must be positive")
	} else if g.PingInterval >= g.PongTimeout {
		errs = append(errs, "gateway.ping_interval must be shorter than gateway.pong_timeout")
	}
	if g.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("gateway.send_buffer must be >= 1, got %d", g.SendBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateMatchmaking(m MatchmakingConfig) error {
	var errs []string
	if m.CatalogPath == "" && len(m.Modes) == 0 {
		errs = append(errs, "matchmaking.modes must not be empty when no catalog_path is set")
	}
	seen := make(map[string]bool, len(m.Modes))
	for _, mode := range m.Modes {
		if mode.ID == "" {
			errs = append(errs, "matchmaking.modes entries must have a non-empty id")
			continue
		}
		if seen[mode.ID] {
			errs = append(errs, fmt.Sprintf("matchmaking.modes contains duplicate id %q", mode.ID))
		}
		seen[mode.ID] = true
		if mode.TeamsPerSide < 1 {
			errs = append(errs, fmt.Sprintf("matchmaking mode %q must have teams_per_side >= 1, got %d", mode.ID, mode.TeamsPerSide))
		}
	}
	if m.StatsInterval < 0 {
		errs = append(errs, "matchmaking.stats_interval must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with SKIRMISH_ prefix
	v.SetEnvPrefix("SKIRMISH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("gateway.write_timeout", "10s")
	v.SetDefault("gateway.pong_timeout", "60s")
	v.SetDefault("gateway.ping_interval", "30s")
	v.SetDefault("gateway.send_buffer", 64)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("matchmaking.modes", []map[string]any{
		{"id": "1v1", "teams_per_side": 1},
		{"id": "2v2", "teams_per_side": 2},
		{"id": "3v3", "teams_per_side": 3},
	})
	v.SetDefault("matchmaking.stats_interval", "1m")
}
