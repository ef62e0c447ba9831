package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds client and sandbox configuration values.
type Config struct {
	GatewayURL        string        `mapstructure:"gateway_url" yaml:"gateway_url"`
	APIBase           string        `mapstructure:"api_base" yaml:"api_base"`
	TokenPath         string        `mapstructure:"token_path" yaml:"token_path"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	CommandPrefix     string        `mapstructure:"command_prefix" yaml:"command_prefix"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogPath           string        `mapstructure:"log_path" yaml:"log_path"`
	Sandbox           SandboxConfig `mapstructure:"sandbox" yaml:"sandbox"`
}

// SandboxConfig configures the local development server.
type SandboxConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	DBPath            string        `mapstructure:"db_path" yaml:"db_path"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns configuration pointing at the public Plugify service.
func Default() Config {
	return Config{
		GatewayURL:        "wss://api.plugify.cf/",
		APIBase:           "https://api.plugify.cf/v2/",
		TokenPath:         "token",
		HeartbeatInterval: 10 * time.Second,
		RequestTimeout:    15 * time.Second,
		CommandPrefix:     ".",
		LogLevel:          "info",
		LogPath:           "plugterm.log",
		Sandbox: SandboxConfig{
			Addr:              "127.0.0.1:8787",
			DBPath:            ":memory:",
			JWTSecret:         "sandbox-secret-change-me",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.GatewayURL != "" {
		c.GatewayURL = other.GatewayURL
	}
	if other.APIBase != "" {
		c.APIBase = other.APIBase
	}
	if other.TokenPath != "" {
		c.TokenPath = other.TokenPath
	}
	if other.HeartbeatInterval != 0 {
		c.HeartbeatInterval = other.HeartbeatInterval
	}
	if other.RequestTimeout != 0 {
		c.RequestTimeout = other.RequestTimeout
	}
	if other.CommandPrefix != "" {
		c.CommandPrefix = other.CommandPrefix
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogPath != "" {
		c.LogPath = other.LogPath
	}
	if other.Sandbox.Addr != "" {
		c.Sandbox.Addr = other.Sandbox.Addr
	}
	if other.Sandbox.DBPath != "" {
		c.Sandbox.DBPath = other.Sandbox.DBPath
	}
	if other.Sandbox.JWTSecret != "" {
		c.Sandbox.JWTSecret = other.Sandbox.JWTSecret
	}
	if other.Sandbox.ReadHeaderTimeout != 0 {
		c.Sandbox.ReadHeaderTimeout = other.Sandbox.ReadHeaderTimeout
	}
	if other.Sandbox.ShutdownTimeout != 0 {
		c.Sandbox.ShutdownTimeout = other.Sandbox.ShutdownTimeout
	}
}

// Validate checks the client settings.
func (c Config) Validate() error {
	var errs []error
	if err := checkURL(c.GatewayURL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("gateway_url: %w", err))
	}
	if err := checkURL(c.APIBase, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("api_base: %w", err))
	}
	if c.TokenPath == "" {
		errs = append(errs, errors.New("token_path: must be set"))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat_interval: must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout: must be positive"))
	}
	if c.CommandPrefix == "" {
		errs = append(errs, errors.New("command_prefix: must be set"))
	}
	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("want %v url with host, got %q", schemes, raw)
}
