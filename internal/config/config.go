package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix   = "LIFEBOT_"
	defaultFile = "config.yaml"

	ModeAuto   = "auto"
	ModeLambda = "lambda"
	ModeHTTP   = "http"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Log        LogConfig        `koanf:"log"`
	Backend    BackendConfig    `koanf:"backend"`
	Session    SessionConfig    `koanf:"session"`
	Params     ParamsConfig     `koanf:"params"`
	Escalation EscalationConfig `koanf:"escalation"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

type ServerConfig struct {
	Port int    `koanf:"port"`
	Mode string `koanf:"mode"` // auto, lambda, http
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type BackendConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

type SessionConfig struct {
	// Table is the DynamoDB table for session state. Empty keeps state in memory.
	Table     string        `koanf:"table"`
	ActionTTL time.Duration `koanf:"action_ttl"`
}

type ParamsConfig struct {
	// Prefix is the SSM path holding escalation parameters. Empty serves them
	// from the escalation section instead.
	Prefix string `koanf:"prefix"`
}

type EscalationConfig struct {
	TriggerPhrase string        `koanf:"trigger_phrase"`
	Window        time.Duration `koanf:"window"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// Load reads path (config.yaml when empty) if it exists, then applies
// LIFEBOT_ environment overrides. Nested keys use "__" in variable names,
// e.g. LIFEBOT_BACKEND__BASE_URL.
func Load(path string) (*Config, error) {
	if path == "" {
		path = defaultFile
	}
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	defaults := map[string]any{
		"server.port":               8080,
		"server.mode":               ModeAuto,
		"log.level":                 "info",
		"backend.timeout":           "10s",
		"session.action_ttl":        "30s",
		"escalation.trigger_phrase": "flag this for human assistance",
		"escalation.window":         "60s",
		"telemetry.service_name":    "lifebot-chat",
	}
	for key, v := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, v); err != nil {
				return nil, fmt.Errorf("config: default %s: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return errors.New("config: backend.base_url is required")
	}
	switch c.Server.Mode {
	case ModeAuto, ModeLambda, ModeHTTP:
	default:
		return fmt.Errorf("config: unknown server.mode %q", c.Server.Mode)
	}
	// The window is served to the chat service in whole seconds.
	if c.Escalation.Window < time.Second || c.Escalation.Window%time.Second != 0 {
		return fmt.Errorf("config: escalation.window must be a whole number of seconds, got %s", c.Escalation.Window)
	}
	return nil
}

// Lambda reports whether the process should serve API Gateway events.
func (c *Config) Lambda() bool {
	switch c.Server.Mode {
	case ModeLambda:
		return true
	case ModeHTTP:
		return false
	}
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}
