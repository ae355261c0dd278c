// Package config loads daemon configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// LocalPlayer is the wallet address this engine acts for. Required at
	// daemon startup; intents are submitted on its behalf.
	LocalPlayer string `yaml:"local_player"`

	Transport struct {
		Mode string `yaml:"mode"` // "ws" or "nats"
		URL  string `yaml:"url"`
		NATS struct {
			URL      string `yaml:"url"`
			Stream   string `yaml:"stream"`
			Consumer string `yaml:"consumer"`
		} `yaml:"nats"`
	} `yaml:"transport"`

	Wallet struct {
		BridgeURL string `yaml:"bridge_url"`
	} `yaml:"wallet"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Engine struct {
		BreakerThreshold int           `yaml:"breaker_threshold"`
		BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
		StaleThreshold   time.Duration `yaml:"stale_threshold"`
		SelectionWindow  time.Duration `yaml:"selection_window"`
		ExpiryWindow     time.Duration `yaml:"expiry_window"`
	} `yaml:"engine"`

	Gateway struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"gateway"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	var cfg Config
	cfg.LogLevel = "info"
	cfg.Transport.Mode = "ws"
	cfg.Transport.URL = "ws://localhost:9090/events"
	cfg.Transport.NATS.URL = "nats://localhost:4222"
	cfg.Transport.NATS.Stream = "FLIP_EVENTS"
	cfg.Transport.NATS.Consumer = "flipsync"
	cfg.Wallet.BridgeURL = "http://localhost:9091"
	cfg.Storage.Path = "flipsync.db"
	cfg.Engine.BreakerThreshold = 5
	cfg.Engine.BreakerCooldown = 30 * time.Second
	cfg.Engine.StaleThreshold = 30 * time.Second
	cfg.Engine.SelectionWindow = 5 * time.Minute
	cfg.Engine.ExpiryWindow = time.Hour
	cfg.Gateway.Addr = ":8080"
	cfg.Gateway.AllowedOrigins = []string{"*"}
	return cfg
}

// Load reads configuration from path (skipped when empty or missing) and
// applies environment overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.LogLevel = getEnv("FLIPSYNC_LOG_LEVEL", cfg.LogLevel)
	cfg.LocalPlayer = getEnv("FLIPSYNC_LOCAL_PLAYER", cfg.LocalPlayer)
	cfg.Transport.Mode = getEnv("FLIPSYNC_TRANSPORT_MODE", cfg.Transport.Mode)
	cfg.Transport.URL = getEnv("FLIPSYNC_TRANSPORT_URL", cfg.Transport.URL)
	cfg.Transport.NATS.URL = getEnv("FLIPSYNC_NATS_URL", cfg.Transport.NATS.URL)
	cfg.Wallet.BridgeURL = getEnv("FLIPSYNC_BRIDGE_URL", cfg.Wallet.BridgeURL)
	cfg.Storage.Path = getEnv("FLIPSYNC_STORAGE_PATH", cfg.Storage.Path)
	cfg.Engine.BreakerThreshold = getEnvAsInt("FLIPSYNC_BREAKER_THRESHOLD", cfg.Engine.BreakerThreshold)
	cfg.Engine.BreakerCooldown = getEnvAsDuration("FLIPSYNC_BREAKER_COOLDOWN", cfg.Engine.BreakerCooldown)
	cfg.Engine.StaleThreshold = getEnvAsDuration("FLIPSYNC_STALE_THRESHOLD", cfg.Engine.StaleThreshold)
	cfg.Engine.SelectionWindow = getEnvAsDuration("FLIPSYNC_SELECTION_WINDOW", cfg.Engine.SelectionWindow)
	cfg.Engine.ExpiryWindow = getEnvAsDuration("FLIPSYNC_EXPIRY_WINDOW", cfg.Engine.ExpiryWindow)
	cfg.Gateway.Addr = getEnv("FLIPSYNC_GATEWAY_ADDR", cfg.Gateway.Addr)

	if cfg.Transport.Mode != "ws" && cfg.Transport.Mode != "nats" {
		return cfg, fmt.Errorf("invalid transport mode %q", cfg.Transport.Mode)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
