package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
)

// configFileEnvVar names an optional TOML file read before the environment.
const configFileEnvVar = "SESSION_CONFIG_FILE"

type Config interface {
	EnvConfig
	APIConfig
	MonitorConfig
	BroadcastConfig
}

type mainConfig struct {
	EnvVars
	API
	Monitor
	Broadcast
}

var _ Config = (*mainConfig)(nil)

// New returns the built-in defaults without reading any external source.
func New() Config {
	c := defaults()
	return &c
}

// Load builds the configuration in layers: defaults, then the TOML file
// named by SESSION_CONFIG_FILE (if any), then a .env file (if present),
// then environment variables.
func Load() (Config, error) {
	_ = godotenv.Load()

	c := defaults()

	if path := os.Getenv(configFileEnvVar); path != "" {
		if _, err := toml.DecodeFile(path, &c); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *mainConfig) validate() error {
	if c.CheckInterval <= 0 {
		return apperrors.Wrapf(apperrors.ErrInvalidConfig, "CHECK_INTERVAL must be positive")
	}
	if c.PaddingOffset < 0 || c.PaddingOffset >= c.CheckInterval {
		return apperrors.Wrapf(apperrors.ErrInvalidConfig, "PADDING_OFFSET %s must be in [0, %s)", c.PaddingOffset, c.CheckInterval)
	}
	if c.ReplyTimeout <= 0 {
		return apperrors.Wrapf(apperrors.ErrInvalidConfig, "REPLY_TIMEOUT must be positive")
	}
	if c.ChannelName == "" {
		return apperrors.Wrapf(apperrors.ErrInvalidConfig, "CHANNEL_NAME is required")
	}
	if c.RelayRateLimit <= 0 {
		return apperrors.Wrapf(apperrors.ErrInvalidConfig, "RELAY_RATE_LIMIT must be positive")
	}
	return nil
}

func defaults() mainConfig {
	return mainConfig{
		EnvVars: EnvVars{
			AppName:  "Auth Session",
			Env:      "DEV",
			LogLevel: "info",
			StoreDir: "./data/tabs",
		},
		API: API{
			BaseURL:       "http://localhost:8081",
			LoginPath:     "/api/auth/jwt/login",
			RefreshPath:   "/api/auth/jwt/refresh",
			FakeAPIAddr:   ":8081",
			TokenLifetime: defaultTokenLifetime,
		},
		Monitor: Monitor{
			CheckInterval: defaultCheckInterval,
			PaddingOffset: defaultPaddingOffset,
			ReplyTimeout:  defaultReplyTimeout,
		},
		Broadcast: Broadcast{
			RelayURL:       "ws://localhost:8082",
			RelayAddr:      ":8082",
			ChannelName:    "btrix",
			RelayRateLimit: 50,
			RelayBurst:     100,
		},
	}
}
