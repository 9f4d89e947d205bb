package config

import (
	"os"
)

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetStoreDir() string
}

type EnvVars struct {
	AppName  string `env:"APP_NAME" toml:"app_name"`
	Env      string `env:"ENV" toml:"env"`
	LogLevel string `env:"LOG_LEVEL" toml:"log_level"`

	// StoreDir holds one bbolt file per tab.
	StoreDir string `env:"STORE_DIR" toml:"store_dir"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	if e.Env == "" {
		return "DEV"
	}
	return e.Env
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}

func (e EnvVars) GetStoreDir() string {
	return e.StoreDir
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
