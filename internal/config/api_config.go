package config

import "time"

const defaultTokenLifetime = time.Hour

type APIConfig interface {
	GetAPIBaseURL() string
	GetLoginPath() string
	GetRefreshPath() string
	GetFakeAPIAddr() string
	GetTokenLifetime() time.Duration
}

type API struct {
	BaseURL     string `env:"API_BASE_URL" toml:"api_base_url"`
	LoginPath   string `env:"LOGIN_PATH" toml:"login_path"`
	RefreshPath string `env:"REFRESH_PATH" toml:"refresh_path"`

	// Only used by the fake backend.
	FakeAPIAddr   string        `env:"FAKE_API_ADDR" toml:"fake_api_addr"`
	TokenLifetime time.Duration `env:"TOKEN_LIFETIME" toml:"token_lifetime"`
}

var _ APIConfig = API{}

func (a API) GetAPIBaseURL() string {
	return a.BaseURL
}

func (a API) GetLoginPath() string {
	return a.LoginPath
}

func (a API) GetRefreshPath() string {
	return a.RefreshPath
}

func (a API) GetFakeAPIAddr() string {
	return a.FakeAPIAddr
}

func (a API) GetTokenLifetime() time.Duration {
	if a.TokenLifetime <= 0 {
		return defaultTokenLifetime
	}
	return a.TokenLifetime
}
