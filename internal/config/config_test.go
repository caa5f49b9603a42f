package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load("storefront", "8080")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "cart", cfg.Cart.Key)
	assert.Equal(t, 3, cfg.Cart.PinPolls)
	assert.Equal(t, 2*time.Second, cfg.Hardware.PollInterval)
	assert.Equal(t, "/files/latest", cfg.Hardware.LatestPath)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "storefront.yaml")

	raw := []byte(`
api:
  base_url: https://store.example.com
  timeout: 5s
storage:
  driver: sqlite
  dsn: /var/lib/kiosk/cart.db
hardware:
  poll_interval: 1s
  latest_path: /api/files/latest
`)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("POLL_INTERVAL", "3s")
	t.Setenv("CART_PIN_POLLS", "5")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")

	cfg, err := Load("storefront", "8080")
	require.NoError(t, err)

	assert.Equal(t, "https://store.example.com", cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "/api/files/latest", cfg.Hardware.LatestPath)
	assert.Equal(t, 3*time.Second, cfg.Hardware.PollInterval)
	assert.Equal(t, 5, cfg.Cart.PinPolls)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.DevAPI.JWTSecret)
	assert.Equal(t, 8*time.Hour, cfg.DevAPI.TokenTTL)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("POLL_INTERVAL", "soon")

	_, err := Load("storefront", "8080")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"relative base url": func(c *Config) { c.API.BaseURL = "/fruits" },
		"unknown driver":    func(c *Config) { c.Storage.Driver = "etcd" },
		"missing dsn":       func(c *Config) { c.Storage.Driver = "redis"; c.Storage.DSN = "" },
		"empty cart key":    func(c *Config) { c.Cart.Key = " " },
		"zero interval":     func(c *Config) { c.Hardware.PollInterval = 0 },
		"bad latest path":   func(c *Config) { c.Hardware.LatestPath = "files/latest" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default("storefront", "8080")
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	cfg := Default("storefront", "8080")
	cfg.Storage.Driver = "memory"
	cfg.Storage.DSN = ""
	assert.NoError(t, cfg.Validate())
}
