// Package config loads storefront and devapi settings from an optional YAML
// file and the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Service  string         `yaml:"service"`
	Port     string         `yaml:"port"`
	LogLevel string         `yaml:"log_level"`
	API      APIConfig      `yaml:"api"`
	Storage  StorageConfig  `yaml:"storage"`
	Cart     CartConfig     `yaml:"cart"`
	Hardware HardwareConfig `yaml:"hardware"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	DevAPI   DevAPIConfig   `yaml:"devapi"`
}

type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	RatePerSec float64       `yaml:"rate_per_sec"`
	Burst      int           `yaml:"burst"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // memory | file | sqlite | postgres | redis
	DSN    string `yaml:"dsn"`
	Prefix string `yaml:"prefix"`
}

// CartConfig holds cart persistence and pinning. Quantities are kilograms;
// typed and scale readings use the comma as decimal separator ("1,250" is
// 1.25 kg) and digit grouping is not accepted.
type CartConfig struct {
	Key      string `yaml:"key"`
	PinPolls int    `yaml:"pin_polls"`
}

type HardwareConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	LatestPath     string        `yaml:"latest_path"`
	CatalogRefresh int           `yaml:"catalog_refresh"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

type TracingConfig struct {
	Stdout bool `yaml:"stdout"`
}

// DevAPIConfig only applies to cmd/devapi.
type DevAPIConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	StaffEmail    string        `yaml:"staff_email"`
	StaffPassword string        `yaml:"staff_password"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
}

func Default(service, port string) Config {
	return Config{
		Service:  service,
		Port:     port,
		LogLevel: "info",
		API: APIConfig{
			BaseURL: "http://localhost:8090",
			Timeout: 3 * time.Second,
			Burst:   1,
		},
		Storage: StorageConfig{
			Driver: "file",
			DSN:    "./data",
			Prefix: "fruitmarket:",
		},
		Cart: CartConfig{
			Key:      "cart",
			PinPolls: 3,
		},
		Hardware: HardwareConfig{
			PollInterval:   2 * time.Second,
			LatestPath:     "/files/latest",
			CatalogRefresh: 30,
		},
		Metrics: MetricsConfig{Enabled: true},
		DevAPI: DevAPIConfig{
			StaffEmail:    "staff@fruitmarket.local",
			StaffPassword: "password123",
			TokenTTL:      8 * time.Hour,
		},
	}
}

// Load starts from Default, overlays the YAML file named by CONFIG_FILE (if
// any) and then the environment.
func Load(service, port string) (Config, error) {
	cfg := Default(service, port)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Port = getenv("PORT", c.Port)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)

	c.API.BaseURL = getenv("API_BASE_URL", c.API.BaseURL)
	c.Storage.Driver = getenv("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.DSN = getenv("STORAGE_DSN", c.Storage.DSN)
	c.Storage.Prefix = getenv("STORAGE_PREFIX", c.Storage.Prefix)
	c.Cart.Key = getenv("CART_KEY", c.Cart.Key)
	c.Hardware.LatestPath = getenv("HARDWARE_LATEST_PATH", c.Hardware.LatestPath)
	c.Metrics.Token = getenv("METRICS_TOKEN", c.Metrics.Token)
	c.DevAPI.JWTSecret = getenv("JWT_SECRET", c.DevAPI.JWTSecret)
	c.DevAPI.StaffEmail = getenv("DEVAPI_STAFF_EMAIL", c.DevAPI.StaffEmail)
	c.DevAPI.StaffPassword = getenv("DEVAPI_STAFF_PASSWORD", c.DevAPI.StaffPassword)

	var err error
	if c.API.Timeout, err = getenvDuration("API_TIMEOUT", c.API.Timeout); err != nil {
		return err
	}
	if c.Hardware.PollInterval, err = getenvDuration("POLL_INTERVAL", c.Hardware.PollInterval); err != nil {
		return err
	}
	if c.Cart.PinPolls, err = getenvInt("CART_PIN_POLLS", c.Cart.PinPolls); err != nil {
		return err
	}
	if c.Tracing.Stdout, err = getenvBool("TRACING_STDOUT", c.Tracing.Stdout); err != nil {
		return err
	}
	if c.Metrics.Enabled, err = getenvBool("METRICS_ENABLED", c.Metrics.Enabled); err != nil {
		return err
	}
	return nil
}

var ErrInvalid = errors.New("invalid config")

func (c Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: api.base_url %q", ErrInvalid, c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("%w: api.timeout must be positive", ErrInvalid)
	}
	if c.API.RatePerSec < 0 {
		return fmt.Errorf("%w: api.rate_per_sec must not be negative", ErrInvalid)
	}
	switch c.Storage.Driver {
	case "memory":
	case "file", "sqlite", "postgres", "redis":
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage.dsn required for driver %s", ErrInvalid, c.Storage.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown storage.driver %q", ErrInvalid, c.Storage.Driver)
	}
	if strings.TrimSpace(c.Cart.Key) == "" {
		return fmt.Errorf("%w: cart.key required", ErrInvalid)
	}
	if c.Cart.PinPolls < 0 {
		return fmt.Errorf("%w: cart.pin_polls must not be negative", ErrInvalid)
	}
	if c.Hardware.PollInterval <= 0 {
		return fmt.Errorf("%w: hardware.poll_interval must be positive", ErrInvalid)
	}
	if !strings.HasPrefix(c.Hardware.LatestPath, "/") {
		return fmt.Errorf("%w: hardware.latest_path must start with /", ErrInvalid)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvDuration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, k, err)
	}
	return d, nil
}

func getenvInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, k, err)
	}
	return n, nil
}

func getenvBool(k string, def bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrInvalid, k, err)
	}
	return b, nil
}
