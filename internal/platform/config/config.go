package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile           = ".env"
	defaultHTTPTimeout       = 8 * time.Second
	defaultStorageDriver     = StorageDriverSQLite
	defaultStoragePath       = "storefront.db"
	defaultMergeStrategy     = "diff"
	defaultStockCeiling      = 99
	defaultCurrency          = "USD"
	defaultServerPort        = "8090"
	defaultLogLevel          = "info"
	defaultReadHeaderTimeout = 5 * time.Second
)

// Storage drivers understood by the device store factory.
const (
	StorageDriverSQLite = "sqlite"
	StorageDriverMemory = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	API     APIConfig
	Storage StorageConfig
	Cart    CartConfig
	Server  ServerConfig
	Log     LogConfig
}

// APIConfig describes the remote storefront API.
type APIConfig struct {
	BaseURL       string
	Timeout       time.Duration
	SharedRefresh bool
}

// StorageConfig selects the device storage backend.
type StorageConfig struct {
	Driver string
	Path   string
}

// CartConfig tunes cart reconciliation.
type CartConfig struct {
	MergeStrategy       string
	DefaultStockCeiling int
	Currency            string
}

// ServerConfig configures the local HTTP surface.
type ServerConfig struct {
	Port              string
	ReadHeaderTimeout time.Duration
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the client configuration by combining defaults, .env overrides,
// environment variables and explicit overrides.
func Load(_ context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		API: APIConfig{
			BaseURL:       strings.TrimRight(strings.TrimSpace(stringWithDefault(lookup, "STOREFRONT_API_BASE_URL", "")), "/"),
			Timeout:       durationWithDefault(lookup, "STOREFRONT_HTTP_TIMEOUT", defaultHTTPTimeout),
			SharedRefresh: boolWithDefault(lookup, "STOREFRONT_SHARED_REFRESH", true),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "STOREFRONT_STORAGE_DRIVER", defaultStorageDriver)),
			Path:   stringWithDefault(lookup, "STOREFRONT_STORAGE_PATH", defaultStoragePath),
		},
		Cart: CartConfig{
			MergeStrategy:       strings.ToLower(stringWithDefault(lookup, "STOREFRONT_MERGE_STRATEGY", defaultMergeStrategy)),
			DefaultStockCeiling: intWithDefault(lookup, "STOREFRONT_DEFAULT_STOCK_CEILING", defaultStockCeiling),
			Currency:            strings.ToUpper(stringWithDefault(lookup, "STOREFRONT_CURRENCY", defaultCurrency)),
		},
		Server: ServerConfig{
			Port:              stringWithDefault(lookup, "STOREFRONT_SERVER_PORT", defaultServerPort),
			ReadHeaderTimeout: durationWithDefault(lookup, "STOREFRONT_SERVER_READ_HEADER_TIMEOUT", defaultReadHeaderTimeout),
		},
		Log: LogConfig{
			Level: stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.API.BaseURL == "" {
		missing = append(missing, "API.BaseURL")
	} else if u, err := url.Parse(cfg.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		missing = append(missing, "API.BaseURL")
	}
	if cfg.API.Timeout <= 0 {
		missing = append(missing, "API.Timeout")
	}
	switch cfg.Storage.Driver {
	case StorageDriverSQLite:
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			missing = append(missing, "Storage.Path")
		}
	case StorageDriverMemory:
	default:
		missing = append(missing, "Storage.Driver")
	}
	switch cfg.Cart.MergeStrategy {
	case "diff", "replay":
	default:
		missing = append(missing, "Cart.MergeStrategy")
	}
	if cfg.Cart.DefaultStockCeiling <= 0 {
		missing = append(missing, "Cart.DefaultStockCeiling")
	}
	if len(cfg.Cart.Currency) != 3 {
		missing = append(missing, "Cart.Currency")
	}
	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(parts[1]), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
