package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_API_BASE_URL": "http://localhost:5000/api/",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.API.BaseURL != "http://localhost:5000/api" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 8*time.Second {
		t.Errorf("unexpected timeout: %s", cfg.API.Timeout)
	}
	if !cfg.API.SharedRefresh {
		t.Errorf("expected shared refresh enabled by default")
	}
	if cfg.Storage.Driver != StorageDriverSQLite || cfg.Storage.Path != "storefront.db" {
		t.Errorf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Cart.MergeStrategy != "diff" {
		t.Errorf("expected diff merge strategy, got %s", cfg.Cart.MergeStrategy)
	}
	if cfg.Cart.DefaultStockCeiling != 99 {
		t.Errorf("unexpected default stock ceiling: %d", cfg.Cart.DefaultStockCeiling)
	}
	if cfg.Cart.Currency != "USD" {
		t.Errorf("unexpected currency: %s", cfg.Cart.Currency)
	}
	if cfg.Server.Port != "8090" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("unexpected log level: %s", cfg.Log.Level)
	}
}

func TestLoadOverrides(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_API_BASE_URL":          "https://shop.example.com/api",
		"STOREFRONT_HTTP_TIMEOUT":          "2s",
		"STOREFRONT_SHARED_REFRESH":        "off",
		"STOREFRONT_STORAGE_DRIVER":        "MEMORY",
		"STOREFRONT_MERGE_STRATEGY":        "replay",
		"STOREFRONT_DEFAULT_STOCK_CEILING": "12",
		"STOREFRONT_CURRENCY":              "eur",
		"LOG_LEVEL":                        "debug",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.API.Timeout != 2*time.Second {
		t.Errorf("unexpected timeout: %s", cfg.API.Timeout)
	}
	if cfg.API.SharedRefresh {
		t.Errorf("expected shared refresh disabled")
	}
	if cfg.Storage.Driver != StorageDriverMemory {
		t.Errorf("expected memory driver, got %s", cfg.Storage.Driver)
	}
	if cfg.Cart.MergeStrategy != "replay" {
		t.Errorf("expected replay, got %s", cfg.Cart.MergeStrategy)
	}
	if cfg.Cart.DefaultStockCeiling != 12 {
		t.Errorf("unexpected ceiling %d", cfg.Cart.DefaultStockCeiling)
	}
	if cfg.Cart.Currency != "EUR" {
		t.Errorf("expected upper-cased currency, got %s", cfg.Cart.Currency)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("unexpected log level %s", cfg.Log.Level)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_API_BASE_URL":   "not a url",
		"STOREFRONT_STORAGE_DRIVER": "redis",
		"STOREFRONT_MERGE_STRATEGY": "magic",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := validationErr.Fields()
	for _, want := range []string{"API.BaseURL", "Storage.Driver", "Cart.MergeStrategy"} {
		if !slices.Contains(fields, want) {
			t.Errorf("expected %s in %v", want, fields)
		}
	}
}

func TestLoadReadsDotEnvWithLowerPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local\nexport STOREFRONT_API_BASE_URL=\"http://dotenv:5000/api\"\nSTOREFRONT_STORAGE_PATH=device.db\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvFile(path),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"STOREFRONT_STORAGE_PATH": "override.db"}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.API.BaseURL != "http://dotenv:5000/api" {
		t.Errorf("expected base url from .env, got %s", cfg.API.BaseURL)
	}
	if cfg.Storage.Path != "override.db" {
		t.Errorf("expected env map to win over .env, got %s", cfg.Storage.Path)
	}
}
