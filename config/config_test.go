package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero limit",
			mutate:  func(cfg *Config) { cfg.Limit = 0 },
			wantErr: "limit",
		},
		{
			name:    "limit too large",
			mutate:  func(cfg *Config) { cfg.Limit = MaxLimit + 1 },
			wantErr: "limit",
		},
		{
			name:    "empty base url",
			mutate:  func(cfg *Config) { cfg.BaseURL = "" },
			wantErr: "base URL",
		},
		{
			name:    "invalid url format",
			mutate:  func(cfg *Config) { cfg.BaseURL = "http://" },
			wantErr: "base URL",
		},
		{
			name:    "negative timeout",
			mutate:  func(cfg *Config) { cfg.Timeout = -1 * time.Second },
			wantErr: "timeout",
		},
		{
			name:    "negative page delay",
			mutate:  func(cfg *Config) { cfg.PageDelay = -time.Millisecond },
			wantErr: "page delay",
		},
		{
			name:    "bad store port",
			mutate:  func(cfg *Config) { cfg.Store.Port = 0 },
			wantErr: "store port",
		},
		{
			name:    "bad temperature",
			mutate:  func(cfg *Config) { cfg.Translator.Temperature = 3 },
			wantErr: "temperature",
		},
		{
			name:    "unknown output format",
			mutate:  func(cfg *Config) { cfg.Report.OutputFormat = "xlsx" },
			wantErr: "output format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Database != "BookCatalog" {
		t.Fatalf("database = %q", cfg.Store.Database)
	}
	if cfg.PageDelay != 500*time.Millisecond {
		t.Fatalf("page delay = %v", cfg.PageDelay)
	}
}

func TestLoadEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bookcat.yaml")
	body := "limit: 25\nstore:\n  host: basex.internal\n  port: 1985\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("BOOKCAT_STORE_USER", "reader")
	t.Setenv("BOOKCAT_TRANSLATOR_API_KEY", "")
	t.Setenv(TokenEnv, "hf_test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Limit != 25 {
		t.Errorf("limit = %d, want 25", cfg.Limit)
	}
	if cfg.Store.Addr() != "basex.internal:1985" {
		t.Errorf("addr = %q", cfg.Store.Addr())
	}
	if cfg.Store.User != "reader" {
		t.Errorf("user = %q, want env override", cfg.Store.User)
	}
	if cfg.Translator.APIKey != "hf_test" {
		t.Errorf("api key = %q", cfg.Translator.APIKey)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config invalid: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
