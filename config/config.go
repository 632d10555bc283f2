package config

import (
	"fmt"
	"net/url"
	"time"
)

// MaxLimit bounds the number of records a single build may request.
const MaxLimit = 1000

// Config holds pipeline configuration. It is passed explicitly to each component.
type Config struct {
	BaseURL       string        `mapstructure:"base_url"`
	Limit         int           `mapstructure:"limit"`
	PageDelay     time.Duration `mapstructure:"page_delay"`
	Timeout       time.Duration `mapstructure:"timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
	SchemaPath    string        `mapstructure:"schema_path"`
	EnforceSchema bool          `mapstructure:"enforce_schema"`
	Verbose       bool          `mapstructure:"verbose"`
	MetricsAddr   string        `mapstructure:"metrics_addr"`

	Store      StoreConfig      `mapstructure:"store"`
	Translator TranslatorConfig `mapstructure:"translator"`
	Report     ReportConfig     `mapstructure:"report"`
}

// StoreConfig holds the document-store session parameters.
type StoreConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Database    string        `mapstructure:"database"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Addr returns host:port.
func (s StoreConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TranslatorConfig holds the inference endpoint parameters.
type TranslatorConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CacheSize   int           `mapstructure:"cache_size"`
}

// ReportConfig controls projection export.
type ReportConfig struct {
	OutputFile   string `mapstructure:"output_file"`
	OutputFormat string `mapstructure:"output_format"` // csv, json, dual, or parquet
}

// DefaultConfig returns conservative defaults for the demo target.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "https://books.toscrape.com/",
		Limit:         10,
		PageDelay:     500 * time.Millisecond,
		Timeout:       10 * time.Second,
		UserAgent:     "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		SchemaPath:    "schema/books_schema.rng",
		EnforceSchema: false,
		Store: StoreConfig{
			Host:        "localhost",
			Port:        1984,
			User:        "admin",
			Password:    "admin",
			Database:    "BookCatalog",
			DialTimeout: 5 * time.Second,
		},
		Translator: TranslatorConfig{
			BaseURL:     "https://router.huggingface.co/v1",
			Model:       "mistralai/Mixtral-8x7B-Instruct-v0.1",
			MaxTokens:   256,
			Temperature: 0.1,
			Timeout:     60 * time.Second,
			CacheSize:   128,
		},
		Report: ReportConfig{
			OutputFile:   "output/projection.csv",
			OutputFormat: "csv",
		},
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.Limit <= 0 {
		return fmt.Errorf("limit must be positive")
	}
	if c.Limit > MaxLimit {
		return fmt.Errorf("limit cannot exceed %d", MaxLimit)
	}
	if c.PageDelay < 0 {
		return fmt.Errorf("page delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.SchemaPath == "" {
		return fmt.Errorf("schema path cannot be empty")
	}

	if c.Store.Host == "" {
		return fmt.Errorf("store host cannot be empty")
	}
	if c.Store.Port <= 0 || c.Store.Port > 65535 {
		return fmt.Errorf("store port must be between 1 and 65535")
	}
	if c.Store.Database == "" {
		return fmt.Errorf("store database cannot be empty")
	}

	if c.Translator.Model == "" {
		return fmt.Errorf("translator model cannot be empty")
	}
	if c.Translator.MaxTokens <= 0 {
		return fmt.Errorf("translator max tokens must be positive")
	}
	if c.Translator.Temperature < 0 || c.Translator.Temperature > 2 {
		return fmt.Errorf("translator temperature must be between 0 and 2")
	}
	if c.Translator.CacheSize <= 0 {
		return fmt.Errorf("translator cache size must be positive")
	}

	switch c.Report.OutputFormat {
	case "csv", "json", "dual", "parquet":
	default:
		return fmt.Errorf("output format must be csv, json, dual, or parquet")
	}
	if c.Report.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}

	return nil
}
