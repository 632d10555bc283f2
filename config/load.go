package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. BOOKCAT_STORE_HOST.
const EnvPrefix = "BOOKCAT"

// TokenEnv names the variable holding the inference credential.
const TokenEnv = "HF_API_TOKEN"

// Load reads defaults, an optional config file, and environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Translator.APIKey == "" {
		cfg.Translator.APIKey = os.Getenv(TokenEnv)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("limit", d.Limit)
	v.SetDefault("page_delay", d.PageDelay)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("schema_path", d.SchemaPath)
	v.SetDefault("enforce_schema", d.EnforceSchema)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("metrics_addr", d.MetricsAddr)

	v.SetDefault("store.host", d.Store.Host)
	v.SetDefault("store.port", d.Store.Port)
	v.SetDefault("store.user", d.Store.User)
	v.SetDefault("store.password", d.Store.Password)
	v.SetDefault("store.database", d.Store.Database)
	v.SetDefault("store.dial_timeout", d.Store.DialTimeout)

	v.SetDefault("translator.base_url", d.Translator.BaseURL)
	v.SetDefault("translator.api_key", d.Translator.APIKey)
	v.SetDefault("translator.model", d.Translator.Model)
	v.SetDefault("translator.max_tokens", d.Translator.MaxTokens)
	v.SetDefault("translator.temperature", d.Translator.Temperature)
	v.SetDefault("translator.timeout", d.Translator.Timeout)
	v.SetDefault("translator.cache_size", d.Translator.CacheSize)

	v.SetDefault("report.output_file", d.Report.OutputFile)
	v.SetDefault("report.output_format", d.Report.OutputFormat)
}
