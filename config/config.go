package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Auth         AuthConfig         `yaml:"auth"`
	TextProvider TextProviderConfig `yaml:"text_provider"`
	WebProvider  WebProviderConfig  `yaml:"web_provider"`
	Credits      CreditsConfig      `yaml:"credits"`
	Search       SearchConfig       `yaml:"search"`
	Notify       NotifyConfig       `yaml:"notify"`
	Archive      ArchiveConfig      `yaml:"archive"`
	Payments     PaymentsConfig     `yaml:"payments"`
	Log          LogConfig          `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

// TextProviderConfig configures the AI text-completion discovery source.
// Rates are dollars per million tokens.
type TextProviderConfig struct {
	APIURL         string  `yaml:"api_url"`
	APIToken       string  `yaml:"api_token"`
	Model          string  `yaml:"model"`
	InputRatePerM  float64 `yaml:"input_rate_per_mtok"`
	OutputRatePerM float64 `yaml:"output_rate_per_mtok"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// WebProviderConfig configures the web-scraping discovery source.
// CostPerSource is the flat dollar cost billed per scraped source.
type WebProviderConfig struct {
	APIURL         string  `yaml:"api_url"`
	APIToken       string  `yaml:"api_token"`
	SourceCount    int     `yaml:"source_count"`
	CostPerSource  float64 `yaml:"cost_per_source"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// CreditsConfig governs the ledger: the markup applied to provider cost,
// the balance at which a low-balance alert fires, and the informational
// per-search cost estimate shown at authorization time.
type CreditsConfig struct {
	Markup              float64 `yaml:"markup"`
	LowBalanceThreshold float64 `yaml:"low_balance_threshold"`
	EstimatedSearchCost float64 `yaml:"estimated_search_cost"`
}

type SearchConfig struct {
	MaxConcurrentPerUser int    `yaml:"max_concurrent_per_user"`
	DailyAutomatedCap    int    `yaml:"daily_automated_cap"`
	HistoryDays          int    `yaml:"history_days"`
	CronSpec             string `yaml:"cron_spec"`
}

type NotifyConfig struct {
	APIURL      string `yaml:"api_url"`
	APIToken    string `yaml:"api_token"`
	FromAddress string `yaml:"from_address"`
	Enabled     bool   `yaml:"enabled"`
}

type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Enabled   bool   `yaml:"enabled"`
}

type PaymentsConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Auth.TokenExpireHours == 0 {
		cfg.Auth.TokenExpireHours = 24
	}
	if cfg.TextProvider.TimeoutSeconds == 0 {
		cfg.TextProvider.TimeoutSeconds = 60
	}
	if cfg.WebProvider.TimeoutSeconds == 0 {
		cfg.WebProvider.TimeoutSeconds = 90
	}
	if cfg.WebProvider.SourceCount == 0 {
		cfg.WebProvider.SourceCount = 5
	}
	if cfg.Credits.Markup == 0 {
		cfg.Credits.Markup = 1.5
	}
	if cfg.Credits.LowBalanceThreshold == 0 {
		cfg.Credits.LowBalanceThreshold = 2
	}
	if cfg.Credits.EstimatedSearchCost == 0 {
		cfg.Credits.EstimatedSearchCost = 0.75
	}
	if cfg.Search.MaxConcurrentPerUser == 0 {
		cfg.Search.MaxConcurrentPerUser = 2
	}
	if cfg.Search.DailyAutomatedCap == 0 {
		cfg.Search.DailyAutomatedCap = 2
	}
	if cfg.Search.HistoryDays == 0 {
		cfg.Search.HistoryDays = 30
	}
	if cfg.Search.CronSpec == "" {
		cfg.Search.CronSpec = "@hourly"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Credits.Markup < 1 {
		return fmt.Errorf("credits.markup must be >= 1, got %v", c.Credits.Markup)
	}
	return nil
}
