package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML. Secrets come from the
// environment only.
type FileConfig struct {
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"logLevel"`
	CatalogPath   string `yaml:"catalogPath"`
	DatabaseURL   string `yaml:"databaseURL"`
	SanctuaireURL string `yaml:"sanctuaireURL"`

	// env only
	StripeSecretKey     string `yaml:"-"`
	StripeWebhookSecret string `yaml:"-"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("SHOP_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("SHOP_CATALOG_PATH"); v != "" {
		cfg.CatalogPath = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("SANCTUAIRE_URL"); v != "" {
		cfg.SanctuaireURL = strings.TrimSpace(v)
	}
	cfg.StripeSecretKey = strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY"))
	cfg.StripeWebhookSecret = webhookSecretFromEnv()
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// webhookSecretFromEnv resolves the signing secret. The product-specific
// variable overrides the generic one.
func webhookSecretFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET_LUMIRA")); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET"))
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.CatalogPath == "" {
		return errors.New("config: catalogPath is required (set in config.yaml or SHOP_CATALOG_PATH)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	return nil
}
