package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linksentry/linksentry/internal/notify"
)

type Config struct {
	Server     ServerConfig           `yaml:"server"`
	Auth       AuthConfig             `yaml:"auth"`
	Logging    LoggingConfig          `yaml:"logging"`
	Storage    StorageConfig          `yaml:"storage"`
	Reputation ReputationConfig       `yaml:"reputation"`
	Sources    SourcesConfig          `yaml:"sources"`
	Reconcile  ReconcileConfig        `yaml:"reconcile"`
	Webhooks   []notify.WebhookConfig `yaml:"webhooks"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`

	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

type AuthConfig struct {
	Type   string           `yaml:"type"`
	APIKey AuthAPIKeyConfig `yaml:"api_key"`
}

type AuthAPIKeyConfig struct {
	Key        string `yaml:"key"`
	HeaderName string `yaml:"header_name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// ReputationConfig locates the allow-list dataset used to build the
// reputation index.
type ReputationConfig struct {
	DatasetPath string `yaml:"dataset_path"`
}

type SourcesConfig struct {
	SafeBrowsing SafeBrowsingConfig `yaml:"safe_browsing"`
	VirusTotal   VirusTotalConfig   `yaml:"virustotal"`
	MLModel      MLModelConfig      `yaml:"ml_model"`
}

type SafeBrowsingConfig struct {
	APIKey        string `yaml:"api_key"`
	Endpoint      string `yaml:"endpoint"`
	ClientID      string `yaml:"client_id"`
	ClientVersion string `yaml:"client_version"`
	Timeout       string `yaml:"timeout"`
}

type VirusTotalConfig struct {
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
	Timeout  string `yaml:"timeout"`

	// CachePath is where verdicts fetched from VirusTotal are persisted
	// between runs.
	CachePath string `yaml:"cache_path"`
}

type MLModelConfig struct {
	Endpoint string `yaml:"endpoint"`
	Timeout  string `yaml:"timeout"`
}

type ReconcileConfig struct {
	Workers int `yaml:"workers"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromBytes loads configuration from bytes without applying environment
// overrides. This is intended for testing where env vars should not interfere.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied, for running without
// a config file.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}
	if cfg.Server.ReadTimeout == "" {
		cfg.Server.ReadTimeout = "30s"
	}
	if cfg.Server.WriteTimeout == "" {
		cfg.Server.WriteTimeout = "2m"
	}
	if cfg.Auth.Type == "" {
		cfg.Auth.Type = "none"
	}
	if cfg.Auth.APIKey.HeaderName == "" {
		cfg.Auth.APIKey.HeaderName = "X-API-Key"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "/var/lib/linksentry/history.db"
	}
	if cfg.Sources.SafeBrowsing.Timeout == "" {
		cfg.Sources.SafeBrowsing.Timeout = "30s"
	}
	if cfg.Sources.SafeBrowsing.ClientID == "" {
		cfg.Sources.SafeBrowsing.ClientID = "linksentry"
	}
	if cfg.Sources.SafeBrowsing.ClientVersion == "" {
		cfg.Sources.SafeBrowsing.ClientVersion = "1.0.0"
	}
	if cfg.Sources.VirusTotal.Timeout == "" {
		cfg.Sources.VirusTotal.Timeout = "30s"
	}
	if cfg.Sources.VirusTotal.CachePath == "" {
		cfg.Sources.VirusTotal.CachePath = "/var/lib/linksentry/vtcache.gob"
	}
	if cfg.Sources.MLModel.Timeout == "" {
		cfg.Sources.MLModel.Timeout = "30s"
	}
	if cfg.Reconcile.Workers <= 0 {
		cfg.Reconcile.Workers = 4
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LINKSENTRY_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("LINKSENTRY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LINKSENTRY_API_KEY"); v != "" {
		cfg.Auth.Type = "api_key"
		cfg.Auth.APIKey.Key = v
	}
	if v := os.Getenv("LINKSENTRY_SAFE_BROWSING_API_KEY"); v != "" {
		cfg.Sources.SafeBrowsing.APIKey = v
	}
	if v := os.Getenv("LINKSENTRY_VIRUSTOTAL_API_KEY"); v != "" {
		cfg.Sources.VirusTotal.APIKey = v
	}
	if v := os.Getenv("LINKSENTRY_DATA_DIR"); v != "" {
		cfg.Storage.SQLitePath = filepath.Join(v, "history.db")
		cfg.Sources.VirusTotal.CachePath = filepath.Join(v, "vtcache.gob")
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Auth.Type {
	case "none", "api_key":
	default:
		return fmt.Errorf("invalid auth.type %q", cfg.Auth.Type)
	}
	if cfg.Auth.Type == "api_key" && cfg.Auth.APIKey.Key == "" {
		return fmt.Errorf("auth.api_key.key required when auth.type is api_key")
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}
	for _, d := range []struct {
		name, val string
	}{
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"sources.safe_browsing.timeout", cfg.Sources.SafeBrowsing.Timeout},
		{"sources.virustotal.timeout", cfg.Sources.VirusTotal.Timeout},
		{"sources.ml_model.timeout", cfg.Sources.MLModel.Timeout},
	} {
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("invalid %s %q", d.name, d.val)
		}
	}
	seen := make(map[string]bool)
	for i := range cfg.Webhooks {
		wh := &cfg.Webhooks[i]
		if wh.Name == "" {
			return fmt.Errorf("webhook missing name")
		}
		if wh.URL == "" {
			return fmt.Errorf("webhook %q missing url", wh.Name)
		}
		if seen[wh.Name] {
			return fmt.Errorf("duplicate webhook name %q", wh.Name)
		}
		seen[wh.Name] = true
	}
	return nil
}

// Duration parses a duration string the config has already validated.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
