// Package config loads tango settings from flags, environment variables and
// an optional YAML file through viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Translation modes.
const (
	PerLine = "per-line"
	Batched = "batched"
)

// Indexing modes.
const (
	FullIndex      = "full"
	DictionaryOnly = "dictionary-only"
)

// Dictionary sources.
const (
	SourceJisho  = "jisho"
	SourceJMdict = "jmdict"
)

// Config holds all runtime settings.
type Config struct {
	DBPath   string
	Indexing string
	Workers  int

	Log         LogConfig
	Translation TranslationConfig
	Dictionary  DictionaryConfig
	Gate        GateConfig
}

// LogConfig holds logging settings.
type LogConfig struct {
	Mode  string
	Level string
}

// TranslationConfig holds machine translation settings.
type TranslationConfig struct {
	Mode      string
	BatchSize int
	Delay     time.Duration
	Model     string
	APIKey    string
	BaseURL   string
}

// DictionaryConfig holds dictionary lookup settings.
type DictionaryConfig struct {
	Source  string
	Path    string
	BaseURL string
	Delay   time.Duration
}

// GateConfig holds circuit breaker settings shared by both services.
type GateConfig struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("db", "tango.db")
	v.SetDefault("indexing", FullIndex)
	v.SetDefault("workers", 4)
	v.SetDefault("log.mode", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("translation.mode", Batched)
	v.SetDefault("translation.batch_size", 25)
	v.SetDefault("translation.delay", 1000*time.Millisecond)
	v.SetDefault("translation.model", "gpt-4o-mini")
	v.SetDefault("dictionary.source", SourceJisho)
	v.SetDefault("dictionary.path", "jmdict-eng-common.json")
	v.SetDefault("dictionary.delay", 500*time.Millisecond)
	v.SetDefault("gate.max_failures", 5)
	v.SetDefault("gate.open_timeout", 30*time.Second)
}

// ReadFile points v at cfgFile, or at .tango.yaml in $HOME or the working
// directory, and reads it if present. A missing implicit file is not an error.
func ReadFile(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".tango")
	}

	v.SetEnvPrefix("TANGO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", filepath.Base(cfgFile), err)
	}
	return nil
}

// Load builds a Config from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DBPath:   v.GetString("db"),
		Indexing: v.GetString("indexing"),
		Workers:  v.GetInt("workers"),
		Log: LogConfig{
			Mode:  v.GetString("log.mode"),
			Level: v.GetString("log.level"),
		},
		Translation: TranslationConfig{
			Mode:      v.GetString("translation.mode"),
			BatchSize: v.GetInt("translation.batch_size"),
			Delay:     v.GetDuration("translation.delay"),
			Model:     v.GetString("translation.model"),
			APIKey:    openAIKey(v),
			BaseURL:   v.GetString("openai.base_url"),
		},
		Dictionary: DictionaryConfig{
			Source:  v.GetString("dictionary.source"),
			Path:    v.GetString("dictionary.path"),
			BaseURL: v.GetString("dictionary.base_url"),
			Delay:   v.GetDuration("dictionary.delay"),
		},
		Gate: GateConfig{
			MaxFailures: v.GetUint32("gate.max_failures"),
			OpenTimeout: v.GetDuration("gate.open_timeout"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// openAIKey prefers the conventional OPENAI_API_KEY variable over config.
func openAIKey(v *viper.Viper) string {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return key
	}
	return v.GetString("openai.api_key")
}

// Validate checks enums and numeric ranges.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path must be set")
	}
	switch c.Indexing {
	case FullIndex, DictionaryOnly:
	default:
		return fmt.Errorf("indexing must be %q or %q, got %q", FullIndex, DictionaryOnly, c.Indexing)
	}
	switch c.Translation.Mode {
	case PerLine, Batched:
	default:
		return fmt.Errorf("translation.mode must be %q or %q, got %q", PerLine, Batched, c.Translation.Mode)
	}
	switch c.Dictionary.Source {
	case SourceJisho, SourceJMdict:
	default:
		return fmt.Errorf("dictionary.source must be %q or %q, got %q", SourceJisho, SourceJMdict, c.Dictionary.Source)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.Translation.BatchSize < 1 {
		return fmt.Errorf("translation.batch_size must be positive, got %d", c.Translation.BatchSize)
	}
	if c.Translation.Delay < 0 || c.Dictionary.Delay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if c.Gate.MaxFailures < 1 {
		return fmt.Errorf("gate.max_failures must be positive")
	}
	return nil
}
