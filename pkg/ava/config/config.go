// Package config aggregates the configuration of every component into
// one YAML-backed structure, with secrets resolved from environment
// variables and .env files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shariffahes/ava-whatsbot/pkg/ava/bot"
	"github.com/shariffahes/ava-whatsbot/pkg/ava/scheduler"
	"github.com/shariffahes/ava-whatsbot/pkg/ava/store"
	"github.com/shariffahes/ava-whatsbot/pkg/ava/tenor"
	"github.com/shariffahes/ava-whatsbot/pkg/ava/whatsapp"
)

// Config is the full service configuration.
type Config struct {
	// Bot configures the orchestration engine.
	Bot bot.Config `yaml:"bot"`

	// LLM configures the language-model backend.
	LLM bot.LLMConfig `yaml:"llm"`

	// Store configures the SQLite conversation store.
	Store store.Config `yaml:"store"`

	// Tenor configures the reaction media search.
	Tenor tenor.Config `yaml:"tenor"`

	// Scheduler configures reminder sweeps.
	Scheduler scheduler.Config `yaml:"scheduler"`

	// WhatsApp configures the transport.
	WhatsApp whatsapp.Config `yaml:"whatsapp"`
}

// Default returns a Config with every component at its defaults.
func Default() *Config {
	return &Config{
		Bot: bot.DefaultConfig(),
		LLM: bot.LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o",
			Temperature: 0.7,
		},
		Store:     store.Config{Path: "./data/ava.db"},
		Tenor:     tenor.Config{Limit: tenor.DefaultLimit},
		Scheduler: scheduler.DefaultConfig(),
		WhatsApp:  whatsapp.DefaultConfig(),
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} references in the
// raw YAML.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// LoadFromFile reads a YAML config, expanding environment variable
// references and filling secrets from the environment. Missing file is
// not an error when path is empty; defaults plus env apply.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFiles()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
	}

	resolveSecrets(cfg)
	return cfg, nil
}

// FindConfigFile searches the standard locations for a config file.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"ava.yaml",
		"configs/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadEnvFiles loads .env files without overriding the live environment.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} references with
// environment values. Unset variables without a default keep the
// placeholder so resolveSecrets can still act on them.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(groups[1]); ok {
			return val
		}
		if strings.Contains(match, ":-") {
			return groups[2]
		}
		return match
	})
}

// resolveSecrets fills empty or placeholder secrets from the
// environment.
func resolveSecrets(cfg *Config) {
	if cfg.LLM.APIKey == "" || isEnvReference(cfg.LLM.APIKey) {
		if key := os.Getenv("AVA_API_KEY"); key != "" {
			cfg.LLM.APIKey = key
		} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.LLM.APIKey = key
		}
	}
	if cfg.Tenor.APIKey == "" || isEnvReference(cfg.Tenor.APIKey) {
		if key := os.Getenv("TENOR_API_KEY"); key != "" {
			cfg.Tenor.APIKey = key
		}
	}
	if cfg.Tenor.ClientKey == "" {
		cfg.Tenor.ClientKey = os.Getenv("TENOR_CLIENT_KEY")
	}
}

func isEnvReference(s string) bool {
	return strings.HasPrefix(s, "${") || strings.HasPrefix(s, "$")
}
