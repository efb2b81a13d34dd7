package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shariffahes/ava-whatsbot/pkg/ava/bot"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Bot.Mode != bot.ModeBuddy {
		t.Errorf("expected buddy mode, got %q", cfg.Bot.Mode)
	}
	if cfg.Bot.TriggerThreshold != 75 {
		t.Errorf("expected threshold 75, got %d", cfg.Bot.TriggerThreshold)
	}
	if cfg.Scheduler.RoutingDays != 14 {
		t.Errorf("expected 14-day routing, got %d", cfg.Scheduler.RoutingDays)
	}
	if cfg.Bot.Timezone != "Asia/Beirut" {
		t.Errorf("expected Asia/Beirut, got %q", cfg.Bot.Timezone)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("AVA_TEST_VALUE", "resolved")

	cases := map[string]string{
		"plain text":                  "plain text",
		"${AVA_TEST_VALUE}":           "resolved",
		"${AVA_TEST_MISSING:-backup}": "backup",
		"${AVA_TEST_MISSING}":         "${AVA_TEST_MISSING}",
		"a ${AVA_TEST_VALUE} b":       "a resolved b",
	}
	for in, want := range cases {
		if got := expandEnvVars(in); got != want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Run("empty path applies defaults and env", func(t *testing.T) {
		t.Setenv("AVA_API_KEY", "sk-from-env")
		cfg, err := LoadFromFile("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.LLM.APIKey != "sk-from-env" {
			t.Errorf("expected the env key resolved, got %q", cfg.LLM.APIKey)
		}
	})

	t.Run("yaml overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
bot:
  mode: buddy
  trigger_threshold: 80
  dev_mode: true
llm:
  model: gpt-4o-mini
  api_key: ${AVA_CFG_KEY}
scheduler:
  routing_days: 10
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("writing config: %v", err)
		}
		t.Setenv("AVA_CFG_KEY", "sk-test")

		cfg, err := LoadFromFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Bot.TriggerThreshold != 80 || !cfg.Bot.DevMode {
			t.Errorf("bot section not applied: %+v", cfg.Bot)
		}
		if cfg.LLM.Model != "gpt-4o-mini" || cfg.LLM.APIKey != "sk-test" {
			t.Errorf("llm section not applied: %+v", cfg.LLM)
		}
		if cfg.Scheduler.RoutingDays != 10 {
			t.Errorf("scheduler section not applied: %+v", cfg.Scheduler)
		}
		// Untouched sections keep their defaults.
		if cfg.Bot.MaxRounds != 4 {
			t.Errorf("expected the default round ceiling, got %d", cfg.Bot.MaxRounds)
		}
	})

	t.Run("missing file is an error", func(t *testing.T) {
		if _, err := LoadFromFile("/does/not/exist.yaml"); err == nil {
			t.Error("expected an error for a missing file")
		}
	})

	t.Run("tenor secrets resolve from env", func(t *testing.T) {
		t.Setenv("TENOR_API_KEY", "tenor-key")
		cfg, err := LoadFromFile("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Tenor.APIKey != "tenor-key" {
			t.Errorf("expected the tenor key resolved, got %q", cfg.Tenor.APIKey)
		}
	})
}
