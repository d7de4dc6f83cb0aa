package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/efebarandurmaz/skillmatch/internal/config"
	"github.com/efebarandurmaz/skillmatch/internal/llm"
	"github.com/efebarandurmaz/skillmatch/internal/observability"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level   string
		verbose bool
		want    slog.Level
	}{
		{"", false, slog.LevelInfo},
		{"debug", false, slog.LevelDebug},
		{"WARN", false, slog.LevelWarn},
		{"error", false, slog.LevelError},
		{"error", true, slog.LevelDebug},
	}
	for _, tt := range tests {
		logger := newLogger(config.LogConfig{Level: tt.level, Format: "json"}, tt.verbose)
		ctx := context.Background()
		if !logger.Enabled(ctx, tt.want) {
			t.Errorf("level %q verbose=%v: %v not enabled", tt.level, tt.verbose, tt.want)
		}
		if tt.want > slog.LevelDebug && logger.Enabled(ctx, tt.want-4) {
			t.Errorf("level %q verbose=%v: %v should be disabled", tt.level, tt.verbose, tt.want-4)
		}
	}
}

func TestNewFactory_EveryPreset(t *testing.T) {
	f := newFactory()
	names := []string{"custom"}
	for name := range llm.KnownProviders {
		names = append(names, name)
	}
	for _, name := range names {
		p, err := f.Create(llm.ProviderConfig{Provider: name, APIKey: "k", Model: "m", BaseURL: "http://localhost:1/v1"})
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if p == nil {
			t.Errorf("%s: nil provider", name)
		}
	}
	if _, err := f.Create(llm.ProviderConfig{Provider: "anthropic"}); err == nil {
		t.Error("unregistered provider should fail")
	}
}

func TestOpenWriters(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{}
	cfg.Output.SQLiteDSN = filepath.Join(t.TempDir(), "matches.db")

	out, err := openWriters(ctx, cfg, slog.Default(), observability.Disabled(), observability.NewMatchMetrics())
	if err != nil {
		t.Fatalf("openWriters: %v", err)
	}
	if len(out.writers) != 1 || out.writers[0].Name() != "sqlite" {
		t.Errorf("writers = %v", out.writers)
	}
	if err := out.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	empty, err := openWriters(ctx, &config.Config{}, slog.Default(), observability.Disabled(), observability.NewMatchMetrics())
	if err != nil {
		t.Fatalf("openWriters without output: %v", err)
	}
	if len(empty.writers) != 0 {
		t.Errorf("expected no writers, got %d", len(empty.writers))
	}
}

func TestResolveSecrets(t *testing.T) {
	t.Setenv("SKILLMATCH_TEST_LLM_KEY", "sk-env")
	cfg := &config.Config{}
	cfg.LLM.APIKey = "env:SKILLMATCH_TEST_LLM_KEY"
	cfg.Output.Neo4j.Password = "plain-password"

	if err := resolveSecrets(context.Background(), cfg); err != nil {
		t.Fatalf("resolveSecrets: %v", err)
	}
	if cfg.LLM.APIKey != "sk-env" {
		t.Errorf("api key = %q", cfg.LLM.APIKey)
	}
	if cfg.Output.Neo4j.Password != "plain-password" {
		t.Errorf("literal password changed to %q", cfg.Output.Neo4j.Password)
	}

	cfg.LLM.APIKey = "vault:llm_api_key"
	if err := resolveSecrets(context.Background(), cfg); err == nil {
		t.Error("vault reference without vault config should fail")
	}
}
