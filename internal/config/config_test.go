package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_GROQ_KEY", "gsk-test-123")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
listen:
  port: 9000
groq:
  api_key: ${TEST_GROQ_KEY}
  model: openai/gpt-oss-120b
search:
  primary: tavily
  tavily:
    api_key: tvly-abc
    max_results: 5
agent:
  recent_window: 4
log_level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Listen.Port)
	}
	if cfg.Groq.APIKey != "gsk-test-123" {
		t.Errorf("env expansion failed, got %q", cfg.Groq.APIKey)
	}
	if cfg.Search.Tavily.MaxResults != 5 {
		t.Errorf("expected max_results 5, got %d", cfg.Search.Tavily.MaxResults)
	}
	if cfg.Agent.RecentWindow != 4 {
		t.Errorf("expected recent_window 4, got %d", cfg.Agent.RecentWindow)
	}
}

func TestLoadKeepsDefaultsForOmittedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Agent.SummaryTrigger != 12 {
		t.Errorf("expected default summary_trigger 12, got %d", cfg.Agent.SummaryTrigger)
	}
	if cfg.Agent.MaxToolTurns != 10 {
		t.Errorf("expected default max_tool_turns 10, got %d", cfg.Agent.MaxToolTurns)
	}
	if cfg.Search.Primary != "tavily" {
		t.Errorf("expected default primary tavily, got %q", cfg.Search.Primary)
	}
	if cfg.Groq.Model != "openai/gpt-oss-120b" {
		t.Errorf("unexpected default model %q", cfg.Groq.Model)
	}
}

func TestFindConfigExplicitMissing(t *testing.T) {
	_, err := FindConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"", slog.LevelInfo, true},
		{"info", slog.LevelInfo, true},
		{"TRACE", LevelTrace, true},
		{" debug ", slog.LevelDebug, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
	}

	for _, tc := range cases {
		got, err := ParseLogLevel(tc.in)
		if tc.ok && err != nil {
			t.Errorf("ParseLogLevel(%q): unexpected error %v", tc.in, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ParseLogLevel(%q): expected error", tc.in)
		}
		if got != tc.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
