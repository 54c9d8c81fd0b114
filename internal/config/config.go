// Package config handles Perplexity 2.0 configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/perplexity2/config.yaml,
// /etc/perplexity2/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "perplexity2", "config.yaml"))
	}

	paths = append(paths, "/etc/perplexity2/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all service configuration.
type Config struct {
	Listen   ListenConfig  `yaml:"listen"`
	Groq     GroqConfig    `yaml:"groq"`
	Search   SearchConfig  `yaml:"search"`
	Agent    AgentConfig   `yaml:"agent"`
	Archive  ArchiveConfig `yaml:"archive"`
	LogLevel string        `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// GroqConfig defines the Groq (OpenAI-compatible) model provider settings.
type GroqConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`    // Chat model (default: openai/gpt-oss-120b)
	BaseURL string `yaml:"base_url"` // Override the API endpoint (tests, proxies)
}

// SearchConfig defines web search provider settings.
type SearchConfig struct {
	// Primary names the provider used by the web_search tool.
	// Default: "tavily".
	Primary string       `yaml:"primary"`
	Tavily  TavilyConfig `yaml:"tavily"`
	Brave   BraveConfig  `yaml:"brave"`
}

// TavilyConfig holds Tavily Search API settings.
type TavilyConfig struct {
	APIKey     string `yaml:"api_key"`
	MaxResults int    `yaml:"max_results"` // Default: 8
}

// Configured reports whether a Tavily API key is set.
func (c TavilyConfig) Configured() bool {
	return c.APIKey != ""
}

// BraveConfig holds Brave Search API settings.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether a Brave API key is set.
func (c BraveConfig) Configured() bool {
	return c.APIKey != ""
}

// AgentConfig tunes the agent loop and context assembly.
type AgentConfig struct {
	// RecentWindow is the number of recent conversation messages sent to
	// the model verbatim. Older messages are folded into the running
	// summary. Default: 8.
	RecentWindow int `yaml:"recent_window"`

	// SummaryTrigger is the conversation length above which summarization
	// kicks in. Default: 12.
	SummaryTrigger int `yaml:"summary_trigger"`

	// MaxToolTurns caps tool executions per request so a model that keeps
	// requesting tools cannot loop forever. Default: 10.
	MaxToolTurns int `yaml:"max_tool_turns"`
}

// ArchiveConfig defines the optional transcript archive.
type ArchiveConfig struct {
	// Enabled turns on write-behind archiving of session transcripts.
	Enabled bool `yaml:"enabled"`
	// Path is the SQLite database file (default: archive.db).
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so secrets can live in the process
	// environment rather than the file (e.g. api_key: ${GROQ_API_KEY}).
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8000},
		Groq: GroqConfig{
			Model: "openai/gpt-oss-120b",
		},
		Search: SearchConfig{
			Primary: "tavily",
			Tavily:  TavilyConfig{MaxResults: 8},
		},
		Agent: AgentConfig{
			RecentWindow:   8,
			SummaryTrigger: 12,
			MaxToolTurns:   10,
		},
		Archive: ArchiveConfig{Path: "archive.db"},
	}
}
