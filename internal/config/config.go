// Package config handles Artifex configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./artifex.yaml, ~/.config/artifex/artifex.yaml, /etc/artifex/artifex.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"artifex.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "artifex", "artifex.yaml"))
	}

	paths = append(paths, "/etc/artifex/artifex.yaml")
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

// Config holds all Artifex configuration.
type Config struct {
	Listen   ListenConfig  `yaml:"listen"`
	Models   ModelsConfig  `yaml:"models"`
	Search   SearchConfig  `yaml:"search"`
	Browser  BrowserConfig `yaml:"browser"`
	Shell    ShellConfig   `yaml:"shell"`
	Retry    RetryConfig   `yaml:"retry"`
	DataDir  string        `yaml:"data_dir"`
	Projects string        `yaml:"projects_dir"`
	LogLevel string        `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines inference gateway settings. The default model is
// used by every role unless a per-role override is configured.
type ModelsConfig struct {
	Default   string            `yaml:"default"`
	OllamaURL string            `yaml:"ollama_url"`
	OpenAI    OpenAIConfig      `yaml:"openai"`
	Providers map[string]string `yaml:"providers"` // model name -> provider (ollama, openai)
	Roles     map[string]string `yaml:"roles"`     // role name -> model override
}

// OpenAIConfig defines an OpenAI-compatible provider endpoint.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // Empty = api.openai.com
}

// SearchConfig defines web search provider settings.
type SearchConfig struct {
	Provider   string `yaml:"provider"` // searxng or brave
	SearXNGURL string `yaml:"searxng_url"`
	BraveKey   string `yaml:"brave_api_key"`
}

// BrowserConfig defines the page-automation backend.
type BrowserConfig struct {
	Headless             bool   `yaml:"headless"`
	NavigationTimeoutSec int    `yaml:"navigation_timeout_sec"` // Default 30
	ScreenshotsDir       string `yaml:"screenshots_dir"`        // Default <data_dir>/screenshots
}

// ShellConfig defines command execution policy for the runner.
type ShellConfig struct {
	// DeniedPatterns are command substrings to block (e.g., "rm -rf /").
	DeniedPatterns []string `yaml:"denied_patterns"`
	// DefaultTimeoutSec is the per-command timeout in seconds (default 120).
	DefaultTimeoutSec int `yaml:"default_timeout_sec"`
}

// RetryConfig bounds role-agent retries against malformed model output.
type RetryConfig struct {
	// MaxAttempts is the per-step retry ceiling (default 5). A role that
	// produces no valid output within the ceiling fails its task's run.
	MaxAttempts int `yaml:"max_attempts"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
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
		Listen: ListenConfig{Port: 1337},
		Models: ModelsConfig{
			Default:   "qwen3:4b",
			OllamaURL: "http://localhost:11434",
		},
		Search: SearchConfig{
			Provider:   "searxng",
			SearXNGURL: "http://localhost:8888",
		},
		Browser: BrowserConfig{
			Headless:             true,
			NavigationTimeoutSec: 30,
		},
		Shell: ShellConfig{
			DefaultTimeoutSec: 120,
		},
		Retry:    RetryConfig{MaxAttempts: 5},
		DataDir:  "data",
		Projects: "projects",
	}
}
