package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/agentkit/internal/agent"
	"github.com/haasonsaas/agentkit/internal/compaction"
	"github.com/haasonsaas/agentkit/internal/providers"
)

// Config is the on-disk CLI configuration (agentkit.yaml).
type Config struct {
	Provider    string `yaml:"provider"`
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	APIKeyEnv   string `yaml:"api_key_env"`
	SessionRoot string `yaml:"session_root"`
	MaxSteps    int    `yaml:"max_steps"`

	PermissionMode string `yaml:"permission_mode"`

	SettingSources   []string `yaml:"setting_sources"`
	InstructionFiles []string `yaml:"instruction_files"`
	AllowedTools     []string `yaml:"allowed_tools"`

	Compaction struct {
		PruneToolOutputs bool    `yaml:"prune_tool_outputs"`
		KeepRecent       int     `yaml:"keep_recent"`
		Auto             bool    `yaml:"auto"`
		ContextLimit     int     `yaml:"context_limit"`
		Threshold        float64 `yaml:"threshold"`
	} `yaml:"compaction"`

	Agents map[string]struct {
		Prompt string   `yaml:"prompt"`
		Model  string   `yaml:"model"`
		Tools  []string `yaml:"tools"`
	} `yaml:"agents"`

	Commands map[string]string `yaml:"commands"`
}

// LoadConfig reads agentkit.yaml from the given path, or from the working
// directory when path is empty. A missing file yields defaults.
func LoadConfig(path, cwd string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		path = filepath.Join(cwd, "agentkit.yaml")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) apiKey() string {
	env := c.APIKeyEnv
	if env == "" {
		env = "OPENAI_API_KEY"
	}
	return os.Getenv(env)
}

func (c *Config) provider() (providers.Provider, error) {
	switch c.Provider {
	case "", "openai-responses":
		return providers.NewOpenAIResponses(providers.OpenAIResponsesConfig{BaseURL: c.BaseURL}), nil
	case "openai-chat":
		return providers.NewOpenAIChat(providers.OpenAIChatConfig{BaseURL: c.BaseURL}), nil
	case "anthropic":
		return providers.NewAnthropic(providers.AnthropicConfig{APIKey: c.apiKey(), BaseURL: c.BaseURL}), nil
	}
	return nil, fmt.Errorf("unknown provider %q", c.Provider)
}

func (c *Config) agents() map[string]agent.AgentDefinition {
	if len(c.Agents) == 0 {
		return nil
	}
	out := make(map[string]agent.AgentDefinition, len(c.Agents))
	for name, def := range c.Agents {
		out[name] = agent.AgentDefinition{Prompt: def.Prompt, Model: def.Model, Tools: def.Tools}
	}
	return out
}

func (c *Config) compaction() compaction.Options {
	return compaction.Options{
		PruneToolOutputs: c.Compaction.PruneToolOutputs,
		KeepRecent:       c.Compaction.KeepRecent,
		Auto:             c.Compaction.Auto,
		ContextLimit:     c.Compaction.ContextLimit,
		Threshold:        c.Compaction.Threshold,
	}
}
