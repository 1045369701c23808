package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModePromptOverride replaces prompt text or generation parameters of one mode.
// Zero fields keep the built-in value.
type ModePromptOverride struct {
	SystemPrompt    string   `yaml:"system_prompt"`
	Instruction     string   `yaml:"instruction"`
	Temperature     *float64 `yaml:"temperature"`
	MaxOutputTokens int      `yaml:"max_output_tokens"`
}

// ModePromptsYAML is the layout of the MODE_PROMPTS_PATH file.
type ModePromptsYAML struct {
	Modes map[string]ModePromptOverride `yaml:"modes"`
}

// LoadModePrompts reads mode overrides from a YAML file. An empty path yields
// no overrides.
func LoadModePrompts(filePath string) (map[string]ModePromptOverride, error) {
	if strings.TrimSpace(filePath) == "" {
		return map[string]ModePromptOverride{}, nil
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadModePrompts: failed to get absolute path: %w", err)
	}
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("op=config.LoadModePrompts: config file not found: %s", absPath)
	}
	// #nosec G304 -- path comes from operator configuration
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadModePrompts: failed to read config file: %w", err)
	}
	var doc ModePromptsYAML
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("op=config.LoadModePrompts: failed to parse YAML: %w", err)
	}
	out := make(map[string]ModePromptOverride, len(doc.Modes))
	for id, o := range doc.Modes {
		o.SystemPrompt = strings.TrimSpace(o.SystemPrompt)
		o.Instruction = strings.TrimSpace(o.Instruction)
		out[strings.TrimSpace(id)] = o
	}
	return out, nil
}
