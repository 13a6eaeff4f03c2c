package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/upb/llm-provider-manager/services/providers"
)

// PreferencesFile is the YAML layout of a routing preferences file:
//
//	task_types:
//	  conversation:
//	    primary: deepseek
//	    fallback: [openai, anthropic]
type PreferencesFile struct {
	TaskTypes map[string]providers.RoutingPreference `yaml:"task_types"`
}

// LoadPreferences reads routing preferences from a YAML file. Task types that
// the file does not mention keep their default preference.
func LoadPreferences(path string) ([]providers.RoutingPreference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routing preferences: %w", err)
	}
	return ParsePreferences(data)
}

// ParsePreferences decodes a routing preferences document
func ParsePreferences(data []byte) ([]providers.RoutingPreference, error) {
	var file PreferencesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, configError("", "parse routing preferences: %v", err)
	}

	overrides := make(map[providers.TaskType]providers.RoutingPreference, len(file.TaskTypes))
	for name, pref := range file.TaskTypes {
		task, err := providers.ParseTaskType(name)
		if err != nil {
			return nil, configError("", "unknown task type %q in routing preferences", name)
		}
		if pref.Primary == "" {
			return nil, configError("", "task type %q has no primary backend", name)
		}
		pref.TaskType = task
		overrides[task] = pref
	}

	defaults := providers.DefaultPreferences()
	out := make([]providers.RoutingPreference, 0, len(defaults))
	for _, pref := range defaults {
		if override, ok := overrides[pref.TaskType]; ok {
			pref = override
		}
		out = append(out, pref)
	}
	return out, nil
}
