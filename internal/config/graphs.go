package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AssistantConfig binds an assistant id to a graph implementation.
type AssistantConfig struct {
	AssistantID string         `yaml:"assistant_id"`
	Graph       string         `yaml:"graph"`
	Endpoint    string         `yaml:"endpoint,omitempty"`
	Config      map[string]any `yaml:"config,omitempty"`
}

// GraphCatalog is the YAML document listing assistants.
type GraphCatalog struct {
	Assistants []AssistantConfig `yaml:"assistants"`
}

// ConfigJSON returns the assistant's static config as JSON.
func (a AssistantConfig) ConfigJSON() (json.RawMessage, error) {
	if len(a.Config) == 0 {
		return nil, nil
	}
	return json.Marshal(a.Config)
}

// ReadGraphCatalog loads a catalog from a YAML file.
func ReadGraphCatalog(path string) (*GraphCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph catalog: %w", err)
	}
	return ParseGraphCatalog(data)
}

// ParseGraphCatalog decodes a catalog and checks every entry names an id and graph.
func ParseGraphCatalog(data []byte) (*GraphCatalog, error) {
	var cat GraphCatalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse graph catalog: %w", err)
	}
	seen := make(map[string]bool, len(cat.Assistants))
	for i, a := range cat.Assistants {
		if a.AssistantID == "" || a.Graph == "" {
			return nil, fmt.Errorf("graph catalog entry %d: assistant_id and graph are required", i)
		}
		if seen[a.AssistantID] {
			return nil, fmt.Errorf("graph catalog: duplicate assistant_id %q", a.AssistantID)
		}
		seen[a.AssistantID] = true
	}
	return &cat, nil
}
