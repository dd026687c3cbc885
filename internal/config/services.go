package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/titanous/json5"
)

// Service describes one alternative LLM endpoint from llmservices.json.
// Roles bind to a service by id; capability tags support model selection.
type Service struct {
	ID             string   `json:"id"`
	BaseURL        string   `json:"baseURL"`
	Model          string   `json:"model"`
	APIKey         string   `json:"apiKey,omitempty"`
	CapabilityTags []string `json:"capabilityTags,omitempty"`
	MaxTokens      int      `json:"maxTokens,omitempty"`
}

// HasTag reports whether the service carries the given capability tag.
func (s *Service) HasTag(tag string) bool {
	for _, t := range s.CapabilityTags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

type servicesFile struct {
	Services []Service `json:"services"`
}

// LoadServices reads llmservices.json. A missing file yields an empty list.
func LoadServices(path string) ([]Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read llm services: %w", err)
	}

	var f servicesFile
	if err := json5.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse llm services: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Services))
	for _, s := range f.Services {
		if s.ID == "" {
			return nil, fmt.Errorf("llm service entry missing id")
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("duplicate llm service id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}

	return f.Services, nil
}
