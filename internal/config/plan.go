package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/activeprobe/internal/probe"
)

// PlanEntry describes a single playback test.
type PlanEntry struct {
	Name       string `yaml:"name"`
	Technology string `yaml:"technology,omitempty"`
	VideoURL   string `yaml:"video_url"`
}

// Plan is the top-level YAML test plan. Tests run in file order.
type Plan struct {
	Host  string      `yaml:"host,omitempty"`
	Tests []PlanEntry `yaml:"tests"`
}

// LoadPlan reads and validates a test plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("test plan: %w", err)
	}
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("test plan: %w", err)
	}
	if len(plan.Tests) < 1 {
		return nil, fmt.Errorf("test plan: at least one test entry is required")
	}
	for i := range plan.Tests {
		t := &plan.Tests[i]
		if t.Name == "" {
			t.Name = fmt.Sprintf("test-%d", i+1)
		}
		t.Technology = strings.ToLower(t.Technology)
		if t.Technology != "" && !probe.ValidTechnology(t.Technology) {
			return nil, fmt.Errorf("test plan: tests[%d] (%s) unknown technology %q", i, t.Name, t.Technology)
		}
	}
	return &plan, nil
}
