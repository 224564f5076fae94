package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Step is one external command of the redeploy pipeline.
type Step struct {
	Name    string        `mapstructure:"name" json:"name"`
	Command string        `mapstructure:"command" json:"command"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"` // 0 means no limit
}

// DefaultSteps fetches, installs, builds and tests a Node service.
func DefaultSteps() []Step {
	return []Step{
		{Name: "update", Command: "git pull"},
		{Name: "install", Command: "npm ci"},
		{Name: "build", Command: "npm run build"},
		{Name: "test", Command: "npm test"},
	}
}

func (s Step) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return fmt.Errorf("step name is required")
	}
	if strings.ContainsAny(name, " \t\n\r/\\<>:\"|?*") {
		return fmt.Errorf("step %q: name contains invalid characters", name)
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("step %q requires command", name)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("step %q: timeout cannot be negative", name)
	}
	return nil
}

// ValidateSteps checks every step and rejects duplicate names.
func ValidateSteps(steps []Step) error {
	seen := make(map[string]bool, len(steps))
	for i, s := range steps {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate step name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}
