package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Assessment is one exam template. Difficulty is "easy" | "medium" | "hard",
// Environment is the sandbox tool ("kicad" | "freecad" | "blender"), and
// TimeLimit is in seconds.
type Assessment struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Difficulty   string          `json:"difficulty"`
	Environment  string          `json:"environment"`
	TimeLimit    int             `json:"time_limit"`
	IntroConfig  json.RawMessage `json:"intro_config"`
	DomainConfig json.RawMessage `json:"domain_config"`
	LabConfig    json.RawMessage `json:"lab_config"`
	CreatedAt    time.Time       `json:"created_at"`
}

// PhaseConfig drives one interview phase. Static phases walk the fixed
// question list; adaptive phases may probe each answer up to MaxProbeDepth
// follow-ups before moving on.
type PhaseConfig struct {
	Questions      []string `json:"questions"`
	Adaptive       bool     `json:"adaptive"`
	MaxQuestions   int      `json:"max_questions"`
	MaxProbeDepth  int      `json:"max_probe_depth,omitempty"`
	AdaptivePrompt string   `json:"adaptive_prompt,omitempty"`
}

func (c *PhaseConfig) Validate() error {
	if c.MaxQuestions <= 0 {
		return fmt.Errorf("max_questions must be positive")
	}
	if !c.Adaptive && len(c.Questions) == 0 {
		return fmt.Errorf("static phase requires a question list")
	}
	if c.Adaptive && c.MaxProbeDepth < 0 {
		return fmt.Errorf("max_probe_depth cannot be negative")
	}
	return nil
}

type RubricCheckpoint struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Weight        int    `json:"weight"`
	ExpectedOrder int    `json:"expected_order,omitempty"`
}

type Rubric struct {
	Checkpoints []RubricCheckpoint `json:"checkpoints"`
}

type LabConfig struct {
	ProblemStatement string `json:"problem_statement"`
	Rubric           Rubric `json:"rubric"`
}

func (c *LabConfig) Validate() error {
	if len(c.Rubric.Checkpoints) == 0 {
		return fmt.Errorf("rubric requires at least one checkpoint")
	}
	for _, cp := range c.Rubric.Checkpoints {
		if cp.Name == "" {
			return fmt.Errorf("rubric checkpoint missing name")
		}
		if cp.Weight <= 0 {
			return fmt.Errorf("rubric checkpoint %q has non-positive weight", cp.Name)
		}
	}
	return nil
}

// ParsePhaseConfig validates as it parses so malformed assessment configs
// fail at write/read time rather than mid-interview.
func ParsePhaseConfig(raw json.RawMessage) (*PhaseConfig, error) {
	var cfg PhaseConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("invalid phase config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func ParseLabConfig(raw json.RawMessage) (*LabConfig, error) {
	var cfg LabConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("invalid lab config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
