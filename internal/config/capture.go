package config

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPrompt asks for plain text, or a {"text": ...} object some models insist on.
const DefaultPrompt = "Extract all readable text from this camera frame exactly as it appears, " +
	"preserving line breaks. Return only the text. If there is no readable text, reply with \"NO_TEXT_FOUND\"."

// RetryPolicy bounds the in-call retry loop of the recognition client.
type RetryPolicy struct {
	MaxRetries        int           `yaml:"max_retries"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// Delay returns BaseDelay * BackoffMultiplier^attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return time.Duration(float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt)))
}

// CaptureConfig is the read-only model, prompt and classification configuration.
type CaptureConfig struct {
	ModelID         string  `yaml:"model"`
	Temperature     float32 `yaml:"temperature"`
	MaxOutputTokens int32   `yaml:"max_output_tokens"`
	TopP            float32 `yaml:"top_p"`
	TopK            float32 `yaml:"top_k"`
	// ThinkingBudget is forwarded to the provider untouched when set.
	ThinkingBudget      *int32      `yaml:"thinking_budget,omitempty"`
	PromptText          string      `yaml:"prompt"`
	Retry               RetryPolicy `yaml:"retry"`
	NoTextPatterns      []string    `yaml:"no_text_patterns"`
	BoilerplatePatterns []string    `yaml:"boilerplate_patterns"`
}

// DefaultCapture returns the built-in capture configuration.
func DefaultCapture() CaptureConfig {
	return CaptureConfig{
		ModelID:         "gemini-2.5-flash",
		Temperature:     0.1,
		MaxOutputTokens: 1024,
		TopP:            0.95,
		TopK:            40,
		PromptText:      DefaultPrompt,
		Retry: RetryPolicy{
			MaxRetries:        2,
			BaseDelay:         time.Second,
			BackoffMultiplier: 2,
		},
		NoTextPatterns: []string{
			"NO_TEXT_FOUND",
			"no text",
			"no readable text",
			"unable to read",
			"too blurry",
		},
		BoilerplatePatterns: []string{
			`@?ezlink.*`,
			`\bad\s*\d+\s*(?:of|/)\s*\d+\b`,
		},
	}
}

// Validate checks the invariants the recognition client relies on.
func (c CaptureConfig) Validate() error {
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be > 0, got %s", c.Retry.BaseDelay)
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be >= 1, got %g", c.Retry.BackoffMultiplier)
	}
	for _, p := range c.BoilerplatePatterns {
		if _, err := regexp.Compile("(?i)" + p); err != nil {
			return fmt.Errorf("boilerplate pattern %q: %w", p, err)
		}
	}
	return nil
}

// Clone returns a copy that shares no slices or pointers with c.
func (c CaptureConfig) Clone() CaptureConfig {
	out := c
	out.NoTextPatterns = slices.Clone(c.NoTextPatterns)
	out.BoilerplatePatterns = slices.Clone(c.BoilerplatePatterns)
	if c.ThinkingBudget != nil {
		b := *c.ThinkingBudget
		out.ThinkingBudget = &b
	}
	return out
}

// LoadProfile overlays a YAML capture profile on base. Keys absent from the
// file keep their base values.
func LoadProfile(path string, base CaptureConfig) (CaptureConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read capture profile: %w", err)
	}
	out := base.Clone()
	if err := yaml.Unmarshal(data, &out); err != nil {
		return base, fmt.Errorf("failed to parse capture profile: %w", err)
	}
	if err := out.Validate(); err != nil {
		return base, fmt.Errorf("invalid capture profile: %w", err)
	}
	return out, nil
}

// Store serves the current capture configuration and provider key to
// concurrent readers.
type Store struct {
	mu      sync.RWMutex
	capture CaptureConfig
	apiKey  string
}

// NewStore validates c and returns a Store holding it.
func NewStore(c CaptureConfig, apiKey string) (*Store, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &Store{capture: c.Clone(), apiKey: apiKey}, nil
}

// CaptureConfig returns a private copy of the current configuration.
func (s *Store) CaptureConfig() CaptureConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capture.Clone()
}

// SetCaptureConfig replaces the configuration after validating it.
func (s *Store) SetCaptureConfig(c CaptureConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.capture = c.Clone()
	s.mu.Unlock()
	return nil
}

// APIKey returns the provider credential, empty when unset.
func (s *Store) APIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKey
}

// SetAPIKey replaces the provider credential.
func (s *Store) SetAPIKey(k string) {
	s.mu.Lock()
	s.apiKey = k
	s.mu.Unlock()
}
