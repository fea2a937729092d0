package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, BackoffMultiplier: 2}
	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))

	flat := RetryPolicy{BaseDelay: time.Second, BackoffMultiplier: 1}
	assert.Equal(t, time.Second, flat.Delay(5))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *CaptureConfig)
		wantErr string
	}{
		{name: "defaults", mutate: func(*CaptureConfig) {}},
		{name: "negative retries", mutate: func(c *CaptureConfig) { c.Retry.MaxRetries = -1 }, wantErr: "max_retries"},
		{name: "zero delay", mutate: func(c *CaptureConfig) { c.Retry.BaseDelay = 0 }, wantErr: "base_delay"},
		{name: "shrinking backoff", mutate: func(c *CaptureConfig) { c.Retry.BackoffMultiplier = 0.5 }, wantErr: "backoff_multiplier"},
		{name: "bad regex", mutate: func(c *CaptureConfig) { c.BoilerplatePatterns = []string{"(["} }, wantErr: "boilerplate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultCapture()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadProfileOverlaysBase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model: gemini-2.0-flash
thinking_budget: 0
retry:
  max_retries: 4
  base_delay: 250ms
  backoff_multiplier: 1.5
no_text_patterns: ["nothing here"]
`), 0o644))

	base := DefaultCapture()
	got, err := LoadProfile(path, base)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", got.ModelID)
	require.NotNil(t, got.ThinkingBudget)
	assert.Equal(t, int32(0), *got.ThinkingBudget)
	assert.Equal(t, RetryPolicy{MaxRetries: 4, BaseDelay: 250 * time.Millisecond, BackoffMultiplier: 1.5}, got.Retry)
	assert.Equal(t, []string{"nothing here"}, got.NoTextPatterns)
	assert.Equal(t, base.PromptText, got.PromptText)
	assert.Equal(t, base.BoilerplatePatterns, got.BoilerplatePatterns)
}

func TestLoadProfileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry:\n  backoff_multiplier: 0.2\n"), 0o644))
	base := DefaultCapture()
	got, err := LoadProfile(path, base)
	require.Error(t, err)
	assert.Equal(t, base.Retry, got.Retry)
}

func TestStoreReturnsCopies(t *testing.T) {
	s, err := NewStore(DefaultCapture(), "key")
	require.NoError(t, err)
	c := s.CaptureConfig()
	c.NoTextPatterns[0] = "mutated"
	assert.NotEqual(t, "mutated", s.CaptureConfig().NoTextPatterns[0])
	assert.Equal(t, "key", s.APIKey())

	s.SetAPIKey("")
	assert.Empty(t, s.APIKey())

	bad := DefaultCapture()
	bad.Retry.BaseDelay = 0
	assert.Error(t, s.SetCaptureConfig(bad))
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "abc")
	t.Setenv("GEMINI_MODEL", "gemini-test")
	t.Setenv("GEMINI_THINKING_BUDGET", "128")
	t.Setenv("RETRY_MAX", "5")
	t.Setenv("NO_TEXT_PATTERNS", "a, b ,,c")
	t.Setenv("BOILERPLATE_PATTERNS", `foo.*;bar\d{1,2}`)
	t.Setenv("CAPTURE_MODE", "Continuous")

	cfg := FromEnv()
	assert.Equal(t, "abc", cfg.Provider.APIKey)
	assert.Equal(t, "gemini-test", cfg.Capture.ModelID)
	require.NotNil(t, cfg.Capture.ThinkingBudget)
	assert.Equal(t, int32(128), *cfg.Capture.ThinkingBudget)
	assert.Equal(t, 5, cfg.Capture.Retry.MaxRetries)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Capture.NoTextPatterns)
	assert.Equal(t, []string{"foo.*", `bar\d{1,2}`}, cfg.Capture.BoilerplatePatterns)
	assert.Equal(t, "continuous", cfg.Scheduler.Mode)
	assert.NoError(t, cfg.Capture.Validate())
}
