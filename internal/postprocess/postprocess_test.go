package postprocess

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/liveocr/internal/config"
)

func newCleaner(t *testing.T) *Cleaner {
	t.Helper()
	c, err := New(config.DefaultCapture())
	require.NoError(t, err)
	return c
}

func TestCleanStripsBoilerplate(t *testing.T) {
	c := newCleaner(t)
	assert.Equal(t, "HELLO WORLD", c.Clean("  @ezlink card balance\nHELLO WORLD\n"))
	assert.Equal(t, "NEXT TRAIN 3 MIN", c.Clean("Ad 1 of 3\nNEXT TRAIN 3 MIN"))
	assert.Equal(t, "PLATFORM", c.Clean("PLATFORM\nEZLINK top-up here"))
}

func TestCleanCollapsesBlankLines(t *testing.T) {
	c := newCleaner(t)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "whitespace only", in: " \n\t\n  ", want: ""},
		{name: "trims lines", in: "  A  \n\n\n  B", want: "A\nB"},
		{name: "crlf", in: "A\r\nB\r\n", want: "A\nB"},
		{name: "single line", in: "STOP", want: "STOP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Clean(tt.in))
		})
	}
}

func TestCleanIsIdempotent(t *testing.T) {
	c := newCleaner(t)
	inputs := []string{
		"",
		"  @ezlink card balance\nHELLO WORLD\n",
		"\n\nA\n  \nB  \n",
		"Ad 2/5 EXIT\n ezlink\n",
		"line one\r\n\r\nline two",
		"Ad Ad 3/4 5/6 EXIT",
		"ad ad 1 of 2 1 of 2",
		"@ezlink\nad ad 1 of 2 1 of 2\nGATE",
	}
	for _, in := range inputs {
		once := c.Clean(in)
		assert.Equal(t, once, c.Clean(once), "input %q", in)
	}
}

func TestCleanRemovesMatchesExposedByEarlierRemoval(t *testing.T) {
	c := newCleaner(t)
	assert.Equal(t, "EXIT", c.Clean("Ad Ad 3/4 5/6 EXIT"))
	assert.Equal(t, "", c.Clean("ad ad 1 of 2 1 of 2"))
	assert.True(t, c.IsNoText(c.Clean("ad ad 1 of 2 1 of 2")))
}

func TestNewRejectsBadPattern(t *testing.T) {
	cfg := config.DefaultCapture()
	cfg.BoilerplatePatterns = []string{"("}
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestIsNoText(t *testing.T) {
	c := newCleaner(t)
	assert.True(t, c.IsNoText(""))
	assert.True(t, c.IsNoText("NO_TEXT_FOUND"))
	assert.True(t, c.IsNoText("The image is Too Blurry to read."))
	assert.True(t, c.IsNoText("no_text_found"))
	assert.False(t, c.IsNoText("HELLO WORLD"))
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		hasUsage bool
		want     float64
	}{
		{name: "empty", text: "", want: 0.1},
		{name: "empty with usage", text: "", hasUsage: true, want: 0.1},
		{name: "short", text: "EXIT", want: 0.8},
		{name: "short with usage", text: "EXIT", hasUsage: true, want: 0.82},
		{name: "medium", text: "PLATFORM 2 NORTH", want: 0.9},
		{name: "medium with usage", text: "PLATFORM 2 NORTH", hasUsage: true, want: 0.92},
		{name: "long", text: strings.Repeat("a", 101), want: 0.95},
		{name: "long with usage", text: strings.Repeat("a", 150), hasUsage: true, want: 0.97},
		{name: "exactly ten", text: strings.Repeat("b", 10), want: 0.9},
		{name: "exactly hundred", text: strings.Repeat("b", 100), want: 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Confidence(tt.text, tt.hasUsage), 1e-9)
		})
	}
}

func TestConfidenceBounds(t *testing.T) {
	got := Confidence(strings.Repeat("x", 150), false)
	assert.Greater(t, got, 0.9)
	assert.LessOrEqual(t, got, 0.99)

	for _, n := range []int{1, 5, 9, 10, 50, 100, 101, 1000} {
		for _, usage := range []bool{false, true} {
			v := Confidence(strings.Repeat("z", n), usage)
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}
