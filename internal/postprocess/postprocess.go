// Package postprocess turns raw recognized text into what is shown to the user.
package postprocess

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/local/liveocr/internal/config"
)

// Cleaner holds the compiled boilerplate and no-text rules of one capture
// configuration. It is immutable and safe for concurrent use.
type Cleaner struct {
	boilerplate []*regexp.Regexp
	noText      []string // lowercased
}

// New compiles the patterns of cfg. Boilerplate patterns match case-insensitively.
func New(cfg config.CaptureConfig) (*Cleaner, error) {
	c := &Cleaner{}
	for _, p := range cfg.BoilerplatePatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile boilerplate pattern %q: %w", p, err)
		}
		c.boilerplate = append(c.boilerplate, re)
	}
	for _, p := range cfg.NoTextPatterns {
		if p = strings.TrimSpace(p); p != "" {
			c.noText = append(c.noText, strings.ToLower(p))
		}
	}
	return c, nil
}

// Clean strips boilerplate, trims every line and drops blank ones. Removing a
// match can join its neighbours into a new one, so both steps repeat until the
// text stops changing; Clean(Clean(x)) == Clean(x).
func (c *Cleaner) Clean(raw string) string {
	text := raw
	for {
		next := tidyLines(c.strip(text))
		if next == text {
			return next
		}
		text = next
	}
}

func (c *Cleaner) strip(text string) string {
	for {
		prev := text
		for _, re := range c.boilerplate {
			text = re.ReplaceAllString(text, "")
		}
		if text == prev {
			return text
		}
	}
}

func tidyLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// IsNoText reports whether cleaned text should be treated as "nothing
// readable": empty, or containing any no-text pattern regardless of case.
func (c *Cleaner) IsNoText(cleaned string) bool {
	if cleaned == "" {
		return true
	}
	lower := strings.ToLower(cleaned)
	for _, p := range c.noText {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Confidence is a display heuristic derived from text length and whether the
// provider reported usage. It is not calibrated against ground truth.
func Confidence(text string, hasUsage bool) float64 {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0.1
	}
	score := 0.9
	switch {
	case n > 100:
		score = math.Min(score+0.05, 0.98)
	case n < 10:
		score = math.Max(score-0.1, 0.7)
	}
	if hasUsage {
		score = math.Min(score+0.02, 0.99)
	}
	return math.Round(score*1000) / 1000
}
