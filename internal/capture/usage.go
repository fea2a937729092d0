package capture

import (
	"sync"

	"github.com/local/liveocr/internal/ai"
)

// UsageTotals is a point-in-time copy of the accumulated provider usage.
type UsageTotals struct {
	Calls        int64 `json:"calls"`
	WithUsage    int64 `json:"calls_with_usage"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// UsageAccumulator sums token usage of successful recognitions. It only
// records; nothing reads it back to make decisions.
type UsageAccumulator struct {
	mu     sync.Mutex
	totals UsageTotals
}

// Add records one successful call.
func (u *UsageAccumulator) Add(res ai.Result) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.totals.Calls++
	if !res.HasUsage {
		return
	}
	u.totals.WithUsage++
	u.totals.InputTokens += int64(res.Usage.InputTokens)
	u.totals.OutputTokens += int64(res.Usage.OutputTokens)
}

// Totals returns the current sums.
func (u *UsageAccumulator) Totals() UsageTotals {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.totals
}
