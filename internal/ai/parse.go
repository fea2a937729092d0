package ai

import (
	"encoding/json"
	"strings"

	"google.golang.org/genai"
)

// parseResponse extracts the first candidate's text and the usage counters.
func parseResponse(resp *genai.GenerateContentResponse) (Result, error) {
	if resp == nil {
		return Result{}, &RecognitionError{Kind: KindInvalidResponse, Message: "empty response"}
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			b.WriteString(part.Text)
		}
		break
	}
	res := Result{RawText: UnwrapText(b.String())}
	if u := resp.UsageMetadata; u != nil {
		res.HasUsage = true
		res.Usage = Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
		}
	}
	return res, nil
}

// UnwrapText returns the "text" field when s is a JSON object carrying one,
// and s unchanged otherwise. A surrounding markdown code fence is tolerated.
func UnwrapText(s string) string {
	body := strings.TrimSpace(s)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimPrefix(body, "json")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
		body = strings.TrimSpace(body)
	}
	if !strings.HasPrefix(body, "{") {
		return s
	}
	var wrapped struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal([]byte(body), &wrapped); err != nil || wrapped.Text == nil {
		return s
	}
	return *wrapped.Text
}
