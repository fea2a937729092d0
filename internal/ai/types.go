package ai

import (
	"context"

	"google.golang.org/genai"

	"github.com/local/liveocr/internal/config"
)

// CaptureMIME is the format frames are captured in.
const CaptureMIME = "image/jpeg"

// GenerationParams are passed to the provider verbatim.
type GenerationParams struct {
	Temperature     float32
	MaxOutputTokens int32
	TopP            float32
	TopK            float32
	ThinkingBudget  *int32
}

// Request is one outbound recognition call. A new Request is built for
// every attempt and is not modified afterwards.
type Request struct {
	Image    []byte
	MIMEType string
	Prompt   string
	Params   GenerationParams
}

// NewRequest builds a Request for image from the capture configuration.
func NewRequest(image []byte, mimeType string, cfg config.CaptureConfig) Request {
	if mimeType == "" {
		mimeType = CaptureMIME
	}
	var budget *int32
	if cfg.ThinkingBudget != nil {
		b := *cfg.ThinkingBudget
		budget = &b
	}
	return Request{
		Image:    image,
		MIMEType: mimeType,
		Prompt:   cfg.PromptText,
		Params: GenerationParams{
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
			TopP:            cfg.TopP,
			TopK:            cfg.TopK,
			ThinkingBudget:  budget,
		},
	}
}

// Contents returns a single user turn: prompt text followed by the inline image.
func (r Request) Contents() []*genai.Content {
	parts := []*genai.Part{
		genai.NewPartFromText(r.Prompt),
		genai.NewPartFromBytes(r.Image, r.MIMEType),
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

// GenerateConfig maps the generation parameters onto the SDK config.
func (r Request) GenerateConfig() *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(r.Params.Temperature),
		TopP:            genai.Ptr(r.Params.TopP),
		TopK:            genai.Ptr(r.Params.TopK),
		MaxOutputTokens: r.Params.MaxOutputTokens,
	}
	if r.Params.ThinkingBudget != nil {
		gc.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(*r.Params.ThinkingBudget)}
	}
	return gc
}

// Usage holds token counters reported by the provider.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Result is a successful recognition. RawText may be empty.
type Result struct {
	RawText  string
	Usage    Usage
	HasUsage bool
}

// Client recognizes text in a single image. Implementations must be safe
// for concurrent use.
type Client interface {
	Name() string
	Recognize(ctx context.Context, image []byte, mimeType string) (Result, error)
}

// ConfigSource supplies the current capture configuration.
type ConfigSource interface {
	CaptureConfig() config.CaptureConfig
}

// KeySource supplies the provider credential.
type KeySource interface {
	APIKey() string
}
