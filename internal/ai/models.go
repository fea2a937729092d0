package ai

import (
	"context"
	"net/http"

	"google.golang.org/genai"
)

// Models is the slice of the GenAI SDK the client depends on.
type Models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content,
		config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ModelsFactory builds a Models for one API key.
type ModelsFactory func(ctx context.Context, apiKey string) (Models, error)

// modelsWrapper implements Models on top of *genai.Models.
type modelsWrapper struct {
	models *genai.Models
}

func (m *modelsWrapper) GenerateContent(ctx context.Context, model string, contents []*genai.Content,
	config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.models.GenerateContent(ctx, model, contents, config)
}

// GeminiModels returns a factory creating Gemini API clients. baseURL and
// httpClient are optional.
func GeminiModels(baseURL string, httpClient *http.Client) ModelsFactory {
	return func(ctx context.Context, apiKey string) (Models, error) {
		cc := &genai.ClientConfig{
			APIKey:     apiKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: httpClient,
		}
		if baseURL != "" {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
		}
		client, err := genai.NewClient(ctx, cc)
		if err != nil {
			return nil, err
		}
		return &modelsWrapper{models: client.Models}, nil
	}
}
