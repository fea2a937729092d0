package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/local/liveocr/internal/limiter"
	mpkg "github.com/local/liveocr/internal/metrics"
)

const providerName = "gemini"

var tracer = otel.Tracer("github.com/local/liveocr/internal/ai")

// GeminiClient calls the Gemini generateContent endpoint with bounded retry.
type GeminiClient struct {
	cfg     ConfigSource
	keys    KeySource
	gate    limiter.Gate
	factory ModelsFactory
	timeout time.Duration
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	models map[string]Models // by API key
}

// Option configures a GeminiClient.
type Option func(*GeminiClient)

// WithModelsFactory replaces the SDK client constructor.
func WithModelsFactory(f ModelsFactory) Option {
	return func(c *GeminiClient) { c.factory = f }
}

// WithRequestTimeout bounds every single attempt. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *GeminiClient) { c.timeout = d }
}

// WithClock sets the time source used for gate trips.
func WithClock(now func() time.Time) Option {
	return func(c *GeminiClient) { c.now = now }
}

// WithSleep sets the function used to wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *GeminiClient) { c.sleep = sleep }
}

// NewGeminiClient returns a client reading configuration and credentials on
// every call and tripping gate on transient failures.
func NewGeminiClient(cfg ConfigSource, keys KeySource, gate limiter.Gate, opts ...Option) *GeminiClient {
	c := &GeminiClient{
		cfg:     cfg,
		keys:    keys,
		gate:    gate,
		factory: GeminiModels("", nil),
		timeout: 30 * time.Second,
		now:     time.Now,
		sleep:   sleepCtx,
		models:  map[string]Models{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *GeminiClient) Name() string { return providerName }

// Recognize sends image to the provider and returns its text. Only 429 and
// 5xx responses are retried, at most Retry.MaxRetries times. An empty text is
// a successful result.
func (c *GeminiClient) Recognize(ctx context.Context, image []byte, mimeType string) (Result, error) {
	key := c.keys.APIKey()
	if key == "" {
		return Result{}, &RecognitionError{Kind: KindNoAPIKey, Message: "provider API key is not configured"}
	}
	cfg := c.cfg.CaptureConfig()
	if cfg.ModelID == "" {
		return Result{}, &RecognitionError{Kind: KindNoModel, Message: "model is not configured"}
	}
	models, err := c.modelsFor(ctx, key)
	if err != nil {
		return Result{}, &RecognitionError{Kind: KindNetwork, Err: fmt.Errorf("create genai client: %w", err)}
	}

	ctx, span := tracer.Start(ctx, "ai.Recognize")
	defer span.End()
	span.SetAttributes(attribute.String("model", cfg.ModelID), attribute.Int("image_bytes", len(image)))

	for attempt := 0; ; attempt++ {
		req := NewRequest(image, mimeType, cfg)
		res, err := c.attempt(ctx, models, cfg.ModelID, req)
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt+1))
			return res, nil
		}

		var re *RecognitionError
		if !errors.As(err, &re) || re.Status == 0 {
			span.SetStatus(codes.Error, err.Error())
			return Result{}, err
		}

		// Every failed status trips the shared gate so other cycles back off too.
		c.gate.Trip(c.now(), limiter.MinCooldown)
		mpkg.GateTripped(string(re.Kind))

		if isTransientStatus(re.Status) && attempt < cfg.Retry.MaxRetries {
			delay := cfg.Retry.Delay(attempt)
			log.Warn().
				Str("provider", providerName).
				Str("model", cfg.ModelID).
				Int("attempt", attempt+1).
				Int("status", re.Status).
				Dur("backoff", delay).
				Msg("transient provider error, retrying")
			mpkg.IncRetry(cfg.ModelID)
			if err := c.sleep(ctx, delay); err != nil {
				return Result{}, &RecognitionError{Kind: KindNetwork, Err: err}
			}
			continue
		}

		log.Warn().
			Str("provider", providerName).
			Str("model", cfg.ModelID).
			Int("attempts", attempt+1).
			Int("status", re.Status).
			Str("kind", string(re.Kind)).
			Str("upstream", re.Message).
			Msg("provider call failed")
		span.SetStatus(codes.Error, re.Error())
		return Result{}, re
	}
}

// attempt performs a single call and classifies its outcome.
func (c *GeminiClient) attempt(ctx context.Context, models Models, model string, req Request) (Result, error) {
	actx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := models.GenerateContent(actx, model, req.Contents(), req.GenerateConfig())
	dur := time.Since(start)

	if err != nil {
		if status, msg, ok := statusOf(err); ok {
			kind := kindForStatus(status)
			mpkg.ObserveRecognize(providerName, model, string(kind), dur)
			return Result{}, &RecognitionError{Kind: kind, Status: status, Message: msg, Err: err}
		}
		if isDecodeError(err) {
			mpkg.ObserveRecognize(providerName, model, string(KindInvalidResponse), dur)
			return Result{}, &RecognitionError{Kind: KindInvalidResponse, Err: err}
		}
		mpkg.ObserveRecognize(providerName, model, string(KindNetwork), dur)
		log.Warn().Err(err).Str("model", model).Dur("duration", dur).Msg("provider unreachable")
		return Result{}, &RecognitionError{Kind: KindNetwork, Err: err}
	}

	res, err := parseResponse(resp)
	if err != nil {
		mpkg.ObserveRecognize(providerName, model, string(KindInvalidResponse), dur)
		return Result{}, err
	}
	mpkg.ObserveRecognize(providerName, model, "success", dur)
	mpkg.AddTokens(res.Usage.InputTokens, res.Usage.OutputTokens)
	log.Debug().
		Str("provider", providerName).
		Str("model", model).
		Dur("duration", dur).
		Int("tokens_in", res.Usage.InputTokens).
		Int("tokens_out", res.Usage.OutputTokens).
		Int("chars", len(res.RawText)).
		Msg("provider call success")
	return res, nil
}

func (c *GeminiClient) modelsFor(ctx context.Context, key string) (Models, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.models[key]; ok {
		return m, nil
	}
	m, err := c.factory(ctx, key)
	if err != nil {
		return nil, err
	}
	c.models[key] = m
	return m, nil
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
