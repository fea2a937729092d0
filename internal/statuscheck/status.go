package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/local/liveocr/internal/emitter"
)

const defaultProviderURL = "https://generativelanguage.googleapis.com"

// RedisPinger models the minimal Redis capability we need for status checks.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// Publisher reports the connection state and counters of the MQTT sink.
type Publisher interface {
	Stats() emitter.MQTTStats
}

// Activity reports whether a device is running, e.g. the camera.
type Activity interface {
	IsActive() bool
}

// KeySource supplies the provider credential.
type KeySource interface {
	APIKey() string
}

// Checker aggregates health checks for the dependencies of a capture session.
type Checker struct {
	redis       RedisPinger
	mqtt        Publisher
	camera      Activity
	keys        KeySource
	httpClient  *http.Client
	providerURL string
}

// Options configures the Checker. Nil Redis or MQTT means the feature is disabled.
type Options struct {
	Redis       RedisPinger
	MQTT        Publisher
	Camera      Activity
	Keys        KeySource
	HTTPClient  *http.Client
	ProviderURL string
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis    Status `json:"redis"`
	MQTT     Status `json:"mqtt"`
	Camera   Status `json:"camera"`
	Provider Status `json:"provider"`
}

// Healthy reports whether every subsystem is OK.
func (s Summary) Healthy() bool {
	return s.Redis.OK && s.MQTT.OK && s.Camera.OK && s.Provider.OK
}

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	url := strings.TrimRight(opts.ProviderURL, "/")
	if url == "" {
		url = defaultProviderURL
	}
	return &Checker{
		redis:       opts.Redis,
		mqtt:        opts.MQTT,
		camera:      opts.Camera,
		keys:        opts.Keys,
		httpClient:  client,
		providerURL: url,
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis:    c.checkRedis(ctx),
		MQTT:     c.checkMQTT(),
		Camera:   c.checkCamera(),
		Provider: c.checkProvider(ctx),
	}
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.redis == nil {
		return Status{OK: true, Message: "Disabled"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkMQTT() Status {
	if c.mqtt == nil {
		return Status{OK: true, Message: "Disabled"}
	}
	st := c.mqtt.Stats()
	var published uint64
	for _, n := range st.Published {
		published += n
	}
	counters := fmt.Sprintf("%d published, %d errors", published, st.Errors)
	if !st.Connected {
		return Status{OK: false, Message: "Disconnected (" + counters + ")"}
	}
	return Status{OK: true, Message: "Connected (" + counters + ")"}
}

func (c *Checker) checkCamera() Status {
	if c.camera == nil || !c.camera.IsActive() {
		return Status{OK: false, Message: "Inactive"}
	}
	return Status{OK: true, Message: "Active"}
}

// checkProvider lists one model to prove the key is accepted.
func (c *Checker) checkProvider(ctx context.Context) Status {
	key := ""
	if c.keys != nil {
		key = strings.TrimSpace(c.keys.APIKey())
	}
	if key == "" {
		return Status{OK: false, Message: "API key missing"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.providerURL+"/v1beta/models?pageSize=1", nil)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	req.Header.Set("x-goog-api-key", key)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Status{OK: false, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return Status{OK: true, Message: "Available"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
