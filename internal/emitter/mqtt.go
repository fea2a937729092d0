package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/local/liveocr/internal/config"
	"github.com/local/liveocr/internal/metrics"
)

var errNotConnected = errors.New("mqtt not connected")

// MQTTSink publishes results to <prefix>/results and status updates to
// <prefix>/status. The last status is retained on the broker.
type MQTTSink struct {
	cfg    config.MQTTConfig
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	published map[string]uint64 // per topic
	errors    uint64
}

// NewMQTTSink returns an unconnected sink for cfg.
func NewMQTTSink(cfg config.MQTTConfig) *MQTTSink {
	return &MQTTSink{cfg: cfg, published: map[string]uint64{}}
}

// Connect establishes the broker connection. Later drops are reconnected
// automatically.
func (e *MQTTSink) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		log.Info().Str("broker", e.cfg.Broker).Str("client_id", e.cfg.ClientID).Msg("mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		log.Warn().Err(err).Str("broker", e.cfg.Broker).Msg("mqtt connection lost, will auto-reconnect")
	}

	e.client = mqtt.NewClient(opts)
	log.Info().Str("broker", e.cfg.Broker).Msg("connecting to mqtt broker")

	token := e.client.Connect()
	timeout := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

// Disconnect closes the broker connection.
func (e *MQTTSink) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		log.Info().Msg("mqtt disconnected")
	}
	e.setConnected(false)
}

// Connected reports whether the last known connection state is up.
func (e *MQTTSink) Connected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTSink) Result(_ context.Context, rec ResultRecord) {
	err := e.publish(e.cfg.TopicPrefix+"/results", false, rec)
	metrics.IncPublished("mqtt", "result", err == nil)
	if err != nil {
		log.Warn().Err(err).Str("result_id", rec.ID).Msg("failed to publish result")
	}
}

func (e *MQTTSink) Status(_ context.Context, rec StatusRecord) {
	err := e.publish(e.cfg.TopicPrefix+"/status", true, rec)
	metrics.IncPublished("mqtt", "status", err == nil)
	if err != nil {
		log.Debug().Err(err).Msg("failed to publish status")
	}
}

func (e *MQTTSink) publish(topic string, retained bool, v any) error {
	if !e.Connected() || e.client == nil {
		e.countError()
		return errNotConnected
	}
	payload, err := json.Marshal(v)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	token := e.client.Publish(topic, e.cfg.QoS, retained, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}
	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()
	log.Debug().Str("topic", topic).Uint8("qos", e.cfg.QoS).Int("size", len(payload)).Msg("mqtt message published")
	return nil
}

// MQTTStats contains sink statistics.
type MQTTStats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// Stats returns a copy of the publish counters.
func (e *MQTTSink) Stats() MQTTStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return MQTTStats{Connected: e.connected, Published: published, Errors: e.errors}
}

func (e *MQTTSink) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTSink) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
