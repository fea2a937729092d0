package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/liveocr/internal/capture"
	"github.com/local/liveocr/internal/config"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeBroker overrides the publish path of mqtt.Client.
type fakeBroker struct {
	mqtt.Client
	mu   sync.Mutex
	msgs []message
	err  error
}

func (b *fakeBroker) IsConnected() bool { return true }
func (b *fakeBroker) Disconnect(uint)   {}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, message{topic, qos, retained, payload.([]byte)})
	return doneToken{err: b.err}
}

type recordingSink struct {
	results  []ResultRecord
	statuses []StatusRecord
}

func (s *recordingSink) Result(_ context.Context, rec ResultRecord) {
	s.results = append(s.results, rec)
}

func (s *recordingSink) Status(_ context.Context, rec StatusRecord) {
	s.statuses = append(s.statuses, rec)
}

func TestFanoutStampsOnce(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	f := NewFanout(a, nil, b)
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	f.now = func() time.Time { return at }

	f.ReportResult(context.Background(), "HELLO", 0.92)
	f.ReportStatus(context.Background(), "Throttled", capture.SeverityWarning)

	require.Len(t, a.results, 1)
	require.Len(t, b.results, 1)
	assert.Equal(t, a.results[0], b.results[0])
	assert.NotEmpty(t, a.results[0].ID)
	assert.Equal(t, "HELLO", a.results[0].Text)
	assert.Equal(t, at, a.results[0].At)
	assert.Equal(t, []StatusRecord{{Message: "Throttled", Severity: capture.SeverityWarning, At: at}}, b.statuses)
}

func TestHistoryIsBoundedNewestFirst(t *testing.T) {
	h := NewHistory(3)
	ctx := context.Background()
	assert.Empty(t, h.Results(0))

	for i := 1; i <= 5; i++ {
		h.Result(ctx, ResultRecord{ID: fmt.Sprint(i)})
		if i == 2 {
			assert.Equal(t, []string{"2", "1"}, ids(h.Results(0)))
		}
	}
	assert.Equal(t, []string{"5", "4", "3"}, ids(h.Results(0)))
	assert.Equal(t, []string{"5", "4"}, ids(h.Results(2)))
	assert.Equal(t, []string{"5", "4", "3"}, ids(h.Results(10)))

	_, ok := h.LastStatus()
	assert.False(t, ok)
	h.Status(ctx, StatusRecord{Message: "a"})
	h.Status(ctx, StatusRecord{Message: "b"})
	last, ok := h.LastStatus()
	assert.True(t, ok)
	assert.Equal(t, "b", last.Message)
}

func ids(recs []ResultRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func TestMQTTSinkPublishes(t *testing.T) {
	broker := &fakeBroker{}
	s := NewMQTTSink(config.MQTTConfig{TopicPrefix: "liveocr/cam1", QoS: 1})
	s.client = broker
	s.setConnected(true)

	ctx := context.Background()
	s.Result(ctx, ResultRecord{ID: "r1", Text: "EXIT 3", Confidence: 0.82})
	s.Status(ctx, StatusRecord{Message: "ok", Severity: capture.SeverityInfo})

	require.Len(t, broker.msgs, 2)
	assert.Equal(t, "liveocr/cam1/results", broker.msgs[0].topic)
	assert.Equal(t, byte(1), broker.msgs[0].qos)
	assert.False(t, broker.msgs[0].retained)
	var got ResultRecord
	require.NoError(t, json.Unmarshal(broker.msgs[0].payload, &got))
	assert.Equal(t, "EXIT 3", got.Text)
	assert.Equal(t, 0.82, got.Confidence)

	assert.Equal(t, "liveocr/cam1/status", broker.msgs[1].topic)
	assert.True(t, broker.msgs[1].retained)
	assert.JSONEq(t, `{"message":"ok","severity":"info","at":"0001-01-01T00:00:00Z"}`, string(broker.msgs[1].payload))

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Published["liveocr/cam1/results"])
	assert.Equal(t, uint64(0), stats.Errors)
}

func TestMQTTSinkCountsErrors(t *testing.T) {
	s := NewMQTTSink(config.MQTTConfig{TopicPrefix: "liveocr"})
	s.Result(context.Background(), ResultRecord{ID: "x"})
	assert.Equal(t, uint64(1), s.Stats().Errors)

	broker := &fakeBroker{err: errors.New("broker rejected")}
	s.client = broker
	s.setConnected(true)
	s.Status(context.Background(), StatusRecord{Message: "x"})
	assert.Equal(t, uint64(2), s.Stats().Errors)
	assert.Empty(t, s.Stats().Published)

	s.Disconnect()
	assert.False(t, s.Connected())
}

func TestLogSinkLevels(t *testing.T) {
	assert.Equal(t, "error", levelFor(capture.SeverityError).String())
	assert.Equal(t, "warn", levelFor(capture.SeverityWarning).String())
	assert.Equal(t, "info", levelFor(capture.SeverityInfo).String())
	LogSink{}.Result(context.Background(), ResultRecord{ID: "1", Text: "x"})
	LogSink{}.Status(context.Background(), StatusRecord{Message: "x"})
}
