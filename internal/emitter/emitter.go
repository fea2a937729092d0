// Package emitter delivers cycle outcomes to the result history, the log and
// the MQTT broker.
package emitter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/local/liveocr/internal/capture"
)

// ResultRecord is one displayed recognition result.
type ResultRecord struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}

// StatusRecord is one status update.
type StatusRecord struct {
	Message  string           `json:"message"`
	Severity capture.Severity `json:"severity"`
	At       time.Time        `json:"at"`
}

// Sink receives records built by a Fanout.
type Sink interface {
	Result(ctx context.Context, rec ResultRecord)
	Status(ctx context.Context, rec StatusRecord)
}

// Fanout implements capture.Reporter by stamping every report once and
// handing it to each sink in order.
type Fanout struct {
	sinks []Sink
	now   func() time.Time
}

var _ capture.Reporter = (*Fanout)(nil)

// NewFanout returns a reporter writing to sinks. Nil sinks are ignored.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{now: time.Now}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

func (f *Fanout) ReportResult(ctx context.Context, text string, confidence float64) {
	rec := ResultRecord{ID: uuid.NewString(), Text: text, Confidence: confidence, At: f.now().UTC()}
	for _, s := range f.sinks {
		s.Result(ctx, rec)
	}
}

func (f *Fanout) ReportStatus(ctx context.Context, message string, severity capture.Severity) {
	rec := StatusRecord{Message: message, Severity: severity, At: f.now().UTC()}
	for _, s := range f.sinks {
		s.Status(ctx, rec)
	}
}
