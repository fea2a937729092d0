package emitter

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/local/liveocr/internal/capture"
	"github.com/local/liveocr/internal/metrics"
)

// LogSink writes every report to the global logger.
type LogSink struct{}

func (LogSink) Result(_ context.Context, rec ResultRecord) {
	log.Info().
		Str("result_id", rec.ID).
		Str("text", rec.Text).
		Float64("confidence", rec.Confidence).
		Msg("result")
	metrics.IncPublished("log", "result", true)
}

func (LogSink) Status(_ context.Context, rec StatusRecord) {
	log.WithLevel(levelFor(rec.Severity)).Str("severity", string(rec.Severity)).Msg(rec.Message)
	metrics.IncPublished("log", "status", true)
}

func levelFor(s capture.Severity) zerolog.Level {
	switch s {
	case capture.SeverityError:
		return zerolog.ErrorLevel
	case capture.SeverityWarning:
		return zerolog.WarnLevel
	}
	return zerolog.InfoLevel
}
