package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/liveocr/internal/config"
)

type captureSink struct{ events []axiom.Event }

func (c *captureSink) Send(ev axiom.Event) { c.events = append(c.events, ev) }

func TestAxiomWriterFiltersDebug(t *testing.T) {
	sink := &captureSink{}
	w := &axiomWriter{sink: sink}

	n, err := w.Write([]byte(`{"level":"debug","message":"noise"}`))
	require.NoError(t, err)
	assert.Equal(t, 35, n)
	assert.Empty(t, sink.events)

	_, err = w.Write([]byte(`{"level":"warn","message":"throttled"}`))
	require.NoError(t, err)
	_, err = w.Write([]byte("not json"))
	require.NoError(t, err)

	require.Len(t, sink.events, 2)
	assert.Equal(t, "liveocr", sink.events[0]["service"])
	assert.Equal(t, "throttled", sink.events[0]["message"])
	assert.Contains(t, sink.events[0], ingest.TimestampField)
	assert.Equal(t, "not json", sink.events[1]["message"])
}

func TestInitWritesToFile(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	file := filepath.Join(t.TempDir(), "logs", "liveocr.log")
	require.NoError(t, Init(Options{Level: "warn", File: file, MaxSizeMB: 1}))
	log.Info().Msg("dropped by level")
	log.Warn().Str("cycle_id", "c1").Msg("kept")
	Close()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped by level")
	assert.Contains(t, string(data), `"cycle_id":"c1"`)
	assert.Contains(t, string(data), `"service":"liveocr"`)
	assert.Equal(t, zerolog.WarnLevel, log.Logger.GetLevel())
}

func TestOptionsFrom(t *testing.T) {
	cfg := config.Config{}
	cfg.Logging.Level = "debug"
	cfg.Logging.File = "x.log"
	cfg.Axiom.Dataset = "prod_liveocr"
	cfg.Axiom.Send = true
	o := OptionsFrom(cfg)
	assert.Equal(t, "debug", o.Level)
	assert.Equal(t, "x.log", o.File)
	assert.Equal(t, "prod_liveocr", o.AxiomDataset)
	assert.True(t, o.SendToAxiom)
}
