package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/local/liveocr/internal/ai"
	"github.com/local/liveocr/internal/config"
	"github.com/local/liveocr/internal/limiter"
	"github.com/local/liveocr/internal/metrics"
	"github.com/local/liveocr/internal/postprocess"
)

var tracer = otel.Tracer("github.com/local/liveocr/internal/capture")

var (
	// ErrRunning is returned by Start when a loop is already active.
	ErrRunning = errors.New("capture already running")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("scheduler closed")
)

const (
	tickPeriod   = time.Second
	errorCeiling = 3
	errorPause   = 5 * time.Second
	errorStep    = time.Second
	minWait      = time.Second
)

// Status messages shown to the user.
const (
	StatusNoText      = "No text detected, the image may be blurry"
	StatusNotReady    = "Recognition is not configured: API key or model missing"
	StatusNetwork     = "Network issue, will retry"
	StatusUnavailable = "Recognition service unavailable, will retry"
	StatusFailed      = "Recognition failed"
	StatusNoFrame     = "Camera frame unavailable"
)

// cycle outcomes, also used as metric labels
const (
	outcomeResult         = "result"
	outcomeNoText         = "no_text"
	outcomeFailure        = "failure"
	outcomeCameraInactive = "camera_inactive"
	outcomeCameraError    = "camera_error"
)

// Options tunes a Scheduler. Zero values select production defaults.
type Options struct {
	// MaxInFlight caps overlapping cycles in interval mode.
	MaxInFlight int
	Now         func() time.Time
	Sleep       func(ctx context.Context, d time.Duration) error
	// NewTicker returns a tick channel and its stop function.
	NewTicker func(d time.Duration) (<-chan time.Time, func())
}

// Stats counts cycle outcomes since construction.
type Stats struct {
	Cycles   int64 `json:"cycles"`
	Results  int64 `json:"results"`
	NoText   int64 `json:"no_text"`
	Failures int64 `json:"failures"`
	Skipped  int64 `json:"skipped"`
}

// Snapshot is the externally visible scheduler state.
type Snapshot struct {
	Running           bool        `json:"running"`
	Mode              Mode        `json:"mode"`
	ConsecutiveErrors int         `json:"consecutive_errors"`
	InFlight          int         `json:"in_flight"`
	ThrottledSeconds  float64     `json:"throttled_seconds"`
	Stats             Stats       `json:"stats"`
	Usage             UsageTotals `json:"usage"`
	LastCycleAt       *time.Time  `json:"last_cycle_at,omitempty"`
}

// Scheduler runs capture cycles in interval or continuous mode. At most one
// loop is active at a time. Stopping never cancels a recognition call that is
// already in flight; it only prevents new cycles from starting.
type Scheduler struct {
	cam    Camera
	client ai.Client
	gate   limiter.Gate
	cfg    ai.ConfigSource
	rep    Reporter
	usage  UsageAccumulator

	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	newTicker func(d time.Duration) (<-chan time.Time, func())
	pool      *ants.Pool
	release   sync.Once

	cleanerMu  sync.Mutex
	cleanerKey string
	cleaner    *postprocess.Cleaner

	mu          sync.Mutex
	mode        Mode
	running     bool
	closed      bool
	gen         uint64 // bumped on every start and stop
	cancel      context.CancelFunc
	consecutive int
	holdUntil   time.Time
	inFlight    int
	stats       Stats
	lastCycle   time.Time

	cycles sync.WaitGroup
	loops  sync.WaitGroup
}

// New returns an idle scheduler in interval mode.
func New(cam Camera, client ai.Client, gate limiter.Gate, cfg ai.ConfigSource, rep Reporter, opts Options) (*Scheduler, error) {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.NewTicker == nil {
		opts.NewTicker = func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		}
	}
	pool, err := ants.NewPool(opts.MaxInFlight,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			log.Error().Interface("panic", p).Msg("capture cycle panicked")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cycle pool: %w", err)
	}
	return &Scheduler{
		cam:       cam,
		client:    client,
		gate:      gate,
		cfg:       cfg,
		rep:       rep,
		now:       opts.Now,
		sleep:     opts.Sleep,
		newTicker: opts.NewTicker,
		pool:      pool,
		mode:      ModeInterval,
	}, nil
}

// Start begins capturing in mode.
func (s *Scheduler) Start(mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.running {
		return ErrRunning
	}
	s.startLocked(mode)
	return nil
}

// Stop ends the running loop. No cycle starts after Stop returns. Calling
// Stop on an idle scheduler does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
}

// SetMode switches the running loop to mode, stopping the current one first.
// On an idle scheduler it only records the mode for the next Start.
func (s *Scheduler) SetMode(mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.running {
		s.mode = mode
		return nil
	}
	if s.mode == mode {
		return nil
	}
	s.stopLocked()
	s.startLocked(mode)
	return nil
}

// Mode returns the current or last used mode.
func (s *Scheduler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Close stops the scheduler and waits for in-flight cycles until ctx is done.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.stopLocked()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.loops.Wait()
		s.cycles.Wait()
		close(done)
	}()
	defer s.release.Do(s.pool.Release)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current state.
func (s *Scheduler) Snapshot() Snapshot {
	now := s.now()
	s.mu.Lock()
	snap := Snapshot{
		Running:           s.running,
		Mode:              s.mode,
		ConsecutiveErrors: s.consecutive,
		InFlight:          s.inFlight,
		Stats:             s.stats,
	}
	if !s.lastCycle.IsZero() {
		t := s.lastCycle
		snap.LastCycleAt = &t
	}
	s.mu.Unlock()
	snap.ThrottledSeconds = s.gate.Remaining(now).Seconds()
	snap.Usage = s.usage.Totals()
	return snap
}

func (s *Scheduler) startLocked(mode Mode) {
	ctx, cancel := context.WithCancel(context.Background())
	s.gen++
	s.mode = mode
	s.running = true
	s.cancel = cancel
	s.holdUntil = time.Time{}
	gen := s.gen

	s.loops.Add(1)
	if mode == ModeContinuous {
		go s.runContinuous(ctx, gen)
	} else {
		go s.runInterval(ctx, gen)
	}
	log.Info().Str("mode", string(mode)).Msg("capture started")
}

func (s *Scheduler) stopLocked() {
	if !s.running {
		return
	}
	s.running = false
	s.gen++
	s.cancel()
	s.cancel = nil
	log.Info().Str("mode", string(s.mode)).Msg("capture stopped")
}

func (s *Scheduler) runInterval(ctx context.Context, gen uint64) {
	defer s.loops.Done()
	ticks, stop := s.newTicker(tickPeriod)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			s.tick(gen)
		}
	}
}

// tick fires one interval cycle without waiting for earlier ones.
func (s *Scheduler) tick(gen uint64) {
	now := s.now()
	if rem := s.gate.Remaining(now); rem > 0 {
		if s.track(gen) {
			s.skip("throttled")
			s.notifyThrottled(rem)
		}
		return
	}
	if s.heldOff(now) {
		s.skip("backoff")
		return
	}
	if !s.begin(gen) {
		return
	}
	err := s.pool.Submit(func() {
		defer s.end()
		o := s.cycle(context.Background(), ModeInterval)
		if o.kind != outcomeFailure {
			return
		}
		if o.ceiling {
			s.resetErrors()
		}
		s.holdOff(s.now().Add(o.pause))
	})
	if err != nil {
		s.end()
		s.skip("pool_full")
		log.Warn().Err(err).Int("running", s.pool.Running()).Msg("cycle pool saturated, tick skipped")
	}
}

func (s *Scheduler) runContinuous(ctx context.Context, gen uint64) {
	defer s.loops.Done()
	for ctx.Err() == nil {
		// Another process may trip a shared gate while we sleep.
		for rem := s.gate.Remaining(s.now()); rem > 0; rem = s.gate.Remaining(s.now()) {
			s.reportThrottled(ctx, rem)
			if err := s.sleep(ctx, rem); err != nil {
				return
			}
		}
		if !s.begin(gen) {
			return
		}
		o := s.cycle(context.Background(), ModeContinuous)
		s.end()

		var wait time.Duration
		switch o.kind {
		case outcomeFailure:
			if err := s.sleep(ctx, o.pause); err != nil {
				return
			}
			if o.ceiling {
				s.resetErrors()
			}
			continue
		case outcomeResult, outcomeNoText:
			wait = max(minWait, o.elapsed/10)
		default:
			wait = minWait
		}
		if err := s.sleep(ctx, wait); err != nil {
			return
		}
	}
}

type outcome struct {
	kind    string
	elapsed time.Duration // recognition time
	pause   time.Duration // spacing after a failure
	ceiling bool
}

func (s *Scheduler) cycle(ctx context.Context, mode Mode) outcome {
	id := uuid.NewString()
	ctx, span := tracer.Start(ctx, "capture.cycle", trace.WithAttributes(
		attribute.String("cycle_id", id),
		attribute.String("mode", string(mode)),
		attribute.String("provider", s.client.Name()),
	))
	defer span.End()

	start := time.Now()
	o := s.runCycle(ctx, id)
	metrics.ObserveCycle(string(mode), o.kind, time.Since(start))
	span.SetAttributes(attribute.String("outcome", o.kind))
	if o.kind == outcomeFailure {
		span.SetStatus(codes.Error, "recognition failed")
	}

	s.mu.Lock()
	s.lastCycle = s.now()
	switch o.kind {
	case outcomeResult:
		s.stats.Cycles++
		s.stats.Results++
	case outcomeNoText:
		s.stats.Cycles++
		s.stats.NoText++
	case outcomeFailure:
		s.stats.Cycles++
		s.stats.Failures++
	}
	s.mu.Unlock()
	return o
}

func (s *Scheduler) runCycle(ctx context.Context, id string) outcome {
	if !s.cam.IsActive() {
		return outcome{kind: outcomeCameraInactive}
	}
	frame, err := s.cam.CaptureFrame(ctx)
	if err != nil {
		if !s.cam.IsActive() {
			return outcome{kind: outcomeCameraInactive}
		}
		log.Warn().Err(err).Str("cycle_id", id).Msg("frame capture failed")
		s.rep.ReportStatus(ctx, StatusNoFrame, SeverityWarning)
		return outcome{kind: outcomeCameraError}
	}

	started := s.now()
	res, err := s.client.Recognize(ctx, frame.Data, frame.MIME)
	elapsed := s.now().Sub(started)

	if err != nil {
		n, pause, ceiling := s.recordFailure()
		msg, sev := failureStatus(err)
		log.Warn().
			Err(err).
			Str("cycle_id", id).
			Str("provider", s.client.Name()).
			Str("kind", string(ai.KindOf(err))).
			Int("consecutive_errors", n).
			Dur("pause", pause).
			Msg("recognition cycle failed")
		s.rep.ReportStatus(ctx, msg, sev)
		return outcome{kind: outcomeFailure, elapsed: elapsed, pause: pause, ceiling: ceiling}
	}

	s.usage.Add(res)
	s.resetErrors()

	cleaner := s.cleanerFor(s.cfg.CaptureConfig())
	text := cleaner.Clean(res.RawText)
	if cleaner.IsNoText(text) {
		log.Debug().Str("cycle_id", id).Dur("elapsed", elapsed).Msg("no text in frame")
		s.rep.ReportStatus(ctx, StatusNoText, SeverityInfo)
		return outcome{kind: outcomeNoText, elapsed: elapsed}
	}

	conf := postprocess.Confidence(text, res.HasUsage)
	log.Info().
		Str("cycle_id", id).
		Str("provider", s.client.Name()).
		Int("chars", len(text)).
		Float64("confidence", conf).
		Dur("elapsed", elapsed).
		Msg("text recognized")
	s.rep.ReportResult(ctx, text, conf)
	return outcome{kind: outcomeResult, elapsed: elapsed}
}

// begin registers a cycle unless the loop identified by gen has been stopped.
func (s *Scheduler) begin(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.gen != gen {
		return false
	}
	s.inFlight++
	s.cycles.Add(1)
	metrics.CycleStarted()
	return true
}

// track registers background work of loop gen that is not a cycle. The
// caller must call s.cycles.Done when it returns true.
func (s *Scheduler) track(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.gen != gen {
		return false
	}
	s.cycles.Add(1)
	return true
}

// notifyThrottled publishes the throttle status off the ticker goroutine so a
// slow sink never delays the next tick. The status is dropped when the pool
// is saturated.
func (s *Scheduler) notifyThrottled(rem time.Duration) {
	err := s.pool.Submit(func() {
		defer s.cycles.Done()
		s.reportThrottled(context.Background(), rem)
	})
	if err != nil {
		s.cycles.Done()
		log.Debug().Err(err).Msg("throttle status dropped, cycle pool saturated")
	}
}

func (s *Scheduler) end() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	metrics.CycleFinished()
	s.cycles.Done()
}

// recordFailure bumps the consecutive error counter and returns the pause
// before the next cycle. ceiling is set once the counter reaches the limit.
func (s *Scheduler) recordFailure() (n int, pause time.Duration, ceiling bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutive++
	n = s.consecutive
	metrics.SetConsecutiveErrors(n)
	if n >= errorCeiling {
		return n, errorPause, true
	}
	return n, time.Duration(n) * errorStep, false
}

func (s *Scheduler) resetErrors() {
	s.mu.Lock()
	s.consecutive = 0
	s.mu.Unlock()
	metrics.SetConsecutiveErrors(0)
}

func (s *Scheduler) holdOff(until time.Time) {
	s.mu.Lock()
	if until.After(s.holdUntil) {
		s.holdUntil = until
	}
	s.mu.Unlock()
}

func (s *Scheduler) heldOff(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Before(s.holdUntil)
}

func (s *Scheduler) skip(reason string) {
	s.mu.Lock()
	s.stats.Skipped++
	s.mu.Unlock()
	metrics.IncSkipped(reason)
}

func (s *Scheduler) reportThrottled(ctx context.Context, rem time.Duration) {
	secs := int(math.Ceil(rem.Seconds()))
	s.rep.ReportStatus(ctx, fmt.Sprintf("Throttled, %d seconds remaining", secs), SeverityWarning)
}

// cleanerFor returns a Cleaner for cfg, recompiling only when patterns change.
func (s *Scheduler) cleanerFor(cfg config.CaptureConfig) *postprocess.Cleaner {
	key := strings.Join(cfg.BoilerplatePatterns, "\x00") + "\x01" + strings.Join(cfg.NoTextPatterns, "\x00")
	s.cleanerMu.Lock()
	defer s.cleanerMu.Unlock()
	if s.cleaner != nil && s.cleanerKey == key {
		return s.cleaner
	}
	c, err := postprocess.New(cfg)
	if err != nil {
		log.Error().Err(err).Msg("invalid boilerplate patterns, cleaning without them")
		c, _ = postprocess.New(config.CaptureConfig{NoTextPatterns: cfg.NoTextPatterns})
	}
	s.cleaner, s.cleanerKey = c, key
	return c
}

func failureStatus(err error) (string, Severity) {
	switch ai.KindOf(err) {
	case ai.KindNoAPIKey, ai.KindNoModel:
		return StatusNotReady, SeverityError
	case ai.KindNetwork:
		return StatusNetwork, SeverityWarning
	case ai.KindRateLimited, ai.KindServerError:
		return StatusUnavailable, SeverityWarning
	}
	return StatusFailed, SeverityError
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
