// Package capture drives the capture, recognize and report cycle.
package capture

import (
	"context"
	"fmt"
	"strings"

	"github.com/local/liveocr/internal/camera"
)

// Mode selects how cycles are scheduled.
type Mode string

const (
	// ModeInterval fires one cycle per tick without waiting for earlier ones.
	ModeInterval Mode = "interval"
	// ModeContinuous runs cycles back to back, never overlapping.
	ModeContinuous Mode = "continuous"
)

// ParseMode accepts "interval" or "continuous" in any case.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeInterval:
		return ModeInterval, nil
	case ModeContinuous:
		return ModeContinuous, nil
	}
	return "", fmt.Errorf("unknown capture mode %q", s)
}

// Severity grades a status report.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Camera is the frame source a scheduler captures from.
type Camera interface {
	IsActive() bool
	CaptureFrame(ctx context.Context) (camera.Frame, error)
}

// Reporter receives the user-facing outcome of every cycle.
type Reporter interface {
	ReportStatus(ctx context.Context, message string, severity Severity)
	ReportResult(ctx context.Context, text string, confidence float64)
}
