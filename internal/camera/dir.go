// Package camera provides frame sources for the capture scheduler.
package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotActive is returned when a frame is requested from a stopped camera.
	ErrNotActive = errors.New("camera is not active")
	// ErrExhausted is returned by a non-looping camera after its last frame.
	ErrExhausted = errors.New("no more frames")
)

// DirOptions configures a DirCamera.
type DirOptions struct {
	Loop      bool
	Quality   int
	ColorMode ColorMode
}

// DirCamera replays the still images of a directory in name order, one per
// CaptureFrame call. It stands in for a live device on hosts without one.
type DirCamera struct {
	dir  string
	opts DirOptions

	mu     sync.Mutex
	files  []string
	next   int
	active bool
}

// NewDir returns a stopped camera reading from dir.
func NewDir(dir string, opts DirOptions) *DirCamera {
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 85
	}
	if opts.ColorMode == "" {
		opts.ColorMode = ColorRGB
	}
	return &DirCamera{dir: dir, opts: opts}
}

// Start scans the directory and activates the camera. It fails when the
// directory holds no decodable image.
func (c *DirCamera) Start(ctx context.Context) error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to read camera dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		mtype, err := mimetype.DetectFile(path)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("skipping unreadable frame file")
			continue
		}
		if !supportedImage(mtype.String()) {
			log.Debug().Str("file", path).Str("mime", mtype.String()).Msg("skipping non-image file")
			continue
		}
		files = append(files, path)
	}
	if len(files) == 0 {
		return fmt.Errorf("no images found in %s", c.dir)
	}
	sort.Strings(files)

	c.mu.Lock()
	c.files = files
	c.next = 0
	c.active = true
	c.mu.Unlock()

	log.Info().Str("dir", c.dir).Int("frames", len(files)).Bool("loop", c.opts.Loop).Msg("camera started")
	return nil
}

// Stop deactivates the camera. Safe to call repeatedly.
func (c *DirCamera) Stop() {
	c.mu.Lock()
	was := c.active
	c.active = false
	c.mu.Unlock()
	if was {
		log.Info().Str("dir", c.dir).Msg("camera stopped")
	}
}

// IsActive reports whether frames can be captured.
func (c *DirCamera) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// CaptureFrame returns the next image as JPEG.
func (c *DirCamera) CaptureFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return Frame{}, ErrNotActive
	}
	if c.next >= len(c.files) {
		if !c.opts.Loop {
			c.active = false
			c.mu.Unlock()
			return Frame{}, ErrExhausted
		}
		c.next = 0
	}
	path := c.files[c.next]
	c.next++
	c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read frame: %w", err)
	}
	jpg, err := EncodeJPEG(data, c.opts.Quality, c.opts.ColorMode)
	if err != nil {
		return Frame{}, fmt.Errorf("frame %s: %w", filepath.Base(path), err)
	}
	return Frame{Data: jpg, MIME: FrameMIME}, nil
}
