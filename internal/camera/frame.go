package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// FrameMIME is the only format frames are delivered in.
const FrameMIME = "image/jpeg"

// ColorMode defines the color mode frames are encoded with.
type ColorMode string

const (
	ColorRGB  ColorMode = "rgb"
	ColorGray ColorMode = "gray"
)

// ParseColorMode maps a config value onto a ColorMode, defaulting to RGB.
func ParseColorMode(s string) ColorMode {
	if strings.EqualFold(strings.TrimSpace(s), string(ColorGray)) {
		return ColorGray
	}
	return ColorRGB
}

// Frame is one captured still image.
type Frame struct {
	Data []byte
	MIME string
}

// supportedImage reports whether mime is a still image this package can decode.
func supportedImage(mime string) bool {
	switch mime {
	case "image/jpeg", "image/png", "image/gif":
		return true
	}
	return false
}

// DetectImage sniffs data using magic bytes, not file names.
func DetectImage(data []byte) (string, bool) {
	mime := mimetype.Detect(data).String()
	return mime, supportedImage(mime)
}

// EncodeJPEG converts an image of any supported format to JPEG. JPEG input in
// RGB mode is passed through untouched.
func EncodeJPEG(data []byte, quality int, mode ColorMode) ([]byte, error) {
	mime, ok := DetectImage(data)
	if !ok {
		return nil, fmt.Errorf("unsupported frame type %q", mime)
	}
	if mime == FrameMIME && mode != ColorGray {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s frame: %w", mime, err)
	}
	bounds := img.Bounds()
	if mode == ColorGray {
		gray := image.NewGray(bounds)
		draw.Draw(gray, bounds, img, bounds.Min, draw.Src)
		img = gray
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	log.Debug().
		Str("source_mime", mime).
		Str("color", string(mode)).
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Int("jpeg_size", buf.Len()).
		Int("quality", quality).
		Msg("re-encoded frame as JPEG")
	return buf.Bytes(), nil
}
