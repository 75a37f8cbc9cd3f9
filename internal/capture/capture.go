package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/kbinani/screenshot"
)

// ErrNoDisplay is returned when no capturable display is attached to the
// session (headless host, locked framebuffer).
var ErrNoDisplay = errors.New("no active display")

// Record is one captured frame, immutable once produced. The sequence number
// is 1-based and monotonic within a session.
type Record struct {
	Seq       int
	Timestamp time.Time
	Data      []byte
	Size      int
	Duration  time.Duration
}

// Filename returns the deterministic attachment/archive name for this record.
func (r *Record) Filename(sessionID string) string {
	return fmt.Sprintf("auto_%s_%06d.jpg", sessionID, r.Seq)
}

// Grabber captures the primary display and encodes it as JPEG. Quality is a
// lossy-compression control only; frames are never resized. Grabber holds no
// OS resources between calls and never touches disk.
type Grabber struct {
	quality  int
	maxBytes int
	seq      int
	source   func() (image.Image, error)
}

// New creates a Grabber encoding at the given quality (1-100). Encoded frames
// larger than maxBytes are re-encoded at stepped-down quality until they fit.
// maxBytes <= 0 disables the size bound.
func New(quality, maxBytes int) *Grabber {
	return &Grabber{
		quality:  quality,
		maxBytes: maxBytes,
		source:   grabPrimaryDisplay,
	}
}

// NewWithSource creates a Grabber reading frames from source instead of the
// display. Tests use it to feed synthetic frames.
func NewWithSource(source func() (image.Image, error), quality, maxBytes int) *Grabber {
	g := New(quality, maxBytes)
	g.source = source
	return g
}

func grabPrimaryDisplay() (image.Image, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return nil, ErrNoDisplay
	}
	img, err := screenshot.CaptureRect(screenshot.GetDisplayBounds(0))
	if err != nil {
		return nil, fmt.Errorf("capturing display 0: %w", err)
	}
	return img, nil
}

// Grab captures one frame. The returned Record is owned by the caller; Grab
// keeps no reference to it.
func (g *Grabber) Grab() (*Record, error) {
	start := time.Now()

	img, err := g.source()
	if err != nil {
		return nil, err
	}

	data, err := encode(img, g.quality, g.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}

	g.seq++
	return &Record{
		Seq:       g.seq,
		Timestamp: start,
		Data:      data,
		Size:      len(data),
		Duration:  time.Since(start),
	}, nil
}

// encode JPEG-encodes img at quality, stepping quality down by 10 (floor 10)
// while the result exceeds maxBytes.
func encode(img image.Image, quality, maxBytes int) ([]byte, error) {
	for {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
		if maxBytes <= 0 || buf.Len() <= maxBytes || quality <= 10 {
			return buf.Bytes(), nil
		}
		quality -= 10
		if quality < 10 {
			quality = 10
		}
	}
}
