// Package capture supplies still frames to the perception loop.
package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// ErrCaptureUnavailable wraps every failure to obtain a frame.
var ErrCaptureUnavailable = errors.New("capture unavailable")

// Frame is one encoded still image. Data is treated as opaque by the loop.
type Frame struct {
	Data       []byte
	MIMEType   string
	ID         string
	CapturedAt time.Time
	Source     string
}

// Source yields the most recent frame. ok is false when no frame is available
// this tick; err wraps ErrCaptureUnavailable.
type Source interface {
	CaptureNext(ctx context.Context) (frame Frame, ok bool, err error)
}

// FrameID is the dedup identity of a frame: the first 16 bytes of its SHA-256, hex encoded.
func FrameID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// NewFrame stamps data with its identity and sniffed MIME type.
func NewFrame(data []byte, source string, at time.Time) Frame {
	return Frame{
		Data:       data,
		MIMEType:   http.DetectContentType(data),
		ID:         FrameID(data),
		CapturedAt: at,
		Source:     source,
	}
}
