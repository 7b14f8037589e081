package capture

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Static always yields the same image. Used for single-shot describe and tests.
type Static struct {
	frame Frame
}

func NewStatic(data []byte, source string) *Static {
	return &Static{frame: NewFrame(data, source, time.Now())}
}

// OpenStatic reads path once and serves it on every tick.
func OpenStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrCaptureUnavailable, path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrCaptureUnavailable, path)
	}
	return NewStatic(data, path), nil
}

func (s *Static) CaptureNext(ctx context.Context) (Frame, bool, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, false, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	return s.frame, true, nil
}
