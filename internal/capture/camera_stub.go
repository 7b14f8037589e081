//go:build !gocv

package capture

import (
	"context"
	"fmt"
)

// Camera is unavailable without the gocv build tag.
type Camera struct{}

// CameraSupported reports whether this binary was built with OpenCV.
const CameraSupported = false

// NewCamera returns an error unless built with -tags gocv.
func NewCamera(device int) (*Camera, error) {
	return nil, fmt.Errorf("%w: camera %d requires a build with -tags gocv", ErrCaptureUnavailable, device)
}

func (c *Camera) CaptureNext(context.Context) (Frame, bool, error) {
	return Frame{}, false, fmt.Errorf("%w: camera support not compiled in", ErrCaptureUnavailable)
}

func (c *Camera) Close() error { return nil }
