//go:build gocv

package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Camera grabs frames from a local webcam through OpenCV.
type Camera struct {
	device int

	mu     sync.Mutex
	webcam *gocv.VideoCapture
}

// CameraSupported reports whether this binary was built with OpenCV.
const CameraSupported = true

func NewCamera(device int) (*Camera, error) {
	webcam, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: open camera %d: %v", ErrCaptureUnavailable, device, err)
	}
	return &Camera{device: device, webcam: webcam}, nil
}

func (c *Camera) CaptureNext(ctx context.Context) (Frame, bool, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, false, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	img := gocv.NewMat()
	defer img.Close()

	if ok := c.webcam.Read(&img); !ok {
		return Frame{}, false, fmt.Errorf("%w: camera %d read failed", ErrCaptureUnavailable, c.device)
	}
	if img.Empty() {
		return Frame{}, false, nil
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return Frame{}, false, fmt.Errorf("%w: encode frame: %v", ErrCaptureUnavailable, err)
	}
	defer buf.Close()

	data := append([]byte(nil), buf.GetBytes()...)
	frame := NewFrame(data, fmt.Sprintf("camera:%d", c.device), time.Now())
	frame.MIMEType = "image/jpeg"
	return frame, true, nil
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.webcam.Close()
}
