package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxSnapshotBytes = 16 << 20

// Snapshot fetches a still image over HTTP, e.g. an IP camera's snapshot.jpg.
type Snapshot struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
	Now     func() time.Time
}

func NewSnapshot(url string, timeout time.Duration) *Snapshot {
	return &Snapshot{URL: url, Timeout: timeout, Client: http.DefaultClient, Now: time.Now}
}

func (s *Snapshot) CaptureNext(ctx context.Context) (Frame, bool, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return Frame{}, false, fmt.Errorf("%w: build request: %v", ErrCaptureUnavailable, err)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Frame{}, false, fmt.Errorf("%w: fetch %s: %v", ErrCaptureUnavailable, s.URL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return Frame{}, false, nil
	case resp.StatusCode != http.StatusOK:
		return Frame{}, false, fmt.Errorf("%w: fetch %s: status %d", ErrCaptureUnavailable, s.URL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes+1))
	if err != nil {
		return Frame{}, false, fmt.Errorf("%w: read body: %v", ErrCaptureUnavailable, err)
	}
	if len(data) > maxSnapshotBytes {
		return Frame{}, false, fmt.Errorf("%w: snapshot exceeds %d bytes", ErrCaptureUnavailable, maxSnapshotBytes)
	}
	if len(data) == 0 {
		return Frame{}, false, nil
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	frame := NewFrame(data, s.URL, now())
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		frame.MIMEType = ct
	}
	return frame, true, nil
}
