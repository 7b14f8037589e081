// Package detect adapts object detection backends to the perception loop.
//
// Every backend failure is reported as ErrDetectorUnavailable so the loop can
// degrade to a fallback description without inspecting backend details.
package detect

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbright/glimpse/internal/capture"
	"github.com/rbright/glimpse/internal/describe"
)

var ErrDetectorUnavailable = errors.New("detector unavailable")

// Detection is one labelled finding.
type Detection = describe.Detection

// Detector finds objects in an encoded frame.
type Detector interface {
	Detect(ctx context.Context, frame capture.Frame) ([]Detection, error)
}

// Func adapts a function to Detector.
type Func func(ctx context.Context, frame capture.Frame) ([]Detection, error)

func (f Func) Detect(ctx context.Context, frame capture.Frame) ([]Detection, error) {
	return f(ctx, frame)
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDetectorUnavailable, fmt.Sprintf(format, args...))
}

func wrapUnavailable(op string, err error) error {
	if errors.Is(err, ErrDetectorUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrDetectorUnavailable, op, err)
}
