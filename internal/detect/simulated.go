package detect

import (
	"context"
	"hash/fnv"
	"math/rand/v2"

	"github.com/rbright/glimpse/internal/capture"
	"github.com/rbright/glimpse/internal/describe"
)

// Simulated invents plausible detections for demos. Output depends only on the
// seed and the frame identity.
type Simulated struct {
	Seed       uint64
	Vocabulary describe.Vocabulary
	// MaxObjects caps detections per frame; zero means 4.
	MaxObjects int
}

func (s *Simulated) Detect(ctx context.Context, frame capture.Frame) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapUnavailable("simulated detect", err)
	}
	if len(s.Vocabulary.Labels) == 0 {
		return nil, unavailable("simulated detector has no vocabulary")
	}

	maxObjects := s.MaxObjects
	if maxObjects <= 0 {
		maxObjects = 4
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(frame.ID))
	rng := rand.New(rand.NewPCG(s.Seed, h.Sum64()))

	n := rng.IntN(maxObjects + 1)
	detections := make([]Detection, 0, n)
	for i := 0; i < n; i++ {
		label, ok := s.Vocabulary.Label(rng.IntN(len(s.Vocabulary.Labels)))
		if !ok {
			continue
		}
		detections = append(detections, Detection{
			Label:      label,
			Confidence: 0.3 + 0.7*rng.Float64(),
		})
	}
	return detections, nil
}
