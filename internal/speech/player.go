package speech

import (
	"context"
	"sync"

	"github.com/rbright/glimpse/internal/audio"
)

// Pulse plays utterances on a local PulseAudio/PipeWire sink.
type Pulse struct {
	SinkID string
	// SampleRate resamples clips before playback when non-zero.
	SampleRate int
}

func (p Pulse) Play(ctx context.Context, clip Audio) error {
	if p.SampleRate > 0 && clip.SampleRate != p.SampleRate {
		resampled, err := Resample(clip, p.SampleRate)
		if err != nil {
			return err
		}
		clip = resampled
	}
	return audio.Play(ctx, clip.PCM, audio.PlayOptions{
		SinkID:     p.SinkID,
		SampleRate: clip.SampleRate,
		MediaName:  "glimpse utterance",
	})
}

// Recorder keeps the last clip as WAV for hosts that ship audio to a remote client.
type Recorder struct {
	// SampleRate normalizes recorded clips when non-zero.
	SampleRate int
	// OnClip is called with each encoded clip.
	OnClip func(ctx context.Context, wav []byte) error

	mu   sync.Mutex
	last []byte
}

func (r *Recorder) Play(ctx context.Context, clip Audio) error {
	if r.SampleRate > 0 && clip.SampleRate != r.SampleRate {
		resampled, err := Resample(clip, r.SampleRate)
		if err != nil {
			return err
		}
		clip = resampled
	}

	wav := EncodeWAV(clip)
	r.mu.Lock()
	r.last = wav
	r.mu.Unlock()

	if r.OnClip != nil {
		return r.OnClip(ctx, wav)
	}
	return nil
}

// Last returns the most recent WAV clip, or nil.
func (r *Recorder) Last() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Discard drops audio.
type Discard struct{}

func (Discard) Play(context.Context, Audio) error { return nil }
