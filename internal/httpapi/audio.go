package httpapi

import (
	"context"
	"errors"

	"github.com/rbright/glimpse/internal/loop"
	"github.com/rbright/glimpse/internal/speech"
)

// AudioSink persists a session's last clip.
type AudioSink interface {
	PutAudio(ctx context.Context, id string, wav []byte) error
}

// NewRecorder returns a speech player that stores each clip under the session
// the dispatch belongs to, so remote clients can fetch it from the audio route.
func NewRecorder(sink AudioSink, sampleRate int) *speech.Recorder {
	return &speech.Recorder{
		SampleRate: sampleRate,
		OnClip: func(ctx context.Context, wav []byte) error {
			id, ok := loop.SessionFrom(ctx)
			if !ok {
				return errors.New("audio clip has no session")
			}
			return sink.PutAudio(ctx, id, wav)
		},
	}
}
