package audio

import (
	"context"
	"errors"
	"fmt"

	"github.com/jfreymuth/pulse"
)

// PlayOptions selects the sink and labels the stream in the Pulse mixer.
type PlayOptions struct {
	SinkID     string
	SampleRate int
	MediaName  string
	Latency    float64
}

// Play streams mono s16 samples to Pulse and blocks until drained or ctx ends.
func Play(ctx context.Context, samples []int16, opts PlayOptions) error {
	if len(samples) == 0 {
		return nil
	}
	if opts.SampleRate <= 0 {
		return errors.New("playback sample rate must be positive")
	}
	if opts.Latency <= 0 {
		opts.Latency = 0.05
	}
	if opts.MediaName == "" {
		opts.MediaName = "glimpse"
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	playbackOpts := []pulse.PlaybackOption{
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(opts.SampleRate),
		pulse.PlaybackLatency(opts.Latency),
		pulse.PlaybackMediaName(opts.MediaName),
	}
	if opts.SinkID != "" && opts.SinkID != "default" {
		sink, err := client.SinkByID(opts.SinkID)
		if err != nil {
			return fmt.Errorf("resolve sink %q: %w", opts.SinkID, err)
		}
		playbackOpts = append(playbackOpts, pulse.PlaybackSink(sink))
	}

	stream, err := client.NewPlayback(samplesReader(samples), playbackOpts...)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	done := make(chan struct{})
	stream.Start()
	go func() {
		stream.Drain()
		close(done)
	}()

	select {
	case <-ctx.Done():
		stream.Stop()
		return ctx.Err()
	case <-done:
	}

	if err := stream.Error(); err != nil {
		return fmt.Errorf("play stream: %w", err)
	}
	return nil
}

func samplesReader(samples []int16) pulse.Reader {
	cursor := 0
	return pulse.Int16Reader(func(buf []int16) (int, error) {
		if cursor >= len(samples) {
			return 0, pulse.EndOfData
		}

		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})
}
