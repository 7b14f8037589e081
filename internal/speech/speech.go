// Package speech turns utterances into audible output.
//
// Dispatch never returns an error: failures degrade to "text available,
// unspoken" and are reported through Result.Status.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrSynthesisFailed = errors.New("speech synthesis failed")
	ErrNoSynthesizer   = errors.New("no speech synthesizer configured")
)

// Audio is mono signed 16-bit PCM.
type Audio struct {
	PCM        []int16
	SampleRate int
}

// Duration is the playback length of the clip.
func (a Audio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(a.PCM)) * time.Second / time.Duration(a.SampleRate)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}

type Player interface {
	Play(ctx context.Context, audio Audio) error
}

type Status string

const (
	StatusSpoken          Status = "spoken"
	StatusSynthesisFailed Status = "synthesis_failed"
	StatusPlaybackFailed  Status = "playback_failed"
	StatusMuted           Status = "muted"
)

// Result reports how one dispatch ended.
type Result struct {
	Status   Status
	Err      error
	Duration time.Duration
}

// Spoken reports whether the utterance became audible.
func (r Result) Spoken() bool {
	return r.Status == StatusSpoken
}

// Dispatcher synthesizes and plays one utterance at a time.
type Dispatcher struct {
	synth   Synthesizer
	player  Player
	muted   bool
	timeout time.Duration

	mu sync.Mutex
}

// DispatcherOptions configures NewDispatcher.
type DispatcherOptions struct {
	Muted bool
	// Timeout bounds synthesis plus playback; zero means no bound beyond ctx.
	Timeout time.Duration
}

func NewDispatcher(synth Synthesizer, player Player, opts DispatcherOptions) *Dispatcher {
	if player == nil {
		player = Discard{}
	}
	return &Dispatcher{synth: synth, player: player, muted: opts.Muted, timeout: opts.Timeout}
}

// Dispatch speaks text and reports the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, text string) (result Result) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = Result{Status: StatusSynthesisFailed, Err: fmt.Errorf("%w: panic: %v", ErrSynthesisFailed, r)}
		}
		result.Duration = time.Since(started)
	}()

	if d == nil || d.muted {
		return Result{Status: StatusMuted}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Status: StatusSynthesisFailed, Err: fmt.Errorf("%w: empty text", ErrSynthesisFailed)}
	}
	if d.synth == nil {
		return Result{Status: StatusSynthesisFailed, Err: ErrNoSynthesizer}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	audio, err := d.synth.Synthesize(ctx, text)
	if err != nil {
		return Result{Status: StatusSynthesisFailed, Err: wrapSynthesis(err)}
	}
	if len(audio.PCM) == 0 {
		return Result{Status: StatusSynthesisFailed, Err: fmt.Errorf("%w: empty audio", ErrSynthesisFailed)}
	}
	if err := d.player.Play(ctx, audio); err != nil {
		return Result{Status: StatusPlaybackFailed, Err: fmt.Errorf("play utterance: %w", err)}
	}
	return Result{Status: StatusSpoken}
}

func wrapSynthesis(err error) error {
	if errors.Is(err, ErrSynthesisFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
}
