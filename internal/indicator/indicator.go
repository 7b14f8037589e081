// Package indicator surfaces persistent loop status as desktop notifications
// and short audio cues.
package indicator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/rbright/glimpse/internal/config"
	"github.com/rbright/glimpse/internal/fsm"
)

// desktopNotify is swapped in tests.
var desktopNotify = func(title, message string) error {
	return beeep.Notify(title, message, "")
}

// Indicator implements the loop notifier contract.
type Indicator struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages

	mu       sync.Mutex
	last     fsm.Status
	soundMu  sync.Mutex
	inflight sync.WaitGroup
}

func New(cfg config.IndicatorConfig, logger *slog.Logger) *Indicator {
	return &Indicator{
		cfg:      cfg,
		logger:   logger,
		messages: indicatorMessagesFromEnv(),
		last:     fsm.StatusOK,
	}
}

// Notify shows a desktop notification for a status change and plays the
// matching cue.
func (i *Indicator) Notify(ctx context.Context, sessionID string, status fsm.Status, text string) {
	kind, message := i.messages.describe(status, text)

	i.mu.Lock()
	i.last = status
	i.mu.Unlock()

	i.playCue(ctx, kind)
	if !i.cfg.Enable {
		return
	}

	title := i.cfg.DesktopAppName
	if title == "" {
		title = "glimpse"
	}
	if err := desktopNotify(title, message); err != nil {
		i.log("desktop notification failed", sessionID, err)
	}
}

// Last returns the most recently notified status.
func (i *Indicator) Last() fsm.Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.last
}

// Wait blocks until queued cues finish or timeout elapses.
func (i *Indicator) Wait(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		i.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (i *Indicator) playCue(ctx context.Context, kind cueKind) {
	if !i.cfg.SoundEnable || kind == cueNone {
		return
	}
	i.inflight.Add(1)
	go func() {
		defer i.inflight.Done()
		i.soundMu.Lock()
		defer i.soundMu.Unlock()

		cueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 4*time.Second)
		defer cancel()
		if err := emitCue(cueCtx, kind, i.cfg); err != nil {
			i.log("indicator audio cue failed", "", err)
		}
	}()
}

// log emits debug-only indicator failures to the runtime logger.
func (i *Indicator) log(message string, sessionID string, err error) {
	if i.logger == nil || err == nil {
		return
	}
	i.logger.Debug(message, "session", sessionID, "error", err.Error())
}
