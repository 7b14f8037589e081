// Package loop runs the perception loop: it rebuilds session state from the
// store, advances the state machine, and executes the commands it returns.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/glimpse/internal/capture"
	"github.com/rbright/glimpse/internal/describe"
	"github.com/rbright/glimpse/internal/detect"
	"github.com/rbright/glimpse/internal/fsm"
	"github.com/rbright/glimpse/internal/speech"
	"github.com/rbright/glimpse/internal/store"
)

const (
	defaultDetectTimeout  = 8 * time.Second
	defaultCaptureTimeout = 2 * time.Second
)

// Store is the persistence the controller needs.
type Store interface {
	Load(ctx context.Context, id string) (fsm.LoopState, error)
	Save(ctx context.Context, state fsm.LoopState, expected uint64) error
	Delete(ctx context.Context, id string) error
}

// Speaker turns an utterance into audio output.
type Speaker interface {
	Dispatch(ctx context.Context, text string) speech.Result
}

// Announcer renders an utterance for visual or textual display.
type Announcer interface {
	Announce(ctx context.Context, sessionID string, text string)
}

// Notifier surfaces persistent status changes.
type Notifier interface {
	Notify(ctx context.Context, sessionID string, status fsm.Status, text string)
}

type AnnounceFunc func(ctx context.Context, sessionID string, text string)

func (f AnnounceFunc) Announce(ctx context.Context, sessionID string, text string) {
	f(ctx, sessionID, text)
}

type NotifyFunc func(ctx context.Context, sessionID string, status fsm.Status, text string)

func (f NotifyFunc) Notify(ctx context.Context, sessionID string, status fsm.Status, text string) {
	f(ctx, sessionID, status, text)
}

type noopAnnouncer struct{}

func (noopAnnouncer) Announce(context.Context, string, string) {}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, fsm.Status, string) {}

type mutedSpeaker struct{}

func (mutedSpeaker) Dispatch(context.Context, string) speech.Result {
	return speech.Result{Status: speech.StatusMuted}
}

// Deps are the controller collaborators. Only Store is required.
type Deps struct {
	Store Store
	// Capture may be nil when frames are submitted by the host.
	Capture capture.Source
	// Detector may be nil; frames are then described by brightness only.
	Detector  detect.Detector
	Speaker   Speaker
	Announcer Announcer
	Notifier  Notifier
}

// Options tune the controller.
type Options struct {
	Timing         fsm.Timing
	Threshold      float64
	Vocabulary     describe.Vocabulary
	DetectTimeout  time.Duration
	CaptureTimeout time.Duration
	Now            func() time.Time
}

// Outcome is what one invocation returns to its host.
type Outcome struct {
	NextAction fsm.NextAction
	// Utterance is the sentence announced during this invocation, if any.
	Utterance string
	Status    fsm.Status
	// Speech is set when a speak command ran.
	Speech *speech.Result
}

// Controller owns the command interpreter around fsm.Advance.
type Controller struct {
	logger *slog.Logger
	deps   Deps
	opts   Options

	mu       sync.Mutex
	sessions map[string]*sync.Mutex
	stops    map[string]bool
}

func NewController(logger *slog.Logger, deps Deps, opts Options) (*Controller, error) {
	if deps.Store == nil {
		return nil, errors.New("loop store is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if deps.Speaker == nil {
		deps.Speaker = mutedSpeaker{}
	}
	if deps.Announcer == nil {
		deps.Announcer = noopAnnouncer{}
	}
	if deps.Notifier == nil {
		deps.Notifier = noopNotifier{}
	}
	if opts.Timing == (fsm.Timing{}) {
		opts.Timing = fsm.DefaultTiming()
	}
	if opts.Threshold <= 0 {
		opts.Threshold = describe.DefaultThreshold
	}
	if len(opts.Vocabulary.Labels) == 0 {
		opts.Vocabulary = describe.DefaultVocabulary()
	}
	if opts.DetectTimeout <= 0 {
		opts.DetectTimeout = defaultDetectTimeout
	}
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = defaultCaptureTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Controller{
		logger:   logger,
		deps:     deps,
		opts:     opts,
		sessions: make(map[string]*sync.Mutex),
		stops:    make(map[string]bool),
	}, nil
}

// Start arms the session.
func (c *Controller) Start(ctx context.Context, id string) (Outcome, error) {
	return c.invoke(ctx, id, func(context.Context, fsm.LoopState) (fsm.Event, *capture.Frame) {
		return fsm.Start(c.opts.Now()), nil
	})
}

// Stop returns the session to idle.
func (c *Controller) Stop(ctx context.Context, id string) (Outcome, error) {
	return c.invoke(ctx, id, func(context.Context, fsm.LoopState) (fsm.Event, *capture.Frame) {
		return fsm.Stop(c.opts.Now()), nil
	})
}

// Resume is the scheduled re-invocation: it derives the next event from the
// persisted mode, capturing one frame when armed.
func (c *Controller) Resume(ctx context.Context, id string) (Outcome, error) {
	return c.invoke(ctx, id, c.resumeEvent)
}

// Submit feeds a host-captured frame to the session.
func (c *Controller) Submit(ctx context.Context, id string, frame capture.Frame) (Outcome, error) {
	if frame.ID == "" {
		frame.ID = capture.FrameID(frame.Data)
	}
	return c.invoke(ctx, id, func(context.Context, fsm.LoopState) (fsm.Event, *capture.Frame) {
		return fsm.Frame(c.opts.Now(), frame.ID), &frame
	})
}

// End stops the session and deletes everything persisted for it.
func (c *Controller) End(ctx context.Context, id string) (Outcome, error) {
	out, err := c.Stop(ctx, id)
	if err != nil {
		return out, err
	}
	if err := c.deps.Store.Delete(ctx, id); err != nil {
		return out, fmt.Errorf("end session: %w", err)
	}

	c.mu.Lock()
	delete(c.sessions, id)
	delete(c.stops, id)
	c.mu.Unlock()
	return out, nil
}

// State returns the persisted state, or a fresh idle state.
func (c *Controller) State(ctx context.Context, id string) (fsm.LoopState, error) {
	return c.load(ctx, id)
}

// RequestStop makes the next step of the session a stop. A cycle already past
// analysis may still finish speaking.
func (c *Controller) RequestStop(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops[id] = true
}

func (c *Controller) takeStop(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	requested := c.stops[id]
	delete(c.stops, id)
	return requested
}

func (c *Controller) stopPending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops[id]
}

func (c *Controller) sessionLock(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.sessions[id]
	if !ok {
		lock = &sync.Mutex{}
		c.sessions[id] = lock
	}
	return lock
}

func (c *Controller) load(ctx context.Context, id string) (fsm.LoopState, error) {
	if err := store.ValidateID(id); err != nil {
		return fsm.LoopState{}, err
	}
	state, err := c.deps.Store.Load(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fsm.NewLoopState(id), nil
	}
	if err != nil {
		return fsm.LoopState{}, err
	}
	return state, nil
}

func (c *Controller) resumeEvent(ctx context.Context, state fsm.LoopState) (fsm.Event, *capture.Frame) {
	switch state.Mode {
	case fsm.ModeArmed:
		return c.captureEvent(ctx)
	case fsm.ModeCooldown:
		return fsm.Elapsed(c.opts.Now()), nil
	case fsm.ModeProcessing:
		// The invocation that owned this cycle never finished.
		return fsm.Interrupted(c.opts.Now()), nil
	default:
		return fsm.Tick(c.opts.Now()), nil
	}
}

func (c *Controller) captureEvent(ctx context.Context) (fsm.Event, *capture.Frame) {
	if c.deps.Capture == nil {
		return fsm.Tick(c.opts.Now()), nil
	}

	captureCtx, cancel := context.WithTimeout(ctx, c.opts.CaptureTimeout)
	defer cancel()

	frame, ok, err := c.deps.Capture.CaptureNext(captureCtx)
	now := c.opts.Now()
	switch {
	case err != nil:
		return fsm.CaptureFailed(now, err.Error()), nil
	case !ok:
		return fsm.Tick(now), nil
	}
	if frame.ID == "" {
		frame.ID = capture.FrameID(frame.Data)
	}
	return fsm.Frame(now, frame.ID), &frame
}

type eventBuilder func(ctx context.Context, state fsm.LoopState) (fsm.Event, *capture.Frame)

// invoke is one stateless step: load, advance until no follow-up event
// remains, save with a version check.
func (c *Controller) invoke(ctx context.Context, id string, build eventBuilder) (Outcome, error) {
	lock := c.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	state, err := c.load(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	loaded := state.Version

	var event fsm.Event
	var frame *capture.Frame
	if c.takeStop(id) {
		event = fsm.Stop(c.opts.Now())
	} else {
		event, frame = build(ctx, state)
	}

	run := cycleRun{startedAt: c.opts.Now()}
	state, commands, err := c.drive(ctx, state, event, frame, &run)
	if err != nil {
		return Outcome{NextAction: fsm.NextAction{State: state}, Status: state.Status}, err
	}

	if state.Version != loaded {
		if err := c.deps.Store.Save(ctx, state, loaded); err != nil {
			return Outcome{}, fmt.Errorf("save session %q: %w", id, err)
		}
	}

	if run.completed {
		c.logCycle(state, run)
	}

	return Outcome{
		NextAction: c.nextAction(state, commands),
		Utterance:  run.utterance,
		Status:     state.Status,
		Speech:     run.speech,
	}, nil
}

// drive feeds event into Advance and executes the resulting commands,
// queueing the events their results produce.
func (c *Controller) drive(
	ctx context.Context,
	state fsm.LoopState,
	event fsm.Event,
	frame *capture.Frame,
	run *cycleRun,
) (fsm.LoopState, []fsm.Command, error) {
	var executed []fsm.Command
	queue := []fsm.Event{event}

	for len(queue) > 0 {
		event, queue = queue[0], queue[1:]

		next, commands, err := fsm.Advance(state, event, c.opts.Timing)
		if err != nil {
			return state, executed, err
		}
		wasProcessing := state.Mode == fsm.ModeProcessing
		state = next
		if wasProcessing && state.Mode == fsm.ModeCooldown {
			run.completed = true
		}

		for i, cmd := range commands {
			if cmd.Kind == fsm.CommandAnalyze && c.stopPending(state.SessionID) {
				c.takeStop(state.SessionID)
				c.logger.Debug("stop requested before analysis", "session", state.SessionID, "skipped", len(commands)-i)
				queue = []fsm.Event{fsm.Stop(c.opts.Now())}
				break
			}
			executed = append(executed, cmd)
			if follow, ok := c.execute(ctx, state, cmd, frame, run); ok {
				queue = append(queue, follow)
			}
		}
	}
	return state, executed, nil
}

func (c *Controller) execute(
	ctx context.Context,
	state fsm.LoopState,
	cmd fsm.Command,
	frame *capture.Frame,
	run *cycleRun,
) (fsm.Event, bool) {
	switch cmd.Kind {
	case fsm.CommandAnalyze:
		return c.analyze(ctx, cmd, frame, run), true
	case fsm.CommandSpeak:
		result := c.deps.Speaker.Dispatch(WithSession(ctx, state.SessionID), cmd.Text)
		run.speech = &result
		if result.Err != nil {
			c.logger.Warn("speech dispatch failed",
				"session", state.SessionID,
				"cycle", cmd.Cycle,
				"status", string(result.Status),
				"error", result.Err.Error(),
			)
		}
		spoken := result.Spoken() || result.Status == speech.StatusMuted
		return fsm.Spoken(c.opts.Now(), cmd.Cycle, spoken), true
	case fsm.CommandAnnounce:
		run.utterance = cmd.Text
		c.deps.Announcer.Announce(ctx, state.SessionID, cmd.Text)
	case fsm.CommandNotify:
		c.deps.Notifier.Notify(ctx, state.SessionID, cmd.Status, cmd.Text)
	case fsm.CommandSchedule:
		// Honored by the host through NextAction.
	}
	return fsm.Event{}, false
}

func (c *Controller) analyze(ctx context.Context, cmd fsm.Command, frame *capture.Frame, run *cycleRun) fsm.Event {
	run.frameID = cmd.FrameID
	if frame == nil || frame.ID != cmd.FrameID {
		return fsm.AnalysisFailed(c.opts.Now(), cmd.Cycle, "frame is no longer available")
	}

	if c.deps.Detector == nil {
		brightness, err := describe.MeanBrightness(frame.Data)
		if err != nil {
			run.reason = err.Error()
			return fsm.AnalysisFailed(c.opts.Now(), cmd.Cycle, err.Error())
		}
		run.degraded = true
		return fsm.Analyzed(c.opts.Now(), cmd.Cycle, describe.DescribeBrightness(brightness).String(), true)
	}

	detectCtx, cancel := context.WithTimeout(ctx, c.opts.DetectTimeout)
	defer cancel()

	started := time.Now()
	detections, err := c.deps.Detector.Detect(detectCtx, *frame)
	run.detectLatency = time.Since(started)
	if err != nil {
		run.reason = err.Error()
		return fsm.AnalysisFailed(c.opts.Now(), cmd.Cycle, err.Error())
	}

	summary := describe.Summarize(detections, c.opts.Threshold, c.opts.Vocabulary)
	run.objects = summary.Total()
	return fsm.Analyzed(c.opts.Now(), cmd.Cycle, describe.Describe(summary, c.opts.Vocabulary).String(), false)
}

func (c *Controller) nextAction(state fsm.LoopState, commands []fsm.Command) fsm.NextAction {
	if !state.Running() {
		return fsm.NextAction{State: state}
	}
	next := fsm.NextActionFor(state, commands)
	if !next.Scheduled {
		// Stale input produced no schedule; keep polling.
		next = fsm.NextAction{Delay: c.opts.Timing.PollInterval, State: state, Scheduled: true}
	}
	return next
}

// cycleRun collects what one invocation did for the cycle log record.
type cycleRun struct {
	startedAt     time.Time
	completed     bool
	frameID       string
	utterance     string
	objects       int
	degraded      bool
	reason        string
	detectLatency time.Duration
	speech        *speech.Result
}

func (c *Controller) logCycle(state fsm.LoopState, run cycleRun) {
	attrs := []any{
		"session", state.SessionID,
		"cycle", state.Cycle,
		"frame", run.frameID,
		"utterance", state.LastUtterance,
		"status", string(state.Status),
		"objects", run.objects,
		"degraded", run.degraded,
		"detect_ms", run.detectLatency.Milliseconds(),
		"elapsed_ms", c.opts.Now().Sub(run.startedAt).Milliseconds(),
	}
	if run.speech != nil {
		attrs = append(attrs, "speech", string(run.speech.Status), "speech_ms", run.speech.Duration.Milliseconds())
	}
	if run.reason != "" {
		attrs = append(attrs, "reason", run.reason)
	}
	c.logger.Info("cycle complete", attrs...)
}

type sessionKey struct{}

// WithSession tags ctx with the session a collaborator call belongs to.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionFrom returns the session id set by WithSession.
func SessionFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey{}).(string)
	return id, ok && id != ""
}
