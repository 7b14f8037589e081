package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/glimpse/internal/fsm"
	"github.com/rbright/glimpse/internal/ipc"
)

// Result is the complete output of one Runner.Run.
type Result struct {
	State         fsm.LoopState
	Cycles        uint64
	LastUtterance string
	Err           error
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Runner hosts one session in-process: it honors NextAction delays with a
// timer and serves IPC status/stop requests while running.
type Runner struct {
	logger     *slog.Logger
	controller *Controller
	sessionID  string

	mu      sync.RWMutex
	state   fsm.LoopState
	running bool

	stops chan struct{}
}

func NewRunner(logger *slog.Logger, controller *Controller, sessionID string) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		logger:     logger,
		controller: controller,
		sessionID:  sessionID,
		state:      fsm.NewLoopState(sessionID),
		stops:      make(chan struct{}, 1),
	}
}

// State returns the last state the runner observed.
func (r *Runner) State() fsm.LoopState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Runner) observe(state fsm.LoopState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
}

func (r *Runner) setRunning(running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = running
}

// Run starts the session and re-invokes it until stop, failure, or ctx end.
func (r *Runner) Run(ctx context.Context) Result {
	result := Result{StartedAt: time.Now()}
	finish := func(err error) Result {
		state := r.State()
		result.State = state
		result.Cycles = state.Cycle
		result.LastUtterance = state.LastUtterance
		result.Err = err
		result.FinishedAt = time.Now()
		r.setRunning(false)
		return result
	}

	out, err := r.controller.Start(ctx, r.sessionID)
	if err != nil {
		return finish(fmt.Errorf("start session: %w", err))
	}
	r.observe(out.NextAction.State)
	r.setRunning(true)

	for out.NextAction.Scheduled {
		timer := time.NewTimer(out.NextAction.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.stop(context.Background())
			if errors.Is(ctx.Err(), context.Canceled) {
				return finish(nil)
			}
			return finish(ctx.Err())
		case <-r.stops:
			timer.Stop()
			return finish(r.stop(ctx))
		case <-timer.C:
		}

		out, err = r.controller.Resume(ctx, r.sessionID)
		if err != nil {
			r.stop(context.Background())
			return finish(fmt.Errorf("resume session: %w", err))
		}
		r.observe(out.NextAction.State)
	}

	return finish(nil)
}

func (r *Runner) stop(ctx context.Context) error {
	out, err := r.controller.Stop(ctx, r.sessionID)
	if err != nil {
		r.logger.Error("stop session failed", "session", r.sessionID, "error", err.Error())
		return err
	}
	r.observe(out.NextAction.State)
	return nil
}

// Handle serves IPC commands for the running session.
func (r *Runner) Handle(_ context.Context, req ipc.Request) ipc.Response {
	state := r.State()
	switch req.Command {
	case "status":
		return ipc.Response{
			OK:        true,
			State:     string(state.Mode),
			Status:    string(state.Status),
			Utterance: state.LastUtterance,
			Message:   "status",
		}
	case "toggle", "stop":
		return r.requestStop(req.Command)
	default:
		return ipc.Response{OK: false, State: string(state.Mode), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (r *Runner) requestStop(source string) ipc.Response {
	r.mu.RLock()
	running := r.running
	state := r.state
	r.mu.RUnlock()

	if !running {
		return ipc.Response{OK: false, State: string(state.Mode), Error: fmt.Sprintf("cannot %s: loop is not running", source)}
	}

	r.controller.RequestStop(r.sessionID)
	select {
	case r.stops <- struct{}{}:
		return ipc.Response{OK: true, State: string(state.Mode), Message: "stop requested"}
	default:
		return ipc.Response{OK: true, State: string(state.Mode), Message: "stop already requested"}
	}
}
