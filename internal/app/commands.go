package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rbright/glimpse/internal/capture"
	"github.com/rbright/glimpse/internal/config"
	"github.com/rbright/glimpse/internal/fsm"
	"github.com/rbright/glimpse/internal/httpapi"
	"github.com/rbright/glimpse/internal/indicator"
	"github.com/rbright/glimpse/internal/ipc"
	"github.com/rbright/glimpse/internal/loop"
	"github.com/rbright/glimpse/internal/speech"
	"github.com/rbright/glimpse/internal/store"
)

// StepOutput is what `step` prints for an external scheduler.
type StepOutput struct {
	Session   string `json:"session"`
	Mode      string `json:"mode"`
	Status    string `json:"status"`
	Scheduled bool   `json:"scheduled"`
	DelayMS   int64  `json:"delay_ms"`
	Utterance string `json:"utterance,omitempty"`
}

func (r Runner) commandRun(ctx context.Context, cfg config.Config, sessionID string, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	return r.ownLoop(ctx, listener, cfg, sessionID, logger)
}

func (r Runner) commandToggle(ctx context.Context, cfg config.Config, sessionID string, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, "toggle")
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.Message != "" {
			fmt.Fprintln(r.Stdout, resp.Message)
		}
		return 0
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			resp, _, forwardErr := tryForward(ctx, socketPath, "toggle")
			if forwardErr != nil {
				fmt.Fprintf(r.Stderr, "error: %v\n", forwardErr)
				return 1
			}
			if resp.Message != "" {
				fmt.Fprintln(r.Stdout, resp.Message)
			}
			return 0
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	return r.ownLoop(ctx, listener, cfg, sessionID, logger)
}

// ownLoop runs the session in-process while serving IPC on listener.
func (r Runner) ownLoop(ctx context.Context, listener net.Listener, cfg config.Config, sessionID string, logger *slog.Logger) int {
	notifier := indicator.New(cfg.Indicator, logger)
	defer notifier.Wait(2 * time.Second)

	comps, err := build(ctx, cfg, logger, wiring{
		inMemory:  true,
		announcer: r.printer(),
		notifier:  notifier,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = comps.Close() }()

	runner := loop.NewRunner(logger, comps.controller, sessionID)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, runner)
	}()

	result := runner.Run(ctx)
	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	logRunResult(logger, result)

	if result.Err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
		return 1
	}
	return 0
}

func (r Runner) commandStep(ctx context.Context, cfg config.Config, sessionID string, logger *slog.Logger) int {
	comps, err := build(ctx, cfg, logger, wiring{notifier: logNotifier(logger)})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = comps.Close() }()

	state, err := comps.controller.State(ctx, sessionID)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	var out loop.Outcome
	if state.Running() {
		out, err = comps.controller.Resume(ctx, sessionID)
	} else {
		out, err = comps.controller.Start(ctx, sessionID)
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	encoded, err := json.Marshal(stepOutput(sessionID, out))
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintln(r.Stdout, string(encoded))
	return 0
}

func stepOutput(sessionID string, out loop.Outcome) StepOutput {
	return StepOutput{
		Session:   sessionID,
		Mode:      string(out.NextAction.State.Mode),
		Status:    string(out.Status),
		Scheduled: out.NextAction.Scheduled,
		DelayMS:   out.NextAction.Delay.Milliseconds(),
		Utterance: out.Utterance,
	}
}

func (r Runner) commandEnd(ctx context.Context, cfg config.Config, sessionID string, logger *slog.Logger) int {
	comps, err := build(ctx, cfg, logger, wiring{notifier: logNotifier(logger)})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = comps.Close() }()

	if _, err := comps.controller.End(ctx, sessionID); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintf(r.Stdout, "ended %s\n", sessionID)
	return 0
}

func (r Runner) commandServe(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	comps, err := build(ctx, cfg, logger, wiring{
		notifier: logNotifier(logger),
		player: func(st *store.Store) speech.Player {
			return httpapi.NewRecorder(st, cfg.Speech.SampleRate)
		},
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = comps.Close() }()

	server := httpapi.New(logger, comps.controller, comps.store, httpapi.Options{
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		ReadTimeout:  config.Milliseconds(cfg.Server.ReadTimeoutMS),
	})

	go func() {
		<-ctx.Done()
		_ = server.Shutdown()
	}()

	fmt.Fprintf(r.Stdout, "listening on %s\n", cfg.Server.Addr)
	if err := server.Listen(cfg.Server.Addr); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// commandDescribe runs one cycle over a single image and prints the sentence.
func (r Runner) commandDescribe(ctx context.Context, cfg config.Config, path string, logger *slog.Logger) int {
	source, err := capture.OpenStatic(path)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	comps, err := build(ctx, cfg, logger, wiring{inMemory: true, capture: source})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = comps.Close() }()

	id := uuid.NewString()
	defer func() { _, _ = comps.controller.End(context.WithoutCancel(ctx), id) }()

	if _, err := comps.controller.Start(ctx, id); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	out, err := comps.controller.Resume(ctx, id)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if out.Utterance == "" {
		fmt.Fprintln(r.Stderr, "error: no description produced")
		return 1
	}

	fmt.Fprintln(r.Stdout, out.Utterance)
	if out.Speech != nil && out.Speech.Err != nil {
		fmt.Fprintf(r.Stderr, "warning: not spoken: %v\n", out.Speech.Err)
	}
	return 0
}

func (r Runner) printer() loop.Announcer {
	return loop.AnnounceFunc(func(_ context.Context, _ string, text string) {
		fmt.Fprintln(r.Stdout, text)
	})
}

func logNotifier(logger *slog.Logger) loop.Notifier {
	return loop.NotifyFunc(func(_ context.Context, sessionID string, status fsm.Status, text string) {
		logger.Info("session status", "session", sessionID, "status", string(status), "text", text)
	})
}

func logRunResult(logger *slog.Logger, result loop.Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"session", result.State.SessionID,
		"mode", string(result.State.Mode),
		"status", string(result.State.Status),
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		"cycles", result.Cycles,
		"last_utterance_length", len(result.LastUtterance),
	}

	if result.Err != nil {
		logger.Error("loop failed", append(fields, "error", result.Err.Error())...)
		return
	}
	logger.Info("loop complete", fields...)
}
