package loop

import (
	"context"
	"testing"
	"time"

	"github.com/rbright/glimpse/internal/capture"
	"github.com/rbright/glimpse/internal/fsm"
	"github.com/rbright/glimpse/internal/ipc"
	"github.com/rbright/glimpse/internal/store"
	"github.com/stretchr/testify/require"
)

func newRunnerController(t *testing.T, detector *countingDetector) *Controller {
	t.Helper()
	st, err := store.Open(store.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctrl, err := NewController(nil, Deps{
		Store:    st,
		Capture:  capture.NewStatic([]byte("same-frame"), "test"),
		Detector: detector,
		Speaker:  &fakeSpeaker{},
	}, Options{
		Timing: fsm.Timing{
			PollInterval:    5 * time.Millisecond,
			MaxPollInterval: 20 * time.Millisecond,
			Dwell:           10 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	return ctrl
}

func TestRunnerRunsUntilStop(t *testing.T) {
	detector := personDetector()
	runner := NewRunner(nil, newRunnerController(t, detector), sessionID)

	idle := runner.Handle(context.Background(), ipc.Request{Command: "stop"})
	require.False(t, idle.OK)
	require.Contains(t, idle.Error, "not running")

	done := make(chan Result, 1)
	go func() { done <- runner.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return runner.State().LastUtterance == "I can see a person"
	}, 2*time.Second, 5*time.Millisecond)

	status := runner.Handle(context.Background(), ipc.Request{Command: "status"})
	require.True(t, status.OK)
	require.NotEqual(t, string(fsm.ModeIdle), status.State)

	stop := runner.Handle(context.Background(), ipc.Request{Command: "toggle"})
	require.True(t, stop.OK)

	select {
	case result := <-done:
		require.NoError(t, result.Err)
		require.Equal(t, fsm.ModeIdle, result.State.Mode)
		require.Equal(t, uint64(1), result.Cycles)
		require.Equal(t, "I can see a person", result.LastUtterance)
		require.False(t, result.FinishedAt.Before(result.StartedAt))
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}

	// The static frame never changes, so only one cycle reaches the detector.
	require.Equal(t, int32(1), detector.calls.Load())
}

func TestRunnerStopsOnContextCancel(t *testing.T) {
	runner := NewRunner(nil, newRunnerController(t, personDetector()), sessionID)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Eventually(t, func() bool {
		return runner.State().Mode != fsm.ModeIdle
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case result := <-done:
		require.NoError(t, result.Err)
		require.Equal(t, fsm.ModeIdle, result.State.Mode)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunnerUnknownCommand(t *testing.T) {
	runner := NewRunner(nil, newRunnerController(t, personDetector()), sessionID)
	resp := runner.Handle(context.Background(), ipc.Request{Command: "definitely-unknown"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown command")
}
