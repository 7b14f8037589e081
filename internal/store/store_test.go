package store

import (
	"context"
	"testing"
	"time"

	"github.com/rbright/glimpse/internal/fsm"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Load(ctx, "kitchen")
	require.ErrorIs(t, err, ErrNotFound)

	state := fsm.NewLoopState("kitchen")
	state.Version = 1
	state.Mode = fsm.ModeCooldown
	state.LastUtterance = "I can see a cat"
	state.CooldownUntil = time.Date(2026, 3, 1, 12, 0, 4, 0, time.UTC)
	require.NoError(t, s.Save(ctx, state, 0))

	got, err := s.Load(ctx, "kitchen")
	require.NoError(t, err)
	require.Equal(t, state.Mode, got.Mode)
	require.Equal(t, state.LastUtterance, got.LastUtterance)
	require.Equal(t, uint64(1), got.Version)
	require.True(t, state.CooldownUntil.Equal(got.CooldownUntil))
}

func TestSaveRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	state := fsm.NewLoopState("s1")
	state.Version = 1
	require.NoError(t, s.Save(ctx, state, 0))

	state.Version = 2
	require.NoError(t, s.Save(ctx, state, 1))

	stale := state
	stale.Version = 2
	err := s.Save(ctx, stale, 1)
	require.ErrorIs(t, err, ErrVersionConflict)
	require.Contains(t, err.Error(), "stored 2, expected 1")

	err = s.Save(ctx, fsm.LoopState{SessionID: "fresh", Version: 3}, 2)
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestDeleteRemovesWholeNamespace(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	state := fsm.NewLoopState("a")
	state.Version = 1
	require.NoError(t, s.Save(ctx, state, 0))
	require.NoError(t, s.PutAudio(ctx, "a", []byte("RIFF")))

	other := fsm.NewLoopState("ab")
	other.Version = 1
	require.NoError(t, s.Save(ctx, other, 0))

	require.NoError(t, s.Delete(ctx, "a"))

	_, err := s.Load(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Audio(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Load(ctx, "ab")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "never-existed"))
}

func TestAudioRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.PutAudio(ctx, "s", []byte("clip-1")))
	require.NoError(t, s.PutAudio(ctx, "s", []byte("clip-2")))

	got, err := s.Audio(ctx, "s")
	require.NoError(t, err)
	require.Equal(t, []byte("clip-2"), got)
}

func TestSessionsListsStateKeys(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, id := range []string{"b", "a"} {
		state := fsm.NewLoopState(id)
		state.Version = 1
		require.NoError(t, s.Save(ctx, state, 0))
	}
	require.NoError(t, s.PutAudio(ctx, "c", []byte("x")))

	ids, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)
}

func TestInvalidSessionIDs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, id := range []string{"", "  ", "a/b", "x\x00y"} {
		_, err := s.Load(ctx, id)
		require.ErrorIs(t, err, ErrInvalidSession, id)
	}
}

func TestOpenRequiresDirOnDisk(t *testing.T) {
	_, err := Open(Options{})
	require.Error(t, err)

	dir := t.TempDir()
	s, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
