package loop

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/glimpse/internal/capture"
	"github.com/rbright/glimpse/internal/detect"
	"github.com/rbright/glimpse/internal/fsm"
	"github.com/rbright/glimpse/internal/speech"
	"github.com/rbright/glimpse/internal/store"
	"github.com/stretchr/testify/require"
)

const sessionID = "test-session"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeSource struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
	before func()
}

func (s *fakeSource) CaptureNext(context.Context) (capture.Frame, bool, error) {
	if s.before != nil {
		s.before()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return capture.Frame{}, false, s.err
	}
	if len(s.frames) == 0 {
		return capture.Frame{}, false, nil
	}
	data := s.frames[0]
	if len(s.frames) > 1 {
		s.frames = s.frames[1:]
	}
	return capture.NewFrame(data, "fake", time.Time{}), true, nil
}

type fakeSpeaker struct {
	mu       sync.Mutex
	texts    []string
	sessions []string
	result   speech.Result
}

func (s *fakeSpeaker) Dispatch(ctx context.Context, text string) speech.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	id, _ := SessionFrom(ctx)
	s.sessions = append(s.sessions, id)
	if s.result.Status == "" {
		return speech.Result{Status: speech.StatusSpoken}
	}
	return s.result
}

func (s *fakeSpeaker) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type notification struct {
	status fsm.Status
	text   string
}

type fakeNotifier struct {
	mu    sync.Mutex
	items []notification
}

func (n *fakeNotifier) Notify(_ context.Context, _ string, status fsm.Status, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, notification{status: status, text: text})
}

func (n *fakeNotifier) Items() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.items...)
}

type countingDetector struct {
	calls      atomic.Int32
	detections []detect.Detection
	err        error
}

func (d *countingDetector) Detect(context.Context, capture.Frame) ([]detect.Detection, error) {
	d.calls.Add(1)
	return d.detections, d.err
}

type harness struct {
	ctrl     *Controller
	store    *store.Store
	clock    *fakeClock
	source   *fakeSource
	speaker  *fakeSpeaker
	notifier *fakeNotifier
	announce []string
}

func newHarness(t *testing.T, detector detect.Detector, mutate func(*Deps, *Options)) *harness {
	t.Helper()

	st, err := store.Open(store.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		store:    st,
		clock:    newFakeClock(),
		source:   &fakeSource{},
		speaker:  &fakeSpeaker{},
		notifier: &fakeNotifier{},
	}
	deps := Deps{
		Store:    st,
		Capture:  h.source,
		Detector: detector,
		Speaker:  h.speaker,
		Notifier: h.notifier,
		Announcer: AnnounceFunc(func(_ context.Context, _ string, text string) {
			h.announce = append(h.announce, text)
		}),
	}
	opts := Options{Timing: fsm.DefaultTiming(), Now: h.clock.Now}
	if mutate != nil {
		mutate(&deps, &opts)
	}

	h.ctrl, err = NewController(nil, deps, opts)
	require.NoError(t, err)
	return h
}

func personDetector() *countingDetector {
	return &countingDetector{detections: []detect.Detection{{Label: "person", Confidence: 0.9}}}
}

func TestControllerHappyPathAndDedup(t *testing.T) {
	ctx := context.Background()
	detector := personDetector()
	h := newHarness(t, detector, nil)
	h.source.frames = [][]byte{[]byte("frame-a")}

	out, err := h.ctrl.Start(ctx, sessionID)
	require.NoError(t, err)
	require.True(t, out.NextAction.Scheduled)
	require.Zero(t, out.NextAction.Delay)
	require.Equal(t, fsm.ModeArmed, out.NextAction.State.Mode)
	require.Equal(t, []notification{{status: fsm.StatusOK, text: "started"}}, h.notifier.Items())

	out, err = h.ctrl.Resume(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, "I can see a person", out.Utterance)
	require.Equal(t, fsm.ModeCooldown, out.NextAction.State.Mode)
	require.Equal(t, 4*time.Second, out.NextAction.Delay)
	require.Equal(t, fsm.StatusOK, out.Status)
	require.NotNil(t, out.Speech)
	require.Equal(t, speech.StatusSpoken, out.Speech.Status)
	require.Equal(t, int32(1), detector.calls.Load())
	require.Equal(t, []string{"I can see a person"}, h.speaker.Texts())
	require.Equal(t, []string{sessionID}, h.speaker.sessions)
	require.Equal(t, []string{"I can see a person"}, h.announce)

	persisted, err := h.store.Load(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, out.NextAction.State.Version, persisted.Version)
	require.Equal(t, fsm.ModeCooldown, persisted.Mode)
	require.Equal(t, "I can see a person", persisted.LastUtterance)

	h.clock.Advance(4 * time.Second)
	out, err = h.ctrl.Resume(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, fsm.ModeArmed, out.NextAction.State.Mode)
	require.Zero(t, out.NextAction.Delay)

	out, err = h.ctrl.Resume(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, fsm.ModeArmed, out.NextAction.State.Mode)
	require.Equal(t, time.Second, out.NextAction.Delay)
	require.Empty(t, out.Utterance)
	require.Equal(t, int32(1), detector.calls.Load())
	require.Len(t, h.speaker.Texts(), 1)
}

func TestControllerDetectorFailureSpeaksFallback(t *testing.T) {
	ctx := context.Background()
	detector := &countingDetector{err: detect.ErrDetectorUnavailable}
	h := newHarness(t, detector, nil)
	h.source.frames = [][]byte{[]byte("frame-a")}

	_, err := h.ctrl.Start(ctx, sessionID)
	require.NoError(t, err)

	out, err := h.ctrl.Resume(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, fsm.FallbackUtterance, out.Utterance)
	require.Equal(t, fsm.ModeCooldown, out.NextAction.State.Mode)
	require.Equal(t, fsm.StatusDetectorUnavailable, out.Status)
	require.Equal(t, int32(1), detector.calls.Load())
	require.Equal(t, []string{fsm.FallbackUtterance}, h.speaker.Texts())
}

func TestControllerDetectorTimeout(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	blocking := detect.Func(func(ctx context.Context, _ capture.Frame) ([]detect.Detection, error) {
		calls.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	h := newHarness(t, blocking, func(_ *Deps, opts *Options) {
		opts.DetectTimeout = 20 * time.Millisecond
	})
	h.source.frames = [][]byte{[]byte("frame-a")}

	_, err := h.ctrl.Start(ctx, sessionID)
	require.NoError(t, err)

	out, err := h.ctrl.Resume(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, fsm.FallbackUtterance, out.Utterance)
	require.Equal(t, fsm.StatusDetectorUnavailable, out.Status)
	require.Equal(t, int32(1), calls.Load())
}

func TestControllerWithoutDetectorDescribesBrightness(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)
	h.source.frames = [][]byte{solidPNG(t, 0)}

	_, err := h.ctrl.Start(ctx, sessionID)
	require.NoError(t, err)

	out, err := h.ctrl.Resume(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, "It looks very dark here. I can't make out any objects.", out.Utterance)
	require.Equal(t, fsm.StatusOK, out.Status)
}

func TestControllerCaptureBackoffNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, personDetector(), nil)
	h.source.err = capture.ErrCaptureUnavailable

	_, err := h.ctrl.Start(ctx, sessionID)
	require.NoError(t, err)

	out, err := h.ctrl.Resume(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, fsm.StatusCaptureUnavailable, out.Status)
	require.Equal(t, time.Second, out.NextAction.Delay)

	out, err = h.ctrl.Resume(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, out.NextAction.Delay)

	items := h.notifier.Items()
	require.Len(t, items, 2)
	require.Equal(t, fsm.StatusCaptureUnavailable, items[1].status)
}

func TestControllerStopRequestPreventsNewCycle(t *testing.T) {
	ctx := context.Background()
	detector := personDetector()
	h := newHarness(t, detector, nil)
	h.source.frames = [][]byte{[]byte("frame-a")}

	_, err := h.ctrl.Start(ctx, sessionID)
	require.NoError(t, err)

	h.ctrl.RequestStop(sessionID)
	out, err := h.ctrl.Resume(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, fsm.ModeIdle, out.NextAction.State.Mode)
	require.False(t, out.NextAction.Scheduled)
	require.Zero(t, detector.calls.Load())
	require.Equal(t, "stopped", h.notifier.Items()[1].text)
}

func TestControllerStopDuringCaptureSkipsAnalysis(t *testing.T) {
	ctx := context.Background()
	detector := personDetector()
	h := newHarness(t, detector, nil)
	h.source.frames = [][]byte{[]byte("frame-a")}
	h.source.before = func() { h.ctrl.RequestStop(sessionID) }

	_, err := h.ctrl.Start(ctx, sessionID)
	require.NoError(t, err)

	out, err := h.ctrl.Resume(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, fsm.ModeIdle, out.NextAction.State.Mode)
	require.Zero(t, detector.calls.Load())
	require.Empty(t, h.speaker.Texts())
}

func TestControllerResumeInterruptedCycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, personDetector(), nil)

	inflight := fsm.NewLoopState(sessionID)
	inflight.Version = 3
	inflight.Mode = fsm.ModeProcessing
	inflight.Stage = fsm.StageAnalyzing
	inflight.Cycle = 1
	require.NoError(t, h.store.Save(ctx, inflight, 0))

	out, err := h.ctrl.Resume(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, fsm.ModeCooldown, out.NextAction.State.Mode)
	require.Equal(t, fsm.FallbackUtterance, out.Utterance)
	require.Empty(t, h.speaker.Texts())
}

func TestControllerSubmitAndCooldownIgnoresFrames(t *testing.T) {
	ctx := context.Background()
	detector := personDetector()
	h := newHarness(t, detector, func(deps *Deps, _ *Options) { deps.Capture = nil })

	_, err := h.ctrl.Start(ctx, sessionID)
	require.NoError(t, err)

	out, err := h.ctrl.Resume(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, time.Second, out.NextAction.Delay)

	out, err = h.ctrl.Submit(ctx, sessionID, capture.Frame{Data: []byte("frame-a")})
	require.NoError(t, err)
	require.Equal(t, "I can see a person", out.Utterance)

	h.clock.Advance(time.Second)
	out, err = h.ctrl.Submit(ctx, sessionID, capture.Frame{Data: []byte("frame-b")})
	require.NoError(t, err)
	require.Equal(t, fsm.ModeCooldown, out.NextAction.State.Mode)
	require.Equal(t, 3*time.Second, out.NextAction.Delay)
	require.Equal(t, int32(1), detector.calls.Load())
}

func TestControllerStartTwiceIsInvalid(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, personDetector(), nil)

	_, err := h.ctrl.Start(ctx, sessionID)
	require.NoError(t, err)
	_, err = h.ctrl.Start(ctx, sessionID)
	require.ErrorIs(t, err, fsm.ErrInvalidTransition)
}

func TestControllerEndDeletesSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, personDetector(), nil)

	_, err := h.ctrl.Start(ctx, sessionID)
	require.NoError(t, err)

	out, err := h.ctrl.End(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, fsm.ModeIdle, out.NextAction.State.Mode)

	_, err = h.store.Load(ctx, sessionID)
	require.ErrorIs(t, err, store.ErrNotFound)

	state, err := h.ctrl.State(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, fsm.NewLoopState(sessionID), state)
}

func TestControllerMutedSpeechCountsAsSpoken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, personDetector(), func(deps *Deps, _ *Options) { deps.Speaker = nil })
	h.source.frames = [][]byte{[]byte("frame-a")}

	_, err := h.ctrl.Start(ctx, sessionID)
	require.NoError(t, err)

	out, err := h.ctrl.Resume(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, fsm.StatusOK, out.Status)
	require.Equal(t, speech.StatusMuted, out.Speech.Status)
}

func TestControllerSpeechFailureMarksStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, personDetector(), nil)
	h.speaker.result = speech.Result{Status: speech.StatusSynthesisFailed, Err: speech.ErrSynthesisFailed}
	h.source.frames = [][]byte{[]byte("frame-a")}

	_, err := h.ctrl.Start(ctx, sessionID)
	require.NoError(t, err)

	out, err := h.ctrl.Resume(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, fsm.ModeCooldown, out.NextAction.State.Mode)
	require.Equal(t, fsm.StatusSynthesisFailed, out.Status)
}

type conflictingStore struct {
	*store.Store
	once sync.Once
}

func (s *conflictingStore) Save(ctx context.Context, state fsm.LoopState, expected uint64) error {
	s.once.Do(func() {
		other := state
		other.Version = expected + 100
		_ = s.Store.Save(ctx, other, expected)
	})
	return s.Store.Save(ctx, state, expected)
}

func TestControllerVersionConflict(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, personDetector(), nil)
	conflicting := &conflictingStore{Store: h.store}
	ctrl, err := NewController(nil, Deps{Store: conflicting}, Options{Now: h.clock.Now})
	require.NoError(t, err)

	_, err = ctrl.Start(ctx, sessionID)
	require.ErrorIs(t, err, store.ErrVersionConflict)
}

func TestControllerRejectsInvalidSession(t *testing.T) {
	h := newHarness(t, personDetector(), nil)
	_, err := h.ctrl.Start(context.Background(), "a/b")
	require.ErrorIs(t, err, store.ErrInvalidSession)

	_, err = NewController(nil, Deps{}, Options{})
	require.Error(t, err)
}

func TestSessionContext(t *testing.T) {
	_, ok := SessionFrom(context.Background())
	require.False(t, ok)

	id, ok := SessionFrom(WithSession(context.Background(), "abc"))
	require.True(t, ok)
	require.Equal(t, "abc", id)
}

func solidPNG(t *testing.T, gray uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = gray
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
