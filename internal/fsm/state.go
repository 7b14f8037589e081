package fsm

import "time"

type Mode string

const (
	ModeIdle       Mode = "idle"
	ModeArmed      Mode = "armed"
	ModeProcessing Mode = "processing"
	ModeCooldown   Mode = "cooldown"
)

// Stage narrows ModeProcessing to the collaborator currently in flight.
type Stage string

const (
	StageNone      Stage = ""
	StageAnalyzing Stage = "analyzing"
	StageSpeaking  Stage = "speaking"
)

// Status is the persistent, user-visible health of the loop.
type Status string

const (
	StatusOK                  Status = "ok"
	StatusCaptureUnavailable  Status = "capture_unavailable"
	StatusDetectorUnavailable Status = "detector_unavailable"
	StatusSynthesisFailed     Status = "synthesis_failed"
)

// FallbackUtterance is recorded when a cycle cannot produce a description.
const FallbackUtterance = "Scene analysis is unavailable right now."

// LoopState is the single versioned record a session persists between invocations.
type LoopState struct {
	SessionID       string    `msgpack:"session_id" json:"session_id"`
	Version         uint64    `msgpack:"version" json:"version"`
	Mode            Mode      `msgpack:"mode" json:"mode"`
	Stage           Stage     `msgpack:"stage" json:"stage,omitempty"`
	Cycle           uint64    `msgpack:"cycle" json:"cycle"`
	LastFrameID     string    `msgpack:"last_frame_id" json:"last_frame_id,omitempty"`
	PendingFrameID  string    `msgpack:"pending_frame_id" json:"pending_frame_id,omitempty"`
	LastUtterance   string    `msgpack:"last_utterance" json:"last_utterance,omitempty"`
	PendingSpeech   string    `msgpack:"pending_speech" json:"pending_speech,omitempty"`
	Status          Status    `msgpack:"status" json:"status"`
	CaptureFailures int       `msgpack:"capture_failures" json:"capture_failures"`
	ArmedSince      time.Time `msgpack:"armed_since" json:"armed_since"`
	CooldownUntil   time.Time `msgpack:"cooldown_until" json:"cooldown_until"`
	UpdatedAt       time.Time `msgpack:"updated_at" json:"updated_at"`
}

// NewLoopState returns the idle record created on a session's first interaction.
func NewLoopState(sessionID string) LoopState {
	return LoopState{SessionID: sessionID, Mode: ModeIdle, Status: StatusOK}
}

// Running reports whether the loop has been started and not stopped.
func (s LoopState) Running() bool {
	return s.Mode != ModeIdle
}

// Timing holds the loop's fixed waits.
type Timing struct {
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	Dwell           time.Duration
}

// DefaultTiming is the loop cadence used when config leaves timing unset.
func DefaultTiming() Timing {
	return Timing{
		PollInterval:    time.Second,
		MaxPollInterval: 8 * time.Second,
		Dwell:           4 * time.Second,
	}
}

// captureBackoff grows linearly with consecutive capture failures up to MaxPollInterval.
func (t Timing) captureBackoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := t.PollInterval * time.Duration(failures)
	if t.MaxPollInterval > 0 && delay > t.MaxPollInterval {
		return t.MaxPollInterval
	}
	return delay
}
