package fsm

import "time"

type EventKind string

const (
	EventStart          EventKind = "start"
	EventStop           EventKind = "stop"
	EventFrame          EventKind = "frame"
	EventTick           EventKind = "tick"
	EventAnalyzed       EventKind = "analyzed"
	EventAnalysisFailed EventKind = "analysis_failed"
	EventSpoken         EventKind = "spoken"
	EventInterrupted    EventKind = "interrupted"
	EventElapsed        EventKind = "elapsed"
)

// Event is one input to Advance. At is the host's clock reading; Advance never reads a clock.
type Event struct {
	Kind EventKind
	At   time.Time

	// FrameID identifies the captured frame for EventFrame.
	FrameID string
	// CaptureUnavailable marks an EventTick caused by a failed capture.
	CaptureUnavailable bool

	// Cycle ties collaborator results to the cycle that requested them.
	Cycle uint64
	// Utterance is the description produced by EventAnalyzed.
	Utterance string
	// Degraded marks an EventAnalyzed built without structured detections.
	Degraded bool
	// Spoken reports whether EventSpoken finished with audible output.
	Spoken bool
	// Reason carries diagnostic text for failure events.
	Reason string
}

func Start(at time.Time) Event { return Event{Kind: EventStart, At: at} }

func Stop(at time.Time) Event { return Event{Kind: EventStop, At: at} }

func Frame(at time.Time, frameID string) Event {
	return Event{Kind: EventFrame, At: at, FrameID: frameID}
}

func Tick(at time.Time) Event { return Event{Kind: EventTick, At: at} }

func CaptureFailed(at time.Time, reason string) Event {
	return Event{Kind: EventTick, At: at, CaptureUnavailable: true, Reason: reason}
}

func Analyzed(at time.Time, cycle uint64, utterance string, degraded bool) Event {
	return Event{Kind: EventAnalyzed, At: at, Cycle: cycle, Utterance: utterance, Degraded: degraded}
}

func AnalysisFailed(at time.Time, cycle uint64, reason string) Event {
	return Event{Kind: EventAnalysisFailed, At: at, Cycle: cycle, Reason: reason}
}

func Spoken(at time.Time, cycle uint64, spoken bool) Event {
	return Event{Kind: EventSpoken, At: at, Cycle: cycle, Spoken: spoken}
}

func Interrupted(at time.Time) Event { return Event{Kind: EventInterrupted, At: at} }

func Elapsed(at time.Time) Event { return Event{Kind: EventElapsed, At: at} }
