// Package fsm holds the pure capture/describe/speak loop state machine.
//
// Advance performs no I/O and never reads a clock. Hosts feed it events,
// execute the returned commands in order and persist the returned state.
package fsm

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrUnknownMode       = errors.New("unknown mode")
)

// Advance applies event to state and returns the next state plus the side effects to run.
func Advance(state LoopState, event Event, timing Timing) (LoopState, []Command, error) {
	if !knownEvent(event.Kind) {
		return state, nil, fmt.Errorf("%w %q", ErrUnknownEvent, event.Kind)
	}

	if event.Kind == EventStop {
		return stop(state, event)
	}

	switch state.Mode {
	case ModeIdle:
		return advanceIdle(state, event)
	case ModeArmed:
		return advanceArmed(state, event, timing)
	case ModeProcessing:
		return advanceProcessing(state, event, timing)
	case ModeCooldown:
		return advanceCooldown(state, event, timing)
	default:
		return state, nil, fmt.Errorf("%w %q", ErrUnknownMode, state.Mode)
	}
}

func advanceIdle(state LoopState, event Event) (LoopState, []Command, error) {
	switch event.Kind {
	case EventStart:
		next := state
		next.Mode = ModeArmed
		next.Stage = StageNone
		next.Status = StatusOK
		next.CaptureFailures = 0
		next.LastFrameID = ""
		next.PendingFrameID = ""
		next.PendingSpeech = ""
		next.ArmedSince = event.At
		next.CooldownUntil = time.Time{}
		return accept(next, event), []Command{
			{Kind: CommandNotify, Status: StatusOK, Text: "started"},
			schedule(0),
		}, nil
	default:
		// Nothing is running; results and ticks are dropped.
		return state, nil, nil
	}
}

func advanceArmed(state LoopState, event Event, timing Timing) (LoopState, []Command, error) {
	switch event.Kind {
	case EventStart:
		return state, nil, invalidTransition(state, event)
	case EventFrame:
		next := recoverCapture(state)
		if event.FrameID != "" && event.FrameID == state.LastFrameID {
			return accept(next, event), []Command{schedule(timing.PollInterval)}, nil
		}
		next.Mode = ModeProcessing
		next.Stage = StageAnalyzing
		next.Cycle++
		next.PendingFrameID = event.FrameID
		next.PendingSpeech = ""
		return accept(next, event), []Command{
			{Kind: CommandAnalyze, Cycle: next.Cycle, FrameID: event.FrameID},
		}, nil
	case EventTick:
		if !event.CaptureUnavailable {
			return accept(state, event), []Command{schedule(timing.PollInterval)}, nil
		}
		next := state
		next.CaptureFailures++
		commands := make([]Command, 0, 2)
		if next.CaptureFailures == 1 {
			commands = append(commands, Command{
				Kind:   CommandNotify,
				Status: StatusCaptureUnavailable,
				Text:   event.Reason,
			})
		}
		next.Status = StatusCaptureUnavailable
		commands = append(commands, schedule(timing.captureBackoff(next.CaptureFailures)))
		return accept(next, event), commands, nil
	case EventElapsed:
		return accept(state, event), []Command{schedule(timing.PollInterval)}, nil
	default:
		return stale(state)
	}
}

func advanceProcessing(state LoopState, event Event, timing Timing) (LoopState, []Command, error) {
	switch event.Kind {
	case EventStart:
		return state, nil, invalidTransition(state, event)
	case EventAnalyzed, EventAnalysisFailed:
		if state.Stage != StageAnalyzing || event.Cycle != state.Cycle {
			return stale(state)
		}
		next := state
		next.Stage = StageSpeaking
		text := event.Utterance
		if event.Kind == EventAnalysisFailed {
			next.Status = StatusDetectorUnavailable
			text = FallbackUtterance
		} else {
			if next.Status == StatusDetectorUnavailable {
				next.Status = StatusOK
			}
			if text == "" {
				text = FallbackUtterance
			}
		}
		next.PendingSpeech = text
		return accept(next, event), []Command{
			{Kind: CommandAnnounce, Cycle: next.Cycle, Text: text},
			{Kind: CommandSpeak, Cycle: next.Cycle, Text: text},
		}, nil
	case EventSpoken:
		if state.Stage != StageSpeaking || event.Cycle != state.Cycle {
			return stale(state)
		}
		next := enterCooldown(state, event.At, timing, state.PendingSpeech)
		switch {
		case !event.Spoken:
			next.Status = StatusSynthesisFailed
		case next.Status == StatusSynthesisFailed:
			next.Status = StatusOK
		}
		return accept(next, event), []Command{schedule(timing.Dwell)}, nil
	case EventInterrupted:
		next := enterCooldown(state, event.At, timing, FallbackUtterance)
		return accept(next, event), []Command{
			{Kind: CommandAnnounce, Cycle: next.Cycle, Text: FallbackUtterance},
			schedule(timing.Dwell),
		}, nil
	default:
		// A cycle is already in flight.
		return stale(state)
	}
}

func advanceCooldown(state LoopState, event Event, timing Timing) (LoopState, []Command, error) {
	switch event.Kind {
	case EventStart:
		return state, nil, invalidTransition(state, event)
	case EventElapsed:
		if !event.At.Before(state.CooldownUntil) {
			next := state
			next.Mode = ModeArmed
			next.CooldownUntil = time.Time{}
			return accept(next, event), []Command{schedule(0)}, nil
		}
		return accept(state, event), []Command{schedule(state.CooldownUntil.Sub(event.At))}, nil
	case EventFrame, EventTick:
		return accept(state, event), []Command{schedule(remaining(state, event.At))}, nil
	default:
		return stale(state)
	}
}

func stop(state LoopState, event Event) (LoopState, []Command, error) {
	if state.Mode == ModeIdle {
		return state, nil, nil
	}
	if !knownMode(state.Mode) {
		return state, nil, fmt.Errorf("%w %q", ErrUnknownMode, state.Mode)
	}

	next := state
	next.Mode = ModeIdle
	next.Stage = StageNone
	next.Status = StatusOK
	next.PendingFrameID = ""
	next.PendingSpeech = ""
	next.CaptureFailures = 0
	next.CooldownUntil = time.Time{}
	return accept(next, event), []Command{{Kind: CommandNotify, Status: StatusOK, Text: "stopped"}}, nil
}

func enterCooldown(state LoopState, at time.Time, timing Timing, utterance string) LoopState {
	next := state
	next.Mode = ModeCooldown
	next.Stage = StageNone
	next.LastFrameID = state.PendingFrameID
	next.PendingFrameID = ""
	next.PendingSpeech = ""
	next.LastUtterance = utterance
	next.CooldownUntil = at.Add(timing.Dwell)
	return next
}

// recoverCapture clears capture failure bookkeeping once a frame arrives.
func recoverCapture(state LoopState) LoopState {
	next := state
	next.CaptureFailures = 0
	if next.Status == StatusCaptureUnavailable {
		next.Status = StatusOK
	}
	return next
}

func remaining(state LoopState, at time.Time) time.Duration {
	left := state.CooldownUntil.Sub(at)
	if left < 0 {
		return 0
	}
	return left
}

func accept(next LoopState, event Event) LoopState {
	next.Version++
	next.UpdatedAt = event.At
	return next
}

func stale(state LoopState) (LoopState, []Command, error) {
	return state, nil, nil
}

func knownEvent(kind EventKind) bool {
	switch kind {
	case EventStart, EventStop, EventFrame, EventTick, EventAnalyzed,
		EventAnalysisFailed, EventSpoken, EventInterrupted, EventElapsed:
		return true
	default:
		return false
	}
}

func knownMode(mode Mode) bool {
	switch mode {
	case ModeIdle, ModeArmed, ModeProcessing, ModeCooldown:
		return true
	default:
		return false
	}
}

func invalidTransition(state LoopState, event Event) error {
	return fmt.Errorf("%w: %s --(%s)--> ?", ErrInvalidTransition, state.Mode, event.Kind)
}
