package fsm

import "time"

type CommandKind string

const (
	// CommandAnalyze runs the detector and description synthesizer on the pending frame.
	CommandAnalyze CommandKind = "analyze"
	// CommandSpeak dispatches Text to the speech collaborator.
	CommandSpeak CommandKind = "speak"
	// CommandAnnounce renders Text for visual/textual display.
	CommandAnnounce CommandKind = "announce"
	// CommandNotify surfaces a persistent status change to the user.
	CommandNotify CommandKind = "notify"
	// CommandSchedule asks the host to invoke the controller again after Delay.
	CommandSchedule CommandKind = "schedule"
)

// Command is one side effect requested by Advance, executed in order by the host.
type Command struct {
	Kind    CommandKind
	Cycle   uint64
	FrameID string
	Text    string
	Status  Status
	Delay   time.Duration
}

// NextAction is the host re-invocation contract: wait Delay, then resume State.
type NextAction struct {
	Delay time.Duration
	State LoopState
	// Scheduled is false when the loop is idle and nothing should be re-invoked.
	Scheduled bool
}

// NextActionFor derives the host contract from the trailing schedule command.
func NextActionFor(state LoopState, commands []Command) NextAction {
	for i := len(commands) - 1; i >= 0; i-- {
		if commands[i].Kind == CommandSchedule {
			return NextAction{Delay: commands[i].Delay, State: state, Scheduled: true}
		}
	}
	return NextAction{State: state}
}

func schedule(delay time.Duration) Command {
	if delay < 0 {
		delay = 0
	}
	return Command{Kind: CommandSchedule, Delay: delay}
}
