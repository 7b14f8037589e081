package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRun      Command = "run"
	CommandToggle   Command = "toggle"
	CommandStop     Command = "stop"
	CommandStatus   Command = "status"
	CommandStep     Command = "step"
	CommandEnd      Command = "end"
	CommandServe    Command = "serve"
	CommandDescribe Command = "describe"
	CommandDevices  Command = "devices"
	CommandDoctor   Command = "doctor"
	CommandVersion  Command = "version"
	CommandHelp     Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandRun:      {},
	CommandToggle:   {},
	CommandStop:     {},
	CommandStatus:   {},
	CommandStep:     {},
	CommandEnd:      {},
	CommandServe:    {},
	CommandDescribe: {},
	CommandDevices:  {},
	CommandDoctor:   {},
	CommandVersion:  {},
	CommandHelp:     {},
}

// commandArgs is the number of positional arguments a command takes.
var commandArgs = map[Command]int{
	CommandDescribe: 1,
}

type Parsed struct {
	Command    Command
	ConfigPath string
	SessionID  string
	Args       []string
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}
	commandSeen := false

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		case "--session":
			i++
			if i >= len(args) || strings.TrimSpace(args[i]) == "" {
				return Parsed{}, errors.New("--session requires an id")
			}
			parsed.SessionID = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			if commandSeen {
				parsed.Args = append(parsed.Args, arg)
				continue
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			commandSeen = true
		}
	}

	if commandSeen {
		want := commandArgs[parsed.Command]
		if len(parsed.Args) > want {
			return Parsed{}, fmt.Errorf("unexpected arguments after command %q", parsed.Command)
		}
		if len(parsed.Args) < want {
			return Parsed{}, fmt.Errorf("command %q requires %d argument(s)", parsed.Command, want)
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--session ID] <command> [args]

Commands:
  run              Start the describe loop in the foreground until stopped
  toggle           Stop a running loop, or start one when none is running
  stop             Stop the running loop
  status           Print the running loop mode and last description
  step             Advance a persisted session once and print the next action
  end              Stop a persisted session and delete its state
  serve            Serve the HTTP session API
  describe IMAGE   Describe one image aloud and print the sentence
  devices          List available output devices
  doctor           Run configuration and environment checks
  version          Print version information
  help             Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/glimpse/config.jsonc)
  --session ID    Session id for step/end (default: loop.session_id)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
