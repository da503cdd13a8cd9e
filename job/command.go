package job

import "strings"

type Command int

const (
	CommandRun Command = iota
	CommandPause
	CommandStop
)

// ParseCommand maps the COMMAND value of the command file. RESUME, blank and unknown values mean run.
func ParseCommand(s string) Command {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PAUSE":
		return CommandPause
	case "STOP":
		return CommandStop
	default:
		return CommandRun
	}
}

func (c Command) String() string {
	switch c {
	case CommandPause:
		return "PAUSE"
	case CommandStop:
		return "STOP"
	default:
		return "RUN"
	}
}
