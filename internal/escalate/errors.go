package escalate

import (
	"errors"
	"syscall"
)

var (
	// ErrUnsupported is returned on platforms without a token escalation
	// implementation.
	ErrUnsupported = errors.New("process escalation is only supported on Windows")

	// ErrEmptyCommandLine is returned when the request carries no command.
	ErrEmptyCommandLine = errors.New("command line is empty")

	// ErrUnknownPriority is returned by ParsePriority for unknown names.
	ErrUnknownPriority = errors.New("unknown priority class")
)

// ExitCode maps a pipeline error to a process exit status. The platform
// status code of the failing OS primitive is passed through verbatim when
// present; other failures map to 1, nil maps to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && errno != 0 {
		return int(errno)
	}
	return 1
}

// ParsePriority maps a priority class name to its Priority value.
func ParsePriority(name string) (Priority, error) {
	switch name {
	case "idle":
		return PriorityIdle, nil
	case "belownormal":
		return PriorityBelowNormal, nil
	case "normal":
		return PriorityNormal, nil
	case "abovenormal":
		return PriorityAboveNormal, nil
	case "high":
		return PriorityHigh, nil
	case "realtime":
		return PriorityRealtime, nil
	}
	return 0, ErrUnknownPriority
}
