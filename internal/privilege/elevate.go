// Package privilege detects whether the current process carries
// administrator rights and re-executes it elevated when it does not.
// The escalation pipeline needs administrator rights to reach the tokens
// of system processes.
package privilege

type platformImpl struct {
	needsElevation func() bool
	elevate        func() error
}

// platform is replaced by the per-OS implementation in an init function.
// The default applies to platforms without an elevation mechanism.
var platform = platformImpl{
	needsElevation: func() bool { return false },
	elevate:        func() error { return nil },
}

// NeedsElevation reports whether the current process lacks the rights the
// escalation pipeline requires.
func NeedsElevation() bool {
	return platform.needsElevation()
}

// Elevate re-executes the current process with elevated privileges when
// needed, preserving all command-line arguments. On a successful
// re-execution the current process exits with the elevated instance's exit
// code and Elevate does not return.
func Elevate() error {
	if !NeedsElevation() {
		return nil
	}
	return platform.elevate()
}
