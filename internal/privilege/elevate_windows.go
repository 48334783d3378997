//go:build windows

package privilege

import (
	"fmt"
	"os"

	"github.com/caarlos0/log"
	"github.com/winpriv/tisudo/internal/windowsexec"
	"golang.org/x/sys/windows"
)

func init() {
	platform = platformImpl{
		needsElevation: needsElevationWindows,
		elevate:        elevateWindows,
	}
}

// needsElevationWindows reports whether the process runs without an
// elevated (administrator) token.
func needsElevationWindows() bool {
	token := windows.GetCurrentProcessToken()
	return !token.IsElevated()
}

// elevateWindows re-executes the current process through the UAC consent
// prompt, waits for the elevated instance and exits with its status.
func elevateWindows() error {
	log.Warn("administrator rights are required, triggering UAC prompt")

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	code, err := windowsexec.RunAs(executable, cwd, os.Args[1:])
	if err != nil {
		return fmt.Errorf("failed to re-execute with elevated privileges: %w", err)
	}

	// The elevated instance did the actual work; mirror its outcome.
	os.Exit(code)
	return nil
}
