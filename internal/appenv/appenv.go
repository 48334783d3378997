// Package appenv resolves filesystem facts about the running executable.
// The result is constructed once and passed explicitly to the code that
// needs it instead of living in package-level mutable state.
package appenv

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths describes where the running executable lives.
type Paths struct {
	// ExePath is the absolute path of the executable image.
	ExePath string
	// AppDir is the directory containing the executable. It is the default
	// working directory for launched processes.
	AppDir string
}

// Resolve builds Paths for the current process.
func Resolve() (Paths, error) {
	exe, err := os.Executable()
	if err != nil {
		return Paths{}, fmt.Errorf("failed to locate executable: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return Paths{}, fmt.Errorf("failed to resolve executable path: %w", err)
	}
	return FromExecutable(exe), nil
}

// FromExecutable builds Paths for a given executable path.
func FromExecutable(exe string) Paths {
	return Paths{
		ExePath: exe,
		AppDir:  filepath.Dir(exe),
	}
}
