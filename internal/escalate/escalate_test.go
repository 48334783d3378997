package escalate_test

import (
	"errors"
	"runtime"
	"slices"
	"syscall"
	"testing"

	"github.com/winpriv/tisudo/internal/escalate"
	"github.com/winpriv/tisudo/internal/escalate/testutil"
)

func newPipeline(sys *testutil.FakeSystem) *escalate.Pipeline {
	return escalate.New(escalate.Config{System: sys})
}

func TestRunSuccess(t *testing.T) {
	sys := testutil.NewFakeSystem()
	sys.CallerSession = 7
	sys.Env["WINDIR"] = `C:\Windows`

	err := newPipeline(sys).Run(escalate.Request{
		CommandLine: `%WINDIR%\System32\cmd.exe`,
		WorkDir:     `C:\Temp`,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	t.Run("creates exactly one process", func(t *testing.T) {
		if len(sys.CreatedProcesses) != 1 {
			t.Fatalf("created %d processes, want 1", len(sys.CreatedProcesses))
		}
	})

	spec := sys.CreatedProcesses[0]

	t.Run("expands the command line against the caller environment", func(t *testing.T) {
		if want := `C:\Windows\System32\cmd.exe`; spec.CommandLine != want {
			t.Errorf("command line = %q, want %q", spec.CommandLine, want)
		}
	})

	t.Run("attaches to the interactive desktop", func(t *testing.T) {
		if want := `WinSta0\Default`; spec.Desktop != want {
			t.Errorf("desktop = %q, want %q", spec.Desktop, want)
		}
		if spec.WorkDir != `C:\Temp` {
			t.Errorf("workdir = %q, want C:\\Temp", spec.WorkDir)
		}
	})

	t.Run("process runs under the rebound primary token", func(t *testing.T) {
		if got := sys.SessionsSet[sys.ProcessToken]; got != 7 {
			t.Errorf("process token session = %d, want caller session 7", got)
		}
		if got := sys.IntegritySet[sys.ProcessToken]; got != escalate.IntegritySystem {
			t.Errorf("process token integrity = %#x, want %#x", got, escalate.IntegritySystem)
		}
		if !slices.Contains(sys.PrivilegesEnabled[sys.ProcessToken], "*") {
			t.Error("process token privileges were not all enabled")
		}
		if sys.EnvBlockToken != sys.ProcessToken {
			t.Error("environment block was not scoped to the process token")
		}
	})

	t.Run("priority is set before the process is resumed", func(t *testing.T) {
		priority := slices.Index(sys.Calls, "SetPriorityClass")
		resume := slices.Index(sys.Calls, "ResumeThread")
		if priority == -1 || resume == -1 || priority > resume {
			t.Errorf("call order priority=%d resume=%d, want priority first", priority, resume)
		}
		if sys.PrioritySet != escalate.PriorityAboveNormal {
			t.Errorf("priority = %#x, want above-normal default", sys.PrioritySet)
		}
	})

	t.Run("process survives the run", func(t *testing.T) {
		if len(sys.Terminated) != 0 {
			t.Errorf("terminated processes: %v", sys.Terminated)
		}
	})

	t.Run("no handle leaks", func(t *testing.T) {
		if leaked := sys.LeakedHandles(); len(leaked) != 0 {
			t.Errorf("leaked handles: %v", leaked)
		}
	})

	t.Run("environment block is destroyed", func(t *testing.T) {
		for env, destroyed := range sys.EnvBlocks {
			if !destroyed {
				t.Errorf("environment block %p not destroyed", env)
			}
		}
		if len(sys.EnvBlocks) != 1 {
			t.Errorf("created %d environment blocks, want 1", len(sys.EnvBlocks))
		}
	})

	t.Run("thread identity is cleared last", func(t *testing.T) {
		if sys.ThreadToken != escalate.InvalidHandle {
			t.Error("thread impersonation token still installed after Run")
		}
		if last := sys.Calls[len(sys.Calls)-1]; last != "ClearThreadToken" {
			t.Errorf("last call = %s, want ClearThreadToken", last)
		}
	})

	t.Run("thread assumed caller then root identity", func(t *testing.T) {
		if len(sys.ThreadTokenHistory) != 2 {
			t.Fatalf("thread token installed %d times, want 2", len(sys.ThreadTokenHistory))
		}
	})
}

func TestRunStageFailures(t *testing.T) {
	// Every fallible operation in pipeline order. FailAt disambiguates
	// operations the pipeline performs more than once.
	stages := []struct {
		op string
		at int
	}{
		{"OpenCurrentProcessToken", 1},
		{"TokenSessionID", 1},
		{"DuplicateToken", 1},
		{"EnablePrivilege", 1},
		{"SetThreadToken", 1},
		{"OpenProcessTokenByName", 1},
		{"DuplicateToken", 2},
		{"EnableAllPrivileges", 1},
		{"SetThreadToken", 2},
		{"OpenServiceProcessToken", 1},
		{"DuplicateToken", 3},
		{"SetTokenSessionID", 1},
		{"EnableAllPrivileges", 2},
		{"SetTokenIntegrityLevel", 1},
		{"CreateEnvironmentBlock", 1},
		{"ExpandCommandLine", 1},
		{"CreateProcess", 1},
		{"ResumeThread", 1},
	}

	for _, stage := range stages {
		t.Run(stage.op, func(t *testing.T) {
			sys := testutil.NewFakeSystem()
			sys.FailOn = stage.op
			sys.FailAt = stage.at

			err := newPipeline(sys).Run(escalate.Request{CommandLine: "cmd.exe"})
			if err == nil {
				t.Fatal("Run() succeeded, want failure")
			}

			var errno syscall.Errno
			if !errors.As(err, &errno) || errno != testutil.FakeErrno {
				t.Errorf("error %v does not carry the platform status code", err)
			}
			if got := escalate.ExitCode(err); got != int(testutil.FakeErrno) {
				t.Errorf("ExitCode() = %d, want %d", got, int(testutil.FakeErrno))
			}

			if stage.op != "ResumeThread" && len(sys.CreatedProcesses) != 0 {
				t.Error("a process was created after an earlier stage failed")
			}

			if leaked := sys.LeakedHandles(); len(leaked) != 0 {
				t.Errorf("leaked handles: %v", leaked)
			}
			if sys.ThreadToken != escalate.InvalidHandle {
				t.Error("thread impersonation token still installed after failure")
			}
			for env, destroyed := range sys.EnvBlocks {
				if !destroyed {
					t.Errorf("environment block %p not destroyed", env)
				}
			}
		})
	}
}

func TestRunResumeFailureTerminatesProcess(t *testing.T) {
	sys := testutil.NewFakeSystem()
	sys.FailOn = "ResumeThread"

	err := newPipeline(sys).Run(escalate.Request{CommandLine: "cmd.exe"})
	if err == nil {
		t.Fatal("Run() succeeded, want failure")
	}

	if len(sys.CreatedProcesses) != 1 {
		t.Fatalf("created %d processes, want 1", len(sys.CreatedProcesses))
	}
	if _, ok := sys.Terminated[sys.ProcessHandle]; !ok {
		t.Error("suspended process was not terminated after a resume failure")
	}
	if leaked := sys.LeakedHandles(); len(leaked) != 0 {
		t.Errorf("leaked handles: %v", leaked)
	}
}

func TestRunPriorityFailureIsNotFatal(t *testing.T) {
	sys := testutil.NewFakeSystem()
	sys.FailOn = "SetPriorityClass"

	if err := newPipeline(sys).Run(escalate.Request{CommandLine: "cmd.exe"}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if sys.CallCount("ResumeThread") != 1 {
		t.Error("process was not resumed after a priority failure")
	}
}

func TestRunRequestValidation(t *testing.T) {
	t.Run("empty command line", func(t *testing.T) {
		sys := testutil.NewFakeSystem()
		err := newPipeline(sys).Run(escalate.Request{CommandLine: "   "})
		if !errors.Is(err, escalate.ErrEmptyCommandLine) {
			t.Errorf("Run() = %v, want ErrEmptyCommandLine", err)
		}
		if len(sys.Calls) != 0 {
			t.Errorf("pipeline ran %d operations on an empty request", len(sys.Calls))
		}
	})

	t.Run("explicit priority is honored", func(t *testing.T) {
		sys := testutil.NewFakeSystem()
		err := newPipeline(sys).Run(escalate.Request{
			CommandLine: "cmd.exe",
			Priority:    escalate.PriorityHigh,
		})
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
		if sys.PrioritySet != escalate.PriorityHigh {
			t.Errorf("priority = %#x, want high", sys.PrioritySet)
		}
	})

	t.Run("hidden window is passed through", func(t *testing.T) {
		sys := testutil.NewFakeSystem()
		err := newPipeline(sys).Run(escalate.Request{CommandLine: "cmd.exe", Hidden: true})
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
		if !sys.CreatedProcesses[0].Hidden {
			t.Error("hidden flag not passed to process creation")
		}
	})
}

func TestRunUnsupportedPlatform(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("platform implementation available")
	}
	err := escalate.New(escalate.Config{}).Run(escalate.Request{CommandLine: "cmd.exe"})
	if !errors.Is(err, escalate.ErrUnsupported) {
		t.Errorf("Run() = %v, want ErrUnsupported", err)
	}
}

func TestExitCode(t *testing.T) {
	t.Run("nil is success", func(t *testing.T) {
		if got := escalate.ExitCode(nil); got != 0 {
			t.Errorf("ExitCode(nil) = %d, want 0", got)
		}
	})

	t.Run("platform status code passes through", func(t *testing.T) {
		err := newWrapped(syscall.Errno(1314))
		if got := escalate.ExitCode(err); got != 1314 {
			t.Errorf("ExitCode() = %d, want 1314", got)
		}
	})

	t.Run("plain errors map to one", func(t *testing.T) {
		if got := escalate.ExitCode(errors.New("boom")); got != 1 {
			t.Errorf("ExitCode() = %d, want 1", got)
		}
	})
}

func newWrapped(errno syscall.Errno) error {
	return &wrapped{errno}
}

type wrapped struct{ err error }

func (w *wrapped) Error() string { return "failed: " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }

func TestParsePriority(t *testing.T) {
	cases := map[string]escalate.Priority{
		"idle":        escalate.PriorityIdle,
		"belownormal": escalate.PriorityBelowNormal,
		"normal":      escalate.PriorityNormal,
		"abovenormal": escalate.PriorityAboveNormal,
		"high":        escalate.PriorityHigh,
		"realtime":    escalate.PriorityRealtime,
	}
	for name, want := range cases {
		got, err := escalate.ParsePriority(name)
		if err != nil {
			t.Errorf("ParsePriority(%q) error: %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("ParsePriority(%q) = %#x, want %#x", name, got, want)
		}
	}

	if _, err := escalate.ParsePriority("turbo"); !errors.Is(err, escalate.ErrUnknownPriority) {
		t.Errorf("ParsePriority(turbo) = %v, want ErrUnknownPriority", err)
	}
}
