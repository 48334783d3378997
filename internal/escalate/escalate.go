// Package escalate launches a process under the TrustedInstaller service
// identity, bound to the caller's interactive session and carrying a SYSTEM
// mandatory integrity label.
//
// The pipeline climbs in three hops: the caller's own token (with
// SeDebugPrivilege enabled) unlocks lsass, the lsass identity (with every
// privilege enabled) unlocks the TrustedInstaller service process, and the
// service token — duplicated as a primary token, rebound to the caller's
// session and raised to SYSTEM integrity — is what the new process runs
// under. Every handle acquired along the way is released on every exit path,
// and the calling thread's impersonation identity is always restored.
package escalate

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/caarlos0/log"
	"github.com/winpriv/tisudo/internal/handle"
)

const (
	// rootProcessName is the always-resident privileged process whose
	// identity bridges the gap between the caller and the target service.
	rootProcessName = "lsass.exe"

	// targetServiceName is the service whose identity the launched process
	// receives.
	targetServiceName = "TrustedInstaller"

	// interactiveDesktop is the default desktop of the caller's session.
	interactiveDesktop = `WinSta0\Default`

	// debugPrivilege lets the caller open other processes' tokens.
	debugPrivilege = "SeDebugPrivilege"
)

// Request describes a single launch. CommandLine is mandatory and may
// contain environment variable references, which are expanded against the
// caller's live environment. WorkDir is optional; empty means the new
// process inherits the caller's current directory.
type Request struct {
	CommandLine string
	WorkDir     string
	Priority    Priority
	Hidden      bool
}

// Config configures a Pipeline. A nil System selects the platform
// implementation; a nil Logger discards all output.
type Config struct {
	System System
	Logger *log.Logger
}

// Pipeline performs the token escalation and launch sequence. A Pipeline is
// stateless across runs, but a single Run mutates the calling thread's
// impersonation identity and must not race with other security-sensitive
// work on that thread.
type Pipeline struct {
	sys    System
	logger *log.Logger
}

// New builds a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	sys := cfg.System
	if sys == nil {
		sys = platformSystem()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Pipeline{sys: sys, logger: logger}
}

// Run executes the full escalation pipeline and launches the requested
// process. It returns once the new process is resumed; the process's
// further lifetime is not managed. On failure no process is left running,
// no handle is leaked and the calling thread's identity is restored.
func (p *Pipeline) Run(req Request) error {
	if p.sys == nil {
		return ErrUnsupported
	}
	if strings.TrimSpace(req.CommandLine) == "" {
		return ErrEmptyCommandLine
	}
	priority := req.Priority
	if priority == 0 {
		priority = PriorityAboveNormal
	}

	// Thread impersonation is OS-thread-local state.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var guard handle.Guard
	defer guard.Release()

	// Registered first so it runs last, after every handle is closed.
	guard.Defer(func() { _ = p.sys.ClearThreadToken() })

	session, err := p.assumeCallerIdentity(&guard)
	if err != nil {
		return err
	}

	if err := p.assumeRootIdentity(&guard); err != nil {
		return err
	}

	target, err := p.acquireTargetToken(&guard, session)
	if err != nil {
		return err
	}

	env, commandLine, err := p.buildEnvironment(&guard, target, req.CommandLine)
	if err != nil {
		return err
	}

	return p.launch(&guard, target, env, commandLine, req, priority)
}

// assumeCallerIdentity opens and elevates the caller's own identity:
// the process token is duplicated into an impersonation token, granted
// SeDebugPrivilege and installed on the calling thread. The caller's
// interactive session is captured from the original token before any
// replacement happens.
func (p *Pipeline) assumeCallerIdentity(guard *handle.Guard) (uint32, error) {
	p.logger.Debug("elevating caller identity")

	tok, err := p.sys.OpenCurrentProcessToken()
	if err != nil {
		return 0, fmt.Errorf("failed to open caller token: %w", err)
	}
	caller := p.own(tok)
	guard.Defer(caller.Close)

	session, err := p.sys.TokenSessionID(caller.Get())
	if err != nil {
		return 0, fmt.Errorf("failed to read caller session: %w", err)
	}
	p.logger.Debugf("caller session: %d", session)

	dup, err := p.sys.DuplicateToken(caller.Get(), TokenImpersonation)
	if err != nil {
		return 0, fmt.Errorf("failed to duplicate caller token: %w", err)
	}
	impersonation := p.own(dup)
	guard.Defer(impersonation.Close)

	if err := p.sys.EnablePrivilege(impersonation.Get(), debugPrivilege); err != nil {
		return 0, fmt.Errorf("failed to enable %s: %w", debugPrivilege, err)
	}

	if err := p.sys.SetThreadToken(impersonation.Get()); err != nil {
		return 0, fmt.Errorf("failed to impersonate caller token: %w", err)
	}

	return session, nil
}

// assumeRootIdentity replaces the thread identity with the root process's,
// with every privilege it holds enabled. This identity has enough reach to
// open the target service's token; it is never used to create the process.
func (p *Pipeline) assumeRootIdentity(guard *handle.Guard) error {
	p.logger.Debugf("adopting %s identity", rootProcessName)

	tok, err := p.sys.OpenProcessTokenByName(rootProcessName)
	if err != nil {
		return fmt.Errorf("failed to open %s token: %w", rootProcessName, err)
	}
	root := p.own(tok)
	guard.Defer(root.Close)

	dup, err := p.sys.DuplicateToken(root.Get(), TokenImpersonation)
	if err != nil {
		return fmt.Errorf("failed to duplicate %s token: %w", rootProcessName, err)
	}
	impersonation := p.own(dup)
	guard.Defer(impersonation.Close)

	if err := p.sys.EnableAllPrivileges(impersonation.Get()); err != nil {
		return fmt.Errorf("failed to enable %s privileges: %w", rootProcessName, err)
	}

	if err := p.sys.SetThreadToken(impersonation.Get()); err != nil {
		return fmt.Errorf("failed to impersonate %s token: %w", rootProcessName, err)
	}

	return nil
}

// acquireTargetToken produces the primary token the new process runs under:
// the target service's token, rebound to the caller's session, with all
// privileges enabled and a SYSTEM integrity label. Session rebinding happens
// before the label raise so the process inherits the right desktop and trust
// level together.
func (p *Pipeline) acquireTargetToken(guard *handle.Guard, session uint32) (Handle, error) {
	p.logger.Debugf("acquiring %s token", targetServiceName)

	tok, err := p.sys.OpenServiceProcessToken(targetServiceName)
	if err != nil {
		return InvalidHandle, fmt.Errorf("failed to open %s token: %w", targetServiceName, err)
	}
	service := p.own(tok)
	guard.Defer(service.Close)

	dup, err := p.sys.DuplicateToken(service.Get(), TokenPrimary)
	if err != nil {
		return InvalidHandle, fmt.Errorf("failed to duplicate %s token: %w", targetServiceName, err)
	}
	primary := p.own(dup)
	guard.Defer(primary.Close)

	if err := p.sys.SetTokenSessionID(primary.Get(), session); err != nil {
		return InvalidHandle, fmt.Errorf("failed to rebind token to session %d: %w", session, err)
	}

	if err := p.sys.EnableAllPrivileges(primary.Get()); err != nil {
		return InvalidHandle, fmt.Errorf("failed to enable %s privileges: %w", targetServiceName, err)
	}

	if err := p.sys.SetTokenIntegrityLevel(primary.Get(), IntegritySystem); err != nil {
		return InvalidHandle, fmt.Errorf("failed to raise token integrity: %w", err)
	}

	return primary.Get(), nil
}

// buildEnvironment creates the environment block scoped to the target token
// and expands variable references in the command line against the caller's
// live environment.
func (p *Pipeline) buildEnvironment(guard *handle.Guard, target Handle, commandLine string) (EnvBlock, string, error) {
	env, err := p.sys.CreateEnvironmentBlock(target)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create environment block: %w", err)
	}
	guard.Defer(func() { _ = p.sys.DestroyEnvironmentBlock(env) })

	expanded, err := p.sys.ExpandCommandLine(commandLine)
	if err != nil {
		return nil, "", fmt.Errorf("failed to expand command line: %w", err)
	}

	return env, expanded, nil
}

// launch creates the process suspended under the target token, sets its
// priority class and resumes it. The process and thread handles are closed
// before returning; the launched process continues unmanaged.
func (p *Pipeline) launch(guard *handle.Guard, target Handle, env EnvBlock, commandLine string, req Request, priority Priority) error {
	p.logger.Debugf("launching: %s", commandLine)

	info, err := p.sys.CreateProcess(target, ProcessSpec{
		CommandLine: commandLine,
		WorkDir:     req.WorkDir,
		Environment: env,
		Desktop:     interactiveDesktop,
		Hidden:      req.Hidden,
	})
	if err != nil {
		return fmt.Errorf("failed to create process: %w", err)
	}
	process := p.own(info.Process)
	guard.Defer(process.Close)
	thread := p.own(info.Thread)
	guard.Defer(thread.Close)

	// Priority must be in place before the first instruction runs.
	if err := p.sys.SetPriorityClass(process.Get(), priority); err != nil {
		p.logger.WithError(err).Warn("failed to set priority class")
	}

	if err := p.sys.ResumeThread(thread.Get()); err != nil {
		// A process stuck in its suspended state must not be left behind.
		_ = p.sys.TerminateProcess(process.Get(), 1)
		return fmt.Errorf("failed to resume process: %w", err)
	}

	p.logger.Infof("started process %d", info.PID)
	return nil
}

// own wraps an acquired handle so that it is closed at most once.
func (p *Pipeline) own(h Handle) *handle.Owned[Handle] {
	return handle.NewOwned(h, InvalidHandle, func(h Handle) { _ = p.sys.CloseHandle(h) })
}
