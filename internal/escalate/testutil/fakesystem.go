// Package testutil provides a recording, failure-injecting fake of the
// escalate token and process primitive layer for tests.
package testutil

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/winpriv/tisudo/internal/escalate"
)

// FakeErrno is the platform status code FakeSystem returns from injected
// failures, so tests can assert code pass-through.
const FakeErrno = syscall.Errno(5)

// FakeSystem implements the escalate System interface in memory. It hands
// out unique handles, records every call in order, and can be told to fail
// a single named operation. The zero value is not usable; use NewFakeSystem.
type FakeSystem struct {
	// FailOn names the operation that fails (e.g. "DuplicateToken"); FailAt
	// selects which occurrence of it fails (1-based, default first).
	FailOn string
	FailAt int

	// CallerSession is the session id reported for the caller token.
	CallerSession uint32

	// Env maps variable names to values for ExpandCommandLine.
	Env map[string]string

	// Calls records operation names in invocation order.
	Calls []string

	// Opened counts handles handed out, Closed counts closes per handle.
	Opened map[escalate.Handle]string
	Closed map[escalate.Handle]int

	// ThreadToken is the currently installed impersonation token, or
	// escalate.InvalidHandle when cleared. ThreadTokenHistory records every
	// installed value.
	ThreadToken        escalate.Handle
	ThreadTokenHistory []escalate.Handle

	// SessionsSet records SetTokenSessionID values per token.
	SessionsSet map[escalate.Handle]uint32

	// IntegritySet records SetTokenIntegrityLevel RIDs per token.
	IntegritySet map[escalate.Handle]uint32

	// PrivilegesEnabled records EnablePrivilege names per token; tokens on
	// which EnableAllPrivileges ran are recorded with the name "*".
	PrivilegesEnabled map[escalate.Handle][]string

	// EnvBlocks tracks created environment blocks and whether each was
	// destroyed.
	EnvBlocks map[escalate.EnvBlock]bool

	// CreatedProcesses records every CreateProcess invocation.
	CreatedProcesses []escalate.ProcessSpec

	// EnvBlockToken is the token the environment block was scoped to.
	EnvBlockToken escalate.Handle

	// ProcessToken is the token the process was created under.
	ProcessToken escalate.Handle

	// ProcessHandle is the process handle CreateProcess handed out.
	ProcessHandle escalate.Handle

	// PrioritySet is the last priority class applied to the new process.
	PrioritySet escalate.Priority

	// Terminated records TerminateProcess exit codes per process handle.
	Terminated map[escalate.Handle]uint32

	next  escalate.Handle
	calls map[string]int
}

// NewFakeSystem returns a ready-to-use fake with a caller session of 1.
func NewFakeSystem() *FakeSystem {
	return &FakeSystem{
		CallerSession:     1,
		Env:               map[string]string{},
		Opened:            map[escalate.Handle]string{},
		Closed:            map[escalate.Handle]int{},
		SessionsSet:       map[escalate.Handle]uint32{},
		IntegritySet:      map[escalate.Handle]uint32{},
		PrivilegesEnabled: map[escalate.Handle][]string{},
		EnvBlocks:         map[escalate.EnvBlock]bool{},
		Terminated:        map[escalate.Handle]uint32{},
		ThreadToken:       escalate.InvalidHandle,
		next:              100,
		calls:             map[string]int{},
	}
}

// record notes the call and reports the injected failure when it matches.
func (f *FakeSystem) record(op string) error {
	f.Calls = append(f.Calls, op)
	f.calls[op]++
	if op == f.FailOn {
		at := f.FailAt
		if at == 0 {
			at = 1
		}
		if f.calls[op] == at {
			return fmt.Errorf("%s: %w", op, FakeErrno)
		}
	}
	return nil
}

func (f *FakeSystem) open(kind string) escalate.Handle {
	f.next++
	f.Opened[f.next] = kind
	return f.next
}

// LeakedHandles returns handles opened but not closed exactly once.
func (f *FakeSystem) LeakedHandles() []escalate.Handle {
	var leaked []escalate.Handle
	for h := range f.Opened {
		if f.Closed[h] != 1 {
			leaked = append(leaked, h)
		}
	}
	return leaked
}

// CallCount returns how many times op ran.
func (f *FakeSystem) CallCount(op string) int {
	return f.calls[op]
}

func (f *FakeSystem) OpenCurrentProcessToken() (escalate.Handle, error) {
	if err := f.record("OpenCurrentProcessToken"); err != nil {
		return escalate.InvalidHandle, err
	}
	return f.open("caller token"), nil
}

func (f *FakeSystem) OpenProcessTokenByName(executable string) (escalate.Handle, error) {
	if err := f.record("OpenProcessTokenByName"); err != nil {
		return escalate.InvalidHandle, err
	}
	return f.open(executable + " token"), nil
}

func (f *FakeSystem) OpenServiceProcessToken(service string) (escalate.Handle, error) {
	if err := f.record("OpenServiceProcessToken"); err != nil {
		return escalate.InvalidHandle, err
	}
	return f.open(service + " token"), nil
}

func (f *FakeSystem) DuplicateToken(tok escalate.Handle, typ escalate.TokenType) (escalate.Handle, error) {
	if err := f.record("DuplicateToken"); err != nil {
		return escalate.InvalidHandle, err
	}
	if f.Closed[tok] > 0 {
		return escalate.InvalidHandle, errors.New("duplicate of closed token")
	}
	kind := "impersonation copy of " + f.Opened[tok]
	if typ == escalate.TokenPrimary {
		kind = "primary copy of " + f.Opened[tok]
	}
	return f.open(kind), nil
}

func (f *FakeSystem) TokenSessionID(tok escalate.Handle) (uint32, error) {
	if err := f.record("TokenSessionID"); err != nil {
		return 0, err
	}
	return f.CallerSession, nil
}

func (f *FakeSystem) SetTokenSessionID(tok escalate.Handle, session uint32) error {
	if err := f.record("SetTokenSessionID"); err != nil {
		return err
	}
	f.SessionsSet[tok] = session
	return nil
}

func (f *FakeSystem) EnablePrivilege(tok escalate.Handle, name string) error {
	if err := f.record("EnablePrivilege"); err != nil {
		return err
	}
	f.PrivilegesEnabled[tok] = append(f.PrivilegesEnabled[tok], name)
	return nil
}

func (f *FakeSystem) EnableAllPrivileges(tok escalate.Handle) error {
	if err := f.record("EnableAllPrivileges"); err != nil {
		return err
	}
	f.PrivilegesEnabled[tok] = append(f.PrivilegesEnabled[tok], "*")
	return nil
}

func (f *FakeSystem) SetTokenIntegrityLevel(tok escalate.Handle, rid uint32) error {
	if err := f.record("SetTokenIntegrityLevel"); err != nil {
		return err
	}
	f.IntegritySet[tok] = rid
	return nil
}

func (f *FakeSystem) SetThreadToken(tok escalate.Handle) error {
	if err := f.record("SetThreadToken"); err != nil {
		return err
	}
	f.ThreadToken = tok
	f.ThreadTokenHistory = append(f.ThreadTokenHistory, tok)
	return nil
}

func (f *FakeSystem) ClearThreadToken() error {
	if err := f.record("ClearThreadToken"); err != nil {
		return err
	}
	f.ThreadToken = escalate.InvalidHandle
	return nil
}

func (f *FakeSystem) CreateEnvironmentBlock(tok escalate.Handle) (escalate.EnvBlock, error) {
	if err := f.record("CreateEnvironmentBlock"); err != nil {
		return nil, err
	}
	env := escalate.EnvBlock(new(uint16))
	f.EnvBlocks[env] = false
	f.EnvBlockToken = tok
	return env, nil
}

func (f *FakeSystem) DestroyEnvironmentBlock(env escalate.EnvBlock) error {
	if err := f.record("DestroyEnvironmentBlock"); err != nil {
		return err
	}
	f.EnvBlocks[env] = true
	return nil
}

func (f *FakeSystem) ExpandCommandLine(commandLine string) (string, error) {
	if err := f.record("ExpandCommandLine"); err != nil {
		return "", err
	}
	expanded := commandLine
	for name, value := range f.Env {
		expanded = strings.ReplaceAll(expanded, "%"+name+"%", value)
	}
	return expanded, nil
}

func (f *FakeSystem) CreateProcess(tok escalate.Handle, spec escalate.ProcessSpec) (escalate.ProcessInfo, error) {
	if err := f.record("CreateProcess"); err != nil {
		return escalate.ProcessInfo{}, err
	}
	f.CreatedProcesses = append(f.CreatedProcesses, spec)
	f.ProcessToken = tok
	f.ProcessHandle = f.open("process handle")
	return escalate.ProcessInfo{
		PID:     4242,
		Process: f.ProcessHandle,
		Thread:  f.open("thread handle"),
	}, nil
}

func (f *FakeSystem) SetPriorityClass(process escalate.Handle, priority escalate.Priority) error {
	if err := f.record("SetPriorityClass"); err != nil {
		return err
	}
	f.PrioritySet = priority
	return nil
}

func (f *FakeSystem) ResumeThread(thread escalate.Handle) error {
	return f.record("ResumeThread")
}

func (f *FakeSystem) TerminateProcess(process escalate.Handle, exitCode uint32) error {
	if err := f.record("TerminateProcess"); err != nil {
		return err
	}
	f.Terminated[process] = exitCode
	return nil
}

func (f *FakeSystem) CloseHandle(h escalate.Handle) error {
	if err := f.record("CloseHandle"); err != nil {
		return err
	}
	f.Closed[h]++
	return nil
}
