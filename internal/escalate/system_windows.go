//go:build windows

package escalate

import (
	"fmt"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

// serviceStartTimeout bounds how long OpenServiceProcessToken waits for a
// stopped service to reach the running state.
const serviceStartTimeout = 30 * time.Second

func platformSystem() System {
	return winSystem{}
}

// winSystem implements System on top of the Win32 security APIs.
type winSystem struct{}

func (winSystem) OpenCurrentProcessToken() (Handle, error) {
	var tok windows.Token
	if err := windows.OpenProcessToken(windows.CurrentProcess(), windows.MAXIMUM_ALLOWED, &tok); err != nil {
		return InvalidHandle, err
	}
	return Handle(tok), nil
}

func (s winSystem) OpenProcessTokenByName(executable string) (Handle, error) {
	pid, err := findProcessID(executable)
	if err != nil {
		return InvalidHandle, err
	}
	return s.openProcessToken(pid)
}

func (s winSystem) OpenServiceProcessToken(service string) (Handle, error) {
	pid, err := serviceProcessID(service)
	if err != nil {
		return InvalidHandle, err
	}
	return s.openProcessToken(pid)
}

func (winSystem) openProcessToken(pid uint32) (Handle, error) {
	proc, err := windows.OpenProcess(windows.PROCESS_QUERY_INFORMATION, false, pid)
	if err != nil {
		return InvalidHandle, fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	defer windows.CloseHandle(proc)

	var tok windows.Token
	if err := windows.OpenProcessToken(proc, windows.MAXIMUM_ALLOWED, &tok); err != nil {
		return InvalidHandle, err
	}
	return Handle(tok), nil
}

func (winSystem) DuplicateToken(tok Handle, typ TokenType) (Handle, error) {
	var dup windows.Token
	var err error
	switch typ {
	case TokenPrimary:
		err = windows.DuplicateTokenEx(windows.Token(tok), windows.MAXIMUM_ALLOWED, nil,
			windows.SecurityIdentification, windows.TokenPrimary, &dup)
	default:
		err = windows.DuplicateTokenEx(windows.Token(tok), windows.MAXIMUM_ALLOWED, nil,
			windows.SecurityImpersonation, windows.TokenImpersonation, &dup)
	}
	if err != nil {
		return InvalidHandle, err
	}
	return Handle(dup), nil
}

func (winSystem) TokenSessionID(tok Handle) (uint32, error) {
	var session, outLen uint32
	err := windows.GetTokenInformation(windows.Token(tok), windows.TokenSessionId,
		(*byte)(unsafe.Pointer(&session)), uint32(unsafe.Sizeof(session)), &outLen)
	if err != nil {
		return 0, err
	}
	return session, nil
}

func (winSystem) SetTokenSessionID(tok Handle, session uint32) error {
	return windows.SetTokenInformation(windows.Token(tok), windows.TokenSessionId,
		(*byte)(unsafe.Pointer(&session)), uint32(unsafe.Sizeof(session)))
}

func (winSystem) EnablePrivilege(tok Handle, name string) error {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return err
	}
	var luid windows.LUID
	if err := windows.LookupPrivilegeValue(nil, namePtr, &luid); err != nil {
		return err
	}

	privs := windows.Tokenprivileges{PrivilegeCount: 1}
	privs.Privileges[0] = windows.LUIDAndAttributes{Luid: luid, Attributes: windows.SE_PRIVILEGE_ENABLED}

	return windows.AdjustTokenPrivileges(windows.Token(tok), false, &privs, 0, nil, nil)
}

func (winSystem) EnableAllPrivileges(tok Handle) error {
	t := windows.Token(tok)

	n := uint32(256)
	var buf []byte
	for {
		buf = make([]byte, n)
		err := windows.GetTokenInformation(t, windows.TokenPrivileges, &buf[0], uint32(len(buf)), &n)
		if err == nil {
			break
		}
		if err != windows.ERROR_INSUFFICIENT_BUFFER {
			return err
		}
	}

	privs := (*windows.Tokenprivileges)(unsafe.Pointer(&buf[0]))
	all := privs.AllPrivileges()
	for i := range all {
		all[i].Attributes = windows.SE_PRIVILEGE_ENABLED
	}

	return windows.AdjustTokenPrivileges(t, false, privs, 0, nil, nil)
}

func (winSystem) SetTokenIntegrityLevel(tok Handle, rid uint32) error {
	sid, err := windows.StringToSid(fmt.Sprintf("S-1-16-%d", rid))
	if err != nil {
		return err
	}
	tml := windows.Tokenmandatorylabel{
		Label: windows.SIDAndAttributes{
			Sid:        sid,
			Attributes: windows.SE_GROUP_INTEGRITY,
		},
	}
	size := uint32(unsafe.Sizeof(tml)) + windows.GetLengthSid(sid)
	return windows.SetTokenInformation(windows.Token(tok), windows.TokenIntegrityLevel,
		(*byte)(unsafe.Pointer(&tml)), size)
}

func (winSystem) SetThreadToken(tok Handle) error {
	return windows.SetThreadToken(nil, windows.Token(tok))
}

func (winSystem) ClearThreadToken() error {
	return windows.SetThreadToken(nil, 0)
}

func (winSystem) CreateEnvironmentBlock(tok Handle) (EnvBlock, error) {
	var env *uint16
	if err := windows.CreateEnvironmentBlock(&env, windows.Token(tok), true); err != nil {
		return nil, err
	}
	return EnvBlock(env), nil
}

func (winSystem) DestroyEnvironmentBlock(env EnvBlock) error {
	return windows.DestroyEnvironmentBlock((*uint16)(env))
}

func (winSystem) ExpandCommandLine(commandLine string) (string, error) {
	src, err := windows.UTF16PtrFromString(commandLine)
	if err != nil {
		return "", err
	}
	n, err := windows.ExpandEnvironmentStrings(src, nil, 0)
	if err != nil {
		return "", err
	}
	buf := make([]uint16, n)
	if _, err := windows.ExpandEnvironmentStrings(src, &buf[0], n); err != nil {
		return "", err
	}
	return windows.UTF16ToString(buf), nil
}

func (winSystem) CreateProcess(tok Handle, spec ProcessSpec) (ProcessInfo, error) {
	commandLine, err := windows.UTF16PtrFromString(spec.CommandLine)
	if err != nil {
		return ProcessInfo{}, err
	}
	var workDir *uint16
	if spec.WorkDir != "" {
		if workDir, err = windows.UTF16PtrFromString(spec.WorkDir); err != nil {
			return ProcessInfo{}, err
		}
	}
	desktop, err := windows.UTF16PtrFromString(spec.Desktop)
	if err != nil {
		return ProcessInfo{}, err
	}

	si := windows.StartupInfo{
		Desktop:    desktop,
		Flags:      windows.STARTF_USESHOWWINDOW,
		ShowWindow: windows.SW_SHOWDEFAULT,
	}
	si.Cb = uint32(unsafe.Sizeof(si))
	if spec.Hidden {
		si.ShowWindow = windows.SW_HIDE
	}

	flags := uint32(windows.CREATE_SUSPENDED | windows.CREATE_UNICODE_ENVIRONMENT | windows.CREATE_NEW_CONSOLE)

	var pi windows.ProcessInformation
	err = windows.CreateProcessAsUser(windows.Token(tok), nil, commandLine, nil, nil, false,
		flags, (*uint16)(spec.Environment), workDir, &si, &pi)
	if err != nil {
		return ProcessInfo{}, err
	}
	return ProcessInfo{PID: pi.ProcessId, Process: Handle(pi.Process), Thread: Handle(pi.Thread)}, nil
}

func (winSystem) SetPriorityClass(process Handle, priority Priority) error {
	return windows.SetPriorityClass(windows.Handle(process), uint32(priority))
}

func (winSystem) ResumeThread(thread Handle) error {
	_, err := windows.ResumeThread(windows.Handle(thread))
	return err
}

func (winSystem) TerminateProcess(process Handle, exitCode uint32) error {
	return windows.TerminateProcess(windows.Handle(process), exitCode)
}

func (winSystem) CloseHandle(h Handle) error {
	return windows.CloseHandle(windows.Handle(h))
}

// findProcessID locates the first running process whose executable name
// matches, case-insensitively.
func findProcessID(executable string) (uint32, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return 0, err
	}
	defer windows.CloseHandle(snapshot)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))

	for err = windows.Process32First(snapshot, &entry); err == nil; err = windows.Process32Next(snapshot, &entry) {
		if strings.EqualFold(windows.UTF16ToString(entry.ExeFile[:]), executable) {
			return entry.ProcessID, nil
		}
	}
	if err == windows.ERROR_NO_MORE_FILES {
		return 0, fmt.Errorf("process %s is not running", executable)
	}
	return 0, err
}

// serviceProcessID resolves the PID of a service's hosting process,
// starting the service if it is stopped.
func serviceProcessID(name string) (uint32, error) {
	m, err := mgr.Connect()
	if err != nil {
		return 0, fmt.Errorf("failed to connect to service manager: %w", err)
	}
	defer m.Disconnect()

	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, err
	}
	h, err := windows.OpenService(m.Handle, namePtr, windows.SERVICE_QUERY_STATUS|windows.SERVICE_START)
	if err != nil {
		return 0, fmt.Errorf("failed to open service %s: %w", name, err)
	}
	s := &mgr.Service{Name: name, Handle: h}
	defer s.Close()

	status, err := s.Query()
	if err != nil {
		return 0, fmt.Errorf("failed to query service %s: %w", name, err)
	}
	if status.State != svc.Running {
		if err := s.Start(); err != nil {
			return 0, fmt.Errorf("failed to start service %s: %w", name, err)
		}
	}

	deadline := time.Now().Add(serviceStartTimeout)
	for status.State != svc.Running {
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("service %s did not reach running state", name)
		}
		time.Sleep(100 * time.Millisecond)
		if status, err = s.Query(); err != nil {
			return 0, fmt.Errorf("failed to query service %s: %w", name, err)
		}
	}
	if status.ProcessId == 0 {
		return 0, fmt.Errorf("service %s has no hosting process", name)
	}
	return status.ProcessId, nil
}
