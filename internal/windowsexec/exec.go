//go:build windows

// Package windowsexec relaunches the current executable through the UAC
// consent prompt with the "runas" verb.
package windowsexec

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

//go:generate go run golang.org/x/sys/windows/mkwinsyscall -output zsyscall_windows.go exec.go
//sys shellExecuteExW(info *shellExecuteInfoW) (err error) [failretval==0] = shell32.ShellExecuteExW

// shellExecuteInfoW is the input/output struct for ShellExecuteExW.
// See: https://learn.microsoft.com/en-us/windows/win32/api/shellapi/ns-shellapi-shellexecuteinfow
type shellExecuteInfoW struct {
	cbSize         uint32
	fMask          uint32
	hwnd           windows.Handle
	lpVerb         uintptr
	lpFile         uintptr
	lpParameters   uintptr
	lpDirectory    uintptr
	nShow          int
	hInstApp       windows.Handle
	lpIDList       uintptr
	lpClass        uintptr
	hkeyClass      windows.Handle
	dwHotKey       uint32
	hIconOrMonitor windows.Handle
	hProcess       windows.Handle
}

// SEE_MASK_NOCLOSEPROCESS makes hProcess receive a handle to the created
// process, which the caller must close.
const seeMaskNoCloseProcess = 0x40

// RunAs launches file with the "runas" verb, prompting for UAC consent,
// waits for the elevated process to exit and returns its exit code. There
// is no timeout: the launched instance is this same program and the caller
// exits as soon as it finishes.
func RunAs(file, directory string, parameters []string) (int, error) {
	verbPtr, err := windows.UTF16PtrFromString("runas")
	if err != nil {
		return 0, fmt.Errorf("converting verb to ptr: %w", err)
	}
	filePtr, err := windows.UTF16PtrFromString(file)
	if err != nil {
		return 0, fmt.Errorf("converting file to ptr: %w", err)
	}
	dirPtr, err := windows.UTF16PtrFromString(directory)
	if err != nil {
		return 0, fmt.Errorf("converting directory to ptr: %w", err)
	}
	paramsPtr, err := windows.UTF16PtrFromString(strings.Join(parameters, " "))
	if err != nil {
		return 0, fmt.Errorf("converting parameters to ptr: %w", err)
	}

	info := &shellExecuteInfoW{
		fMask:        seeMaskNoCloseProcess,
		lpVerb:       uintptr(unsafe.Pointer(verbPtr)),
		lpFile:       uintptr(unsafe.Pointer(filePtr)),
		lpParameters: uintptr(unsafe.Pointer(paramsPtr)),
		lpDirectory:  uintptr(unsafe.Pointer(dirPtr)),
		nShow:        windows.SW_NORMAL,
	}
	info.cbSize = uint32(unsafe.Sizeof(*info))

	if err := shellExecuteExW(info); err != nil {
		return 0, fmt.Errorf("calling shellExecuteExW: %w", err)
	}
	if info.hProcess == 0 {
		return 0, fmt.Errorf("unexpected null hProcess handle from shellExecuteExW")
	}
	defer windows.CloseHandle(info.hProcess)

	w, err := windows.WaitForSingleObject(info.hProcess, windows.INFINITE)
	if err != nil {
		return 0, fmt.Errorf("waiting for elevated process: %w", err)
	}
	if w != windows.WAIT_OBJECT_0 {
		return 0, fmt.Errorf("unexpected wait result: %d", w)
	}

	var code uint32
	if err := windows.GetExitCodeProcess(info.hProcess, &code); err != nil {
		return 0, fmt.Errorf("getting exit code: %w", err)
	}
	return int(code), nil
}
