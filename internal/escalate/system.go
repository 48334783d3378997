package escalate

// Handle is an opaque reference to an operating-system security object
// (token, process or thread handle). The zero value is never a valid handle.
type Handle uintptr

// InvalidHandle marks a Handle that does not reference an open object.
const InvalidHandle Handle = 0

// EnvBlock is an opaque process environment block allocated for a token.
type EnvBlock *uint16

// TokenType selects the kind of token a duplication produces.
type TokenType int

const (
	// TokenImpersonation produces a token usable to assume an identity on
	// the current thread. Duplication uses an impersonation-level security
	// context.
	TokenImpersonation TokenType = iota
	// TokenPrimary produces a token usable to create a new process.
	// Duplication uses an identification-level security context.
	TokenPrimary
)

// Integrity mandatory label RIDs.
const (
	IntegrityMedium uint32 = 0x00002000
	IntegrityHigh   uint32 = 0x00003000
	IntegritySystem uint32 = 0x00004000
)

// Priority is a process scheduling priority class. The values are the Win32
// priority class constants.
type Priority uint32

const (
	PriorityIdle        Priority = 0x00000040
	PriorityBelowNormal Priority = 0x00004000
	PriorityNormal      Priority = 0x00000020
	PriorityAboveNormal Priority = 0x00008000
	PriorityHigh        Priority = 0x00000080
	PriorityRealtime    Priority = 0x00000100
)

// ProcessSpec describes the process to create. The process is always created
// suspended, with a new console and a unicode environment.
type ProcessSpec struct {
	CommandLine string
	WorkDir     string
	Environment EnvBlock
	Desktop     string
	Hidden      bool
}

// ProcessInfo is the result of a successful process creation. Process and
// Thread are open handles owned by the caller.
type ProcessInfo struct {
	PID     uint32
	Process Handle
	Thread  Handle
}

// System is the token and process primitive layer the pipeline runs against.
// The production implementation wraps the Win32 security APIs; tests provide
// a recording fake. Every returned Handle is owned by the caller and must be
// closed exactly once with CloseHandle.
type System interface {
	// OpenCurrentProcessToken opens the calling process's own token with
	// maximum allowed access.
	OpenCurrentProcessToken() (Handle, error)

	// OpenProcessTokenByName opens the token of the first running process
	// whose executable name matches (case-insensitive).
	OpenProcessTokenByName(executable string) (Handle, error)

	// OpenServiceProcessToken opens the token of the named service's
	// process, starting the service first if it is not running.
	OpenServiceProcessToken(service string) (Handle, error)

	// DuplicateToken creates an independent copy of tok with the given type.
	DuplicateToken(tok Handle, typ TokenType) (Handle, error)

	// TokenSessionID reads the interactive session identifier bound to tok.
	TokenSessionID(tok Handle) (uint32, error)

	// SetTokenSessionID rebinds tok to the given session.
	SetTokenSessionID(tok Handle, session uint32) error

	// EnablePrivilege enables a single named privilege on tok.
	EnablePrivilege(tok Handle, name string) error

	// EnableAllPrivileges enables every privilege present on tok.
	EnableAllPrivileges(tok Handle) error

	// SetTokenIntegrityLevel replaces tok's mandatory integrity label.
	SetTokenIntegrityLevel(tok Handle, rid uint32) error

	// SetThreadToken installs tok as the calling thread's impersonation
	// identity.
	SetThreadToken(tok Handle) error

	// ClearThreadToken removes the calling thread's impersonation identity.
	// Clearing an unset identity is a no-op.
	ClearThreadToken() error

	// CreateEnvironmentBlock builds an environment block for the identity
	// referenced by tok, inheriting the current process environment.
	CreateEnvironmentBlock(tok Handle) (EnvBlock, error)

	// DestroyEnvironmentBlock frees a block returned by
	// CreateEnvironmentBlock.
	DestroyEnvironmentBlock(env EnvBlock) error

	// ExpandCommandLine expands environment variable references against the
	// current process environment.
	ExpandCommandLine(commandLine string) (string, error)

	// CreateProcess creates a suspended process running under tok.
	CreateProcess(tok Handle, spec ProcessSpec) (ProcessInfo, error)

	// SetPriorityClass sets the scheduling priority of an open process.
	SetPriorityClass(process Handle, priority Priority) error

	// ResumeThread resumes a suspended thread.
	ResumeThread(thread Handle) error

	// TerminateProcess forcibly ends an open process with the given exit
	// code.
	TerminateProcess(process Handle, exitCode uint32) error

	// CloseHandle releases an open handle.
	CloseHandle(h Handle) error
}
