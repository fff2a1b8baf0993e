package errors

import (
	"errors"
	"fmt"
	"syscall"
)

// Common error types
var (
	// Socket misuse errors
	ErrAlreadyBound   = fmt.Errorf("socket already bound: %w", syscall.EADDRINUSE)
	ErrNotBound       = fmt.Errorf("socket not bound: %w", syscall.EBADF)
	ErrInvalidAddress = fmt.Errorf("invalid address: %w", syscall.EINVAL)
	ErrNoCandidates   = fmt.Errorf("no candidate addresses: %w", syscall.EINVAL)

	// Lifecycle errors
	ErrClosed      = errors.New("resource already closed")
	ErrLoopStopped = errors.New("event loop stopped")
	ErrNotRoot     = errors.New("tunnel mode requires root privileges (try: sudo mouse connect)")

	// Config errors
	ErrConfigInvalid = errors.New("invalid config")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrNoActiveSession = errors.New("no active session")
)

// Resolution error codes. Values follow the getaddrinfo EAI_* codes from glibc
// so they can be compared against what the C resolver would report.
const (
	EAINoName  = -2
	EAIAgain   = -3
	EAIFail    = -4
	EAIFamily  = -6
	EAISocket  = -7
	EAIService = -8
)

// OsError represents a failing OS call
type OsError struct {
	Op  string
	Err error
}

func (e *OsError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OsError) Unwrap() error {
	return e.Err
}

// NewOsError wraps err as an OsError for op. It returns nil if err is nil.
func NewOsError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OsError{Op: op, Err: err}
}

// ResolutionError represents a name or service lookup failure
type ResolutionError struct {
	Host    string
	Service string
	Code    int
	Err     error
}

func (e *ResolutionError) Error() string {
	msg := codeText(e.Code)
	if e.Err != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Err)
	}
	return fmt.Sprintf("resolve %q/%q: %s", e.Host, e.Service, msg)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

func codeText(code int) string {
	switch code {
	case EAINoName:
		return "name or service not known"
	case EAIAgain:
		return "temporary failure in name resolution"
	case EAIFail:
		return "non-recoverable failure in name resolution"
	case EAIFamily:
		return "address family not supported"
	case EAISocket:
		return "socket type not supported"
	case EAIService:
		return "service not supported for socket type"
	default:
		return fmt.Sprintf("resolver error %d", code)
	}
}

// ConfigError represents a config validation error
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config field '%s': %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
