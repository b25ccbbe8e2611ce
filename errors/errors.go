package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"syscall"
)

// define codes for MSWindows errors
const (
	WSAECONNABORTED syscall.Errno = 10053
	WSAECONNRESET   syscall.Errno = 10054
	WSAECONNREFUSED syscall.Errno = 10061
	WSAETIMEDOUT    syscall.Errno = 10060
)

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")

	// configuration errors end the run with CRITICAL
	ErrConfig = fmt.Errorf("%w: %v", ErrPermanent, "configuration error")
	// protocol errors end the run with CRASH
	ErrProtocol     = fmt.Errorf("%w: %v", ErrPermanent, "protocol error")
	ErrUnauthorized = fmt.Errorf("%w: %v", ErrProtocol, "unauthorized")
	ErrInvariant    = fmt.Errorf("%w: %v", ErrPermanent, "invariant violation")

	// transient errors are recovered locally and deferred to the next run
	ErrGateway          = fmt.Errorf("%w: %v", ErrTransient, "gateway error")
	ErrNoMatch          = fmt.Errorf("%w: %v", ErrTransient, "no objects matched")
	ErrLocked           = fmt.Errorf("%w: %v", ErrTransient, "locked by another process")
	ErrCacheUnavailable = fmt.Errorf("%w: %v", ErrTransient, "cache unavailable")
)

// Is wraps the standard errors.Is to keep single import in callers
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps the standard errors.As
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New wraps the standard errors.New
func New(text string) error {
	return errors.New(text)
}

// IsErrorConnection verifies error
func IsErrorConnection(err error) bool {
	return IsErrorConnectionAborted(err) ||
		IsErrorConnectionRefused(err) ||
		IsErrorConnectionReset(err)
}

// IsErrorConnectionAborted verifies error
func IsErrorConnectionAborted(err error) bool {
	if runtime.GOOS == "windows" {
		return errors.Is(err, WSAECONNABORTED)
	}
	return errors.Is(err, syscall.ECONNABORTED)
}

// IsErrorConnectionRefused verifies error
func IsErrorConnectionRefused(err error) bool {
	if runtime.GOOS == "windows" {
		return errors.Is(err, WSAECONNREFUSED)
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

// IsErrorConnectionReset verifies error
func IsErrorConnectionReset(err error) bool {
	if runtime.GOOS == "windows" {
		return errors.Is(err, WSAECONNRESET)
	}
	return errors.Is(err, syscall.ECONNRESET)
}

// IsErrorTimedOut verifies error
func IsErrorTimedOut(err error) bool {
	if runtime.GOOS == "windows" {
		if errors.Is(err, WSAETIMEDOUT) {
			return true
		}
	} else {
		if errors.Is(err, syscall.ETIMEDOUT) {
			return true
		}
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "deadline") ||
		strings.Contains(s, "timeout")
}

// Protocol builds a protocol error naming the failed call and its status
func Protocol(call string, status int, body []byte) error {
	return fmt.Errorf("%w: %s: %d (%s)", ErrProtocol, call, status, strings.TrimSpace(string(body)))
}

// ConfigError carries operator facing message of configuration error
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return ErrConfig.Error() + ": " + e.Msg
}

// Unwrap returns ErrConfig
func (e *ConfigError) Unwrap() error {
	return ErrConfig
}

// Config builds configuration error with operator facing message
func Config(format string, a ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, a...)}
}
