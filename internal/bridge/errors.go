package bridge

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
)

// ErrorType categorizes a connection failure for retry decisions.
type ErrorType string

const (
	ErrorRefused ErrorType = "refused" // peer not listening (editor not running)
	ErrorTimeout ErrorType = "timeout" // peer unresponsive
	ErrorNetwork ErrorType = "network" // socket or DNS failure
	ErrorUnknown ErrorType = "unknown" // uncategorized
)

// Recoverable reports whether retrying can plausibly succeed.
func (t ErrorType) Recoverable() bool {
	return t != ErrorUnknown
}

// ConnError is a classified connection failure.
type ConnError struct {
	Type ErrorType
	Err  error
}

func (e *ConnError) Error() string {
	return string(e.Type) + ": " + e.Err.Error()
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

// Recoverable reports whether the failure is worth retrying.
func (e *ConnError) Recoverable() bool {
	return e.Type.Recoverable()
}

// classify wraps a dial or handshake error with its error type.
func classify(err error) *ConnError {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return &ConnError{Type: ErrorRefused, Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded), isTimeout(err):
		return &ConnError{Type: ErrorTimeout, Err: err}
	case isNetwork(err):
		return &ConnError{Type: ErrorNetwork, Err: err}
	default:
		return &ConnError{Type: ErrorUnknown, Err: err}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isNetwork(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
