package core

import (
	"context"
	"errors"
	"fmt"
)

// Process exit codes.
const (
	ExitOK    = 0
	ExitFatal = 1
)

var (
	ErrHeartbeatTimeout   = errors.New("heartbeat not acknowledged")
	ErrConnectionLost     = errors.New("connection lost")
	ErrTerminated         = errors.New("session terminated")
	ErrIdentityAlreadySet = errors.New("identity already set")

	// ErrClosedByServer is wrapped by transports when the gateway closes
	// the connection cleanly.
	ErrClosedByServer = errors.New("connection closed by server")
)

// ExitError ends a session with a process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("session ended (exit %d): %v", e.Code, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func fatal(err error) *ExitError {
	return &ExitError{Code: ExitFatal, Err: err}
}

// ExitCode maps the result of Session.Run to a process exit code.
func ExitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFatal
}
