package dafny

// errors.go defines sentinel errors, configuration error codes, and the typed
// stdin write failure.

import (
	"errors"
	"fmt"
)

// Sentinel errors for verifier operations.
var (
	// ErrPathNotConfigured indicates no verifier binary path is set.
	ErrPathNotConfigured = errors.New("dafny server path not configured")

	// ErrServerNotFound indicates the configured verifier binary does not exist.
	ErrServerNotFound = errors.New("dafny server not found")

	// ErrRuntimeMissing indicates the managed runtime needed to host the
	// verifier was found neither on PATH nor at the configured location.
	ErrRuntimeMissing = errors.New("managed runtime not found")

	// ErrSpawnFailed indicates the process could not be started.
	ErrSpawnFailed = errors.New("dafny server spawn failed")

	// ErrServerCrashed indicates the verifier exited while a request was active.
	ErrServerCrashed = errors.New("dafny server crashed")

	// ErrServerStopped indicates the supervisor is stopped and accepts no work.
	ErrServerStopped = errors.New("dafny server stopped")

	// ErrRequestDiscarded indicates a queued request was dropped by a reset.
	ErrRequestDiscarded = errors.New("request discarded by reset")

	// ErrServerClosed indicates the session has been torn down.
	ErrServerClosed = errors.New("dafny server closed")

	ErrCommandFailed    = errors.New("failed to write command")
	ErrRequestFailed    = errors.New("failed to write request")
	ErrCommandEndFailed = errors.New("failed to write end of command")
)

// Code is a stable configuration error code.
type Code string

const (
	EPathNotConfigured Code = "E_PATH_NOT_CONFIGURED"
	EIncorrectPath     Code = "E_INCORRECT_PATH"
	ERuntimeMissing    Code = "E_RUNTIME_MISSING"
)

// ConfigError is a configuration problem that prevents starting a session.
// It is reported once and never retried.
type ConfigError struct {
	Code  Code
	Msg   string
	Cause error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorCode extracts the configuration error code from err, or "".
func ErrorCode(err error) Code {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// WritePhase identifies which of the three request lines failed to write.
type WritePhase int

const (
	PhaseCommand WritePhase = iota
	PhaseRequest
	PhaseCommandEnd
)

func (p WritePhase) String() string {
	switch p {
	case PhaseCommand:
		return "command"
	case PhaseRequest:
		return "request"
	case PhaseCommandEnd:
		return "command end"
	}
	return "unknown"
}

// WriteError is a failed write to the verifier's stdin.
type WriteError struct {
	Phase WritePhase
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Phase, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Is maps the phase onto ErrCommandFailed, ErrRequestFailed, or ErrCommandEndFailed.
func (e *WriteError) Is(target error) bool {
	switch e.Phase {
	case PhaseCommand:
		return target == ErrCommandFailed
	case PhaseRequest:
		return target == ErrRequestFailed
	case PhaseCommandEnd:
		return target == ErrCommandEndFailed
	}
	return false
}
