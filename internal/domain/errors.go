package domain

import (
	"errors"
	"fmt"
)

// ConfigurationError means the session cannot run at all, e.g. no wallet
// provider is available. It is fatal for the session.
type ConfigurationError struct {
	Reason string
}

func (e ConfigurationError) Error() string {
	if e.Reason == "" {
		return "configuration error"
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// Is enables errors.Is matching on ConfigurationError.
func (e ConfigurationError) Is(target error) bool {
	_, ok := target.(ConfigurationError)
	if ok {
		return true
	}
	_, ok = target.(*ConfigurationError)
	return ok
}

// ValidationError is a local precondition failure. It blocks one action
// and never reaches the ledger.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is enables errors.Is matching on ValidationError.
func (e ValidationError) Is(target error) bool {
	_, ok := target.(ValidationError)
	if ok {
		return true
	}
	_, ok = target.(*ValidationError)
	return ok
}

// RemoteReadError is a failed ledger read. Role stays unresolved.
type RemoteReadError struct {
	Op  string
	Err error
}

func (e RemoteReadError) Error() string {
	return fmt.Sprintf("read %s failed: %v", e.Op, e.Err)
}

func (e RemoteReadError) Unwrap() error { return e.Err }

// Is enables errors.Is matching on RemoteReadError.
func (e RemoteReadError) Is(target error) bool {
	_, ok := target.(RemoteReadError)
	if ok {
		return true
	}
	_, ok = target.(*RemoteReadError)
	return ok
}

type WriteStage string

const (
	StageSubmit  WriteStage = "submit"
	StageConfirm WriteStage = "confirm"
)

// RemoteWriteError is a write that was rejected on submission or did not
// reach a successful confirmation.
type RemoteWriteError struct {
	Op    string
	Stage WriteStage
	Err   error
}

func (e RemoteWriteError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Stage, e.Err)
}

func (e RemoteWriteError) Unwrap() error { return e.Err }

// Is enables errors.Is matching on RemoteWriteError.
func (e RemoteWriteError) Is(target error) bool {
	_, ok := target.(RemoteWriteError)
	if ok {
		return true
	}
	_, ok = target.(*RemoteWriteError)
	return ok
}

var (
	ErrConfiguration = ConfigurationError{}
	ErrValidation    = ValidationError{}
	ErrRemoteRead    = RemoteReadError{}
	ErrRemoteWrite   = RemoteWriteError{}

	// ErrBusy rejects an action while another operation is in flight.
	ErrBusy = errors.New("another operation is in progress")

	// ErrReverted is reported when a write was mined but failed on the ledger.
	ErrReverted = errors.New("transaction reverted")
)

// Reason maps err to the short bucket appended to failure notifications.
func Reason(err error) string {
	var rw RemoteWriteError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.As(err, &rw):
		if errors.Is(rw.Err, ErrReverted) {
			return "rejected by ledger"
		}
		if rw.Stage == StageSubmit {
			return "submission rejected"
		}
		return "confirmation failed"
	case errors.Is(err, ErrRemoteRead):
		return "ledger unavailable"
	case errors.Is(err, ErrValidation):
		return "invalid input"
	case errors.Is(err, ErrConfiguration):
		return "not configured"
	default:
		return "unexpected error"
	}
}
