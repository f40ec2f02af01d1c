package engine

import (
	"errors"
	"fmt"
)

// ErrNoActiveEvent is returned by a reconciliation pass when the registry
// has no event with ended_at unset.
var ErrNoActiveEvent = errors.New("no active event")

// Stage names the session step that failed.
type Stage string

const (
	StageInitialize  Stage = "initialize"
	StageCreateGroup Stage = "create_group"
	StageRegister    Stage = "register"
	StageSubscribe   Stage = "subscribe"
	StageScan        Stage = "scan"
	StageConnect     Stage = "connect"
)

// SessionError is fatal to a session: the transport or registry could not
// be brought up, so no engine is running.
type SessionError struct {
	Stage Stage
	Err   error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Stage, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// IsSessionError reports whether err wraps a *SessionError.
func IsSessionError(err error) bool {
	var se *SessionError
	return errors.As(err, &se)
}
