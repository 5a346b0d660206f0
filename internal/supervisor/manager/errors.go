package manager

import "fmt"

// ErrorKind is the closed set of error categories a Session Manager
// operation can return, per spec.md §7.
type ErrorKind string

const (
	ErrUnknownSession    ErrorKind = "unknown-session"
	ErrNoPendingQuestion ErrorKind = "no-pending-question"
	ErrIDMismatch        ErrorKind = "id-mismatch"
	ErrNoActiveProcess   ErrorKind = "no-active-process"
	ErrCapacityExceeded  ErrorKind = "capacity-exceeded"
	ErrBusy              ErrorKind = "busy"
	ErrSpawnFailed       ErrorKind = "spawn-failed"
)

// Error is the typed error every operation returns on failure, carrying
// both a machine-checkable Kind and a human-readable Message.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
