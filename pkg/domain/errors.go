package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBatchRejected is delivered to waiters of a rejected change batch.
	ErrBatchRejected = errors.New("change batch rejected")
	// ErrNamespaceNotFound reports an operation on an unknown namespace.
	ErrNamespaceNotFound = errors.New("namespace not found")
	// ErrNamespaceDetached is delivered to waiters of an open batch whose
	// namespace was detached before it was accepted.
	ErrNamespaceDetached = errors.New("namespace detached")
	// ErrHistoryEntryNotFound reports a restore target missing from the journal.
	ErrHistoryEntryNotFound = errors.New("history entry not found")
	// ErrHistoryIndexOutOfRange reports a restore index outside the journal.
	ErrHistoryIndexOutOfRange = errors.New("history index out of range")
	// ErrUnauthorized reports a missing or mismatching session token.
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError reports a value rejected by a parameter's validator.
type ValidationError struct {
	ParameterID string
	Value       any
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid value %v for parameter %s", e.Value, e.ParameterID)
}

// CommitError wraps an executor or hook failure for a namespace commit.
type CommitError struct {
	Namespace string
	Err       error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s: %v", e.Namespace, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// ParameterNotFoundError reports a failed lookup, with close matches when
// any exist.
type ParameterNotFoundError struct {
	Namespace   string
	Query       string
	Suggestions []string
}

func (e ParameterNotFoundError) Error() string {
	msg := fmt.Sprintf("parameter %q not found in namespace %s", e.Query, e.Namespace)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(e.Suggestions, ", "))
	}
	return msg
}
