// Package collab is the client-side synchronization engine for one
// open setlist view: optimistic local mutations, a retrying
// connection to the document service, and reconciliation of the
// authoritative event stream.
package collab

import (
	"fmt"

	"setlist-service/internal/setlist"
)

// PermissionDeniedError blocks a local operation before any network
// call. Never retried.
type PermissionDeniedError struct {
	Op setlist.Operation
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied for %s", e.Op)
}

// ValidationRejectedError is a remote rejection of a mutation. The
// pending edit has been discarded; the user must redo it if still
// wanted.
type ValidationRejectedError struct {
	Op     setlist.Operation
	Reason string
}

func (e *ValidationRejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Reason)
}

// Notice is a non-fatal, dismissible message, e.g. a pending edit
// overridden by another collaborator's confirmed change.
type Notice struct {
	Kind   NoticeKind `json:"kind"`
	JokeID string     `json:"jokeId,omitempty"`
	Field  string     `json:"field,omitempty"`
	Text   string     `json:"text"`
}

type NoticeKind string

const (
	// NoticeConflictOverridden: a local pending edit lost to a newer
	// confirmed remote mutation and was discarded.
	NoticeConflictOverridden NoticeKind = "conflict_overridden"
)
