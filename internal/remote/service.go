// Package remote defines the authoritative setlist document service:
// an opaque replicated store that accepts mutations, stamps each with
// the resulting version, and fans the accepted stream out to every
// subscribed replica.
package remote

import (
	"context"
	"errors"
	"fmt"

	"setlist-service/internal/setlist"
)

// Snapshot is the full state of one setlist document at a version.
type Snapshot struct {
	Setlist  setlist.Setlist              `json:"setlist"`
	Jokes    map[string]setlist.Joke      `json:"jokes"`
	Roles    map[string]setlist.Role      `json:"roles"`
	Comments map[string][]setlist.Comment `json:"comments,omitempty"`
	Version  uint64                       `json:"version"`
}

// Service is the remote document service contract. Submit returns
// the version the mutation was accepted at, or a *RejectionError for
// permission/validation failures; any other error is a transport
// failure and may be retried. Subscribe delivers accepted events in
// version order, starting after sinceVersion.
type Service interface {
	LoadSnapshot(ctx context.Context, setlistID string) (*Snapshot, error)
	Submit(ctx context.Context, m setlist.Mutation) (uint64, error)
	Subscribe(ctx context.Context, setlistID string, sinceVersion uint64) (<-chan setlist.Event, func(), error)
}

// Replica builds a working replica from the snapshot. The maps are
// copied, never aliased, so the snapshot stays immutable.
func (sn *Snapshot) Replica() *setlist.Replica {
	r := &setlist.Replica{
		List:     sn.Setlist,
		Jokes:    make(map[string]setlist.Joke, len(sn.Jokes)),
		Roles:    make(map[string]setlist.Role, len(sn.Roles)),
		Comments: make(map[string][]setlist.Comment, len(sn.Comments)),
	}
	r.List.JokeOrder = append([]setlist.JokeRef(nil), sn.Setlist.JokeOrder...)
	for id, j := range sn.Jokes {
		r.Jokes[id] = j
	}
	for id, role := range sn.Roles {
		r.Roles[id] = role
	}
	for id, cs := range sn.Comments {
		r.Comments[id] = append([]setlist.Comment(nil), cs...)
	}
	return r
}

// ErrNotFound reports an unknown setlist id.
var ErrNotFound = errors.New("setlist not found")

// RejectionError is the document service refusing a mutation. It is
// never retried: the pending local edit must be discarded.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("mutation rejected: %s", e.Reason)
}

// IsRejection reports whether err is a non-retryable rejection.
// Unclassified errors count as transport failures, favoring retry
// over silent data loss.
func IsRejection(err error) bool {
	var r *RejectionError
	return errors.As(err, &r)
}
