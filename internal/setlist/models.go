package setlist

import (
	"sort"
	"time"
)

// Role is a user's capability level on one setlist.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleEditor    Role = "editor"
	RoleCommenter Role = "commenter"
	RoleNone      Role = "none"
)

// Operation names a user intent checked against a Role.
type Operation string

const (
	OpAddJoke    Operation = "addJoke"
	OpEditJoke   Operation = "editJoke"
	OpRemoveJoke Operation = "removeJoke"
	OpReorder    Operation = "reorder"
	OpShare      Operation = "share"
	OpComment    Operation = "comment"
)

// Joke is a unit of comedy material. Jokes are independently
// addressable: the same joke may be referenced by several setlists.
type Joke struct {
	ID                   string    `json:"id"`
	OwnerID              string    `json:"ownerId"`
	Title                string    `json:"title"`
	Text                 string    `json:"text"`
	Notes                string    `json:"notes,omitempty"`
	Tags                 []string  `json:"tags,omitempty"`
	EstimatedDurationSec int       `json:"estimatedDurationSec,omitempty"`
	Archived             bool      `json:"archived,omitempty"`
	CreatedAt            time.Time `json:"createdAt,omitempty"`
}

// JokeRef places a joke inside a setlist. Position is determined by
// SortKey, never by slice index; ties break on JokeID so every replica
// sorts identically.
type JokeRef struct {
	JokeID  string `json:"jokeId"`
	SortKey string `json:"sortKey"`
}

// Setlist is an owned, ordered collection of joke references.
// Version increases by one for every accepted mutation.
type Setlist struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	OwnerID   string    `json:"ownerId"`
	JokeOrder []JokeRef `json:"jokeOrder"`
	Version   uint64    `json:"version"`
}

// Comment is attached to a joke within one setlist.
type Comment struct {
	ID        string    `json:"id"`
	JokeID    string    `json:"jokeId"`
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// MutationKind discriminates Mutation payloads.
type MutationKind string

const (
	MutAddJoke    MutationKind = "add_joke"
	MutEditJoke   MutationKind = "edit_joke"
	MutRemoveJoke MutationKind = "remove_joke"
	MutReorder    MutationKind = "reorder"
	MutShare      MutationKind = "share"
	MutComment    MutationKind = "comment"
)

// Mutation is one user intent addressed to a setlist. ID is a
// client-generated correlation id; BaseVersion is the setlist version
// the client computed the intent against.
type Mutation struct {
	ID          string       `json:"id"`
	SetlistID   string       `json:"setlistId"`
	Kind        MutationKind `json:"kind"`
	ActorID     string       `json:"actorId"`
	BaseVersion uint64       `json:"baseVersion"`

	// add_joke / edit_joke carry the joke payload; edit_joke applies
	// only the fields listed in Fields.
	Joke   *Joke    `json:"joke,omitempty"`
	Fields []string `json:"fields,omitempty"`

	// add_joke / remove_joke / reorder / comment target.
	JokeID string `json:"jokeId,omitempty"`

	// add_joke / reorder placement.
	SortKey string `json:"sortKey,omitempty"`
	// Set when the reorder had to renumber the whole list: the full
	// key assignment every replica must adopt before placing JokeID.
	Renumbered []JokeRef `json:"renumbered,omitempty"`

	// share payload.
	TargetUserID string `json:"targetUserId,omitempty"`
	Role         Role   `json:"role,omitempty"`

	// comment payload.
	Comment string `json:"comment,omitempty"`
}

// Operation maps the mutation to the capability it requires.
func (m *Mutation) Operation() Operation {
	switch m.Kind {
	case MutAddJoke:
		return OpAddJoke
	case MutEditJoke:
		return OpEditJoke
	case MutRemoveJoke:
		return OpRemoveJoke
	case MutReorder:
		return OpReorder
	case MutShare:
		return OpShare
	case MutComment:
		return OpComment
	}
	return Operation(m.Kind)
}

// Event is a mutation the authoritative store accepted, stamped with
// the setlist version that resulted from applying it.
type Event struct {
	Version  uint64   `json:"version"`
	Mutation Mutation `json:"mutation"`
}

// SortRefs orders refs by (SortKey, JokeID). The tie-break keeps
// concurrent inserts into the same gap deterministic on every replica.
func SortRefs(refs []JokeRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].SortKey != refs[j].SortKey {
			return refs[i].SortKey < refs[j].SortKey
		}
		return refs[i].JokeID < refs[j].JokeID
	})
}

// IndexOf returns the position of jokeID in the order, or -1.
func (s *Setlist) IndexOf(jokeID string) int {
	for i, ref := range s.JokeOrder {
		if ref.JokeID == jokeID {
			return i
		}
	}
	return -1
}

// CloneOrder returns a copy of JokeOrder safe to hand out.
func (s *Setlist) CloneOrder() []JokeRef {
	out := make([]JokeRef, len(s.JokeOrder))
	copy(out, s.JokeOrder)
	return out
}
