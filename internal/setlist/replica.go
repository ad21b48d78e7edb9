package setlist

import (
	"errors"
	"fmt"
)

// Replica is one materialized copy of a setlist document: the list
// itself, the jokes it references, the per-user roles, and comments.
// The authoritative service applies mutations to its replica to
// validate and version them; clients apply the same mutations to
// theirs, so both sides converge by construction.
type Replica struct {
	List     Setlist
	Jokes    map[string]Joke
	Roles    map[string]Role
	Comments map[string][]Comment
}

var (
	ErrUnknownJoke   = errors.New("joke not referenced by setlist")
	ErrDuplicateJoke = errors.New("joke already referenced by setlist")
	ErrOwnerRole     = errors.New("owner role is immutable")
)

// NewReplica builds a replica for a fresh setlist owned by ownerID.
func NewReplica(id, title, ownerID string) *Replica {
	return &Replica{
		List:     Setlist{ID: id, Title: title, OwnerID: ownerID},
		Jokes:    map[string]Joke{},
		Roles:    map[string]Role{ownerID: RoleOwner},
		Comments: map[string][]Comment{},
	}
}

// Clone deep-copies the replica. Mutating the clone never touches the
// original, which is what lets snapshots be handed out immutably.
func (r *Replica) Clone() *Replica {
	out := &Replica{
		List:     r.List,
		Jokes:    make(map[string]Joke, len(r.Jokes)),
		Roles:    make(map[string]Role, len(r.Roles)),
		Comments: make(map[string][]Comment, len(r.Comments)),
	}
	out.List.JokeOrder = r.List.CloneOrder()
	for id, j := range r.Jokes {
		j.Tags = append([]string(nil), j.Tags...)
		out.Jokes[id] = j
	}
	for id, role := range r.Roles {
		out.Roles[id] = role
	}
	for id, cs := range r.Comments {
		out.Comments[id] = append([]Comment(nil), cs...)
	}
	return out
}

// RoleOf resolves a user's role, defaulting to RoleNone.
func (r *Replica) RoleOf(userID string) Role {
	if role, ok := r.Roles[userID]; ok {
		return role
	}
	return RoleNone
}

// OrderedJokes returns the jokes in list order.
func (r *Replica) OrderedJokes() []Joke {
	out := make([]Joke, 0, len(r.List.JokeOrder))
	for _, ref := range r.List.JokeOrder {
		if j, ok := r.Jokes[ref.JokeID]; ok {
			out = append(out, j)
		}
	}
	return out
}

// TotalDurationSec sums the estimated duration of the set.
func (r *Replica) TotalDurationSec() int {
	total := 0
	for _, j := range r.OrderedJokes() {
		total += j.EstimatedDurationSec
	}
	return total
}

// Apply mutates the replica in place. It validates structure only
// (unknown jokes, duplicate references, owner immutability);
// permission checks belong to the gate, version checks to the caller.
func (r *Replica) Apply(m *Mutation) error {
	switch m.Kind {
	case MutAddJoke:
		if m.Joke == nil {
			return fmt.Errorf("add_joke without payload")
		}
		if r.List.IndexOf(m.Joke.ID) >= 0 {
			return ErrDuplicateJoke
		}
		r.Jokes[m.Joke.ID] = *m.Joke
		key := m.SortKey
		if key == "" {
			var err error
			if key, err = KeyAfter(r.List.JokeOrder); err != nil {
				return err
			}
		}
		r.List.JokeOrder = append(r.List.JokeOrder, JokeRef{JokeID: m.Joke.ID, SortKey: key})
		SortRefs(r.List.JokeOrder)

	case MutEditJoke:
		if m.Joke == nil {
			return fmt.Errorf("edit_joke without payload")
		}
		cur, ok := r.Jokes[m.Joke.ID]
		if !ok {
			return ErrUnknownJoke
		}
		for _, f := range m.Fields {
			switch f {
			case "title":
				cur.Title = m.Joke.Title
			case "text":
				cur.Text = m.Joke.Text
			case "notes":
				cur.Notes = m.Joke.Notes
			case "tags":
				cur.Tags = append([]string(nil), m.Joke.Tags...)
			case "estimatedDurationSec":
				cur.EstimatedDurationSec = m.Joke.EstimatedDurationSec
			case "archived":
				cur.Archived = m.Joke.Archived
			default:
				return fmt.Errorf("unknown joke field %q", f)
			}
		}
		r.Jokes[m.Joke.ID] = cur

	case MutRemoveJoke:
		i := r.List.IndexOf(m.JokeID)
		if i < 0 {
			return ErrUnknownJoke
		}
		r.List.JokeOrder = append(r.List.JokeOrder[:i], r.List.JokeOrder[i+1:]...)
		delete(r.Jokes, m.JokeID)

	case MutReorder:
		if r.List.IndexOf(m.JokeID) < 0 {
			return ErrUnknownJoke
		}
		if len(m.Renumbered) > 0 {
			r.List.JokeOrder = append([]JokeRef(nil), m.Renumbered...)
		}
		for i := range r.List.JokeOrder {
			if r.List.JokeOrder[i].JokeID == m.JokeID {
				r.List.JokeOrder[i].SortKey = m.SortKey
			}
		}
		SortRefs(r.List.JokeOrder)

	case MutShare:
		if m.TargetUserID == r.List.OwnerID {
			return ErrOwnerRole
		}
		if m.Role == RoleNone {
			delete(r.Roles, m.TargetUserID)
		} else {
			r.Roles[m.TargetUserID] = m.Role
		}

	case MutComment:
		if r.List.IndexOf(m.JokeID) < 0 {
			return ErrUnknownJoke
		}
		r.Comments[m.JokeID] = append(r.Comments[m.JokeID], Comment{
			ID:       m.ID,
			JokeID:   m.JokeID,
			AuthorID: m.ActorID,
			Text:     m.Comment,
		})

	default:
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
	return nil
}
