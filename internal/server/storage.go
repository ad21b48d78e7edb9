package server

import (
	"context"
	"errors"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"setlist-service/internal/remote"
	"setlist-service/internal/setlist"
)

// ErrNotFound reports a missing row.
var ErrNotFound = errors.New("not found")

// Store is the persistence contract behind the document service and
// the joke bank REST surface.
type Store interface {
	SaveSnapshot(ctx context.Context, snap *remote.Snapshot) error
	LoadSnapshot(ctx context.Context, setlistID string) (*remote.Snapshot, error)
	ListSetlists(ctx context.Context, userID string) ([]setlist.Setlist, error)
	DeleteSetlist(ctx context.Context, setlistID string) error
	// Joke bank
	SaveJoke(ctx context.Context, j *setlist.Joke) error
	LoadJoke(ctx context.Context, id string) (*setlist.Joke, error)
	ListJokes(ctx context.Context, ownerID string, includeArchived bool) ([]setlist.Joke, error)
	SetJokeArchived(ctx context.Context, id string, archived bool) error
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func AutoMigrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS jokes (
          id          TEXT PRIMARY KEY,
          owner_id    TEXT NOT NULL,
          title       TEXT NOT NULL,
          body        TEXT NOT NULL DEFAULT '',
          notes       TEXT NOT NULL DEFAULT '',
          tags        TEXT[] NOT NULL DEFAULT '{}',
          est_duration_sec INT NOT NULL DEFAULT 0,
          archived    BOOLEAN NOT NULL DEFAULT FALSE,
          created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
      )
    `); err != nil {
		log.Printf("migrate setlist-service: jokes: %v", err)
		return err
	}

	if _, err := pool.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS setlists (
          id          TEXT PRIMARY KEY,
          owner_id    TEXT NOT NULL,
          title       TEXT NOT NULL,
          version     BIGINT NOT NULL DEFAULT 0,
          created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
      )
    `); err != nil {
		log.Printf("migrate setlist-service: setlists: %v", err)
		return err
	}

	if _, err := pool.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS setlist_jokes (
          setlist_id  TEXT NOT NULL REFERENCES setlists(id) ON DELETE CASCADE,
          joke_id     TEXT NOT NULL REFERENCES jokes(id),
          sort_key    TEXT NOT NULL,
          PRIMARY KEY (setlist_id, joke_id)
      )
    `); err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, `
      CREATE INDEX IF NOT EXISTS idx_setlist_jokes_order
      ON setlist_jokes(setlist_id, sort_key, joke_id)
    `); err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS setlist_members (
          setlist_id  TEXT NOT NULL REFERENCES setlists(id) ON DELETE CASCADE,
          user_id     TEXT NOT NULL,
          role        TEXT NOT NULL,
          created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
          PRIMARY KEY (setlist_id, user_id)
      )
    `); err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS comments (
          id          TEXT PRIMARY KEY,
          setlist_id  TEXT NOT NULL REFERENCES setlists(id) ON DELETE CASCADE,
          joke_id     TEXT NOT NULL,
          author_id   TEXT NOT NULL,
          body        TEXT NOT NULL,
          created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
      )
    `); err != nil {
		return err
	}

	return nil
}

// SaveSnapshot writes one full document state transactionally. The
// document service serializes mutations per setlist, so last write
// wins is the correct overwrite policy here.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *remote.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO setlists (id, owner_id, title, version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET title = $3, version = $4
	`, snap.Setlist.ID, snap.Setlist.OwnerID, snap.Setlist.Title, snap.Version); err != nil {
		return err
	}

	for _, j := range snap.Jokes {
		if err := saveJokeTx(ctx, tx, &j); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM setlist_jokes WHERE setlist_id = $1`, snap.Setlist.ID); err != nil {
		return err
	}
	for _, ref := range snap.Setlist.JokeOrder {
		if _, err := tx.Exec(ctx, `
			INSERT INTO setlist_jokes (setlist_id, joke_id, sort_key) VALUES ($1, $2, $3)
		`, snap.Setlist.ID, ref.JokeID, ref.SortKey); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM setlist_members WHERE setlist_id = $1`, snap.Setlist.ID); err != nil {
		return err
	}
	for userID, role := range snap.Roles {
		if _, err := tx.Exec(ctx, `
			INSERT INTO setlist_members (setlist_id, user_id, role) VALUES ($1, $2, $3)
		`, snap.Setlist.ID, userID, string(role)); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM comments WHERE setlist_id = $1`, snap.Setlist.ID); err != nil {
		return err
	}
	for jokeID, cs := range snap.Comments {
		for _, c := range cs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO comments (id, setlist_id, joke_id, author_id, body, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, c.ID, snap.Setlist.ID, jokeID, c.AuthorID, c.Text, c.CreatedAt); err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context, setlistID string) (*remote.Snapshot, error) {
	snap := &remote.Snapshot{
		Jokes:    map[string]setlist.Joke{},
		Roles:    map[string]setlist.Role{},
		Comments: map[string][]setlist.Comment{},
	}

	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, title, version FROM setlists WHERE id = $1
	`, setlistID).Scan(&snap.Setlist.ID, &snap.Setlist.OwnerID, &snap.Setlist.Title, &snap.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	snap.Setlist.Version = snap.Version

	rows, err := s.pool.Query(ctx, `
		SELECT sj.joke_id, sj.sort_key,
		       j.owner_id, j.title, j.body, j.notes, j.tags, j.est_duration_sec, j.archived, j.created_at
		FROM setlist_jokes sj
		JOIN jokes j ON j.id = sj.joke_id
		WHERE sj.setlist_id = $1
		ORDER BY sj.sort_key ASC, sj.joke_id ASC
	`, setlistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ref setlist.JokeRef
		var j setlist.Joke
		if err := rows.Scan(&ref.JokeID, &ref.SortKey,
			&j.OwnerID, &j.Title, &j.Text, &j.Notes, &j.Tags, &j.EstimatedDurationSec, &j.Archived, &j.CreatedAt); err != nil {
			return nil, err
		}
		j.ID = ref.JokeID
		snap.Setlist.JokeOrder = append(snap.Setlist.JokeOrder, ref)
		snap.Jokes[j.ID] = j
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	mrows, err := s.pool.Query(ctx, `
		SELECT user_id, role FROM setlist_members WHERE setlist_id = $1
	`, setlistID)
	if err != nil {
		return nil, err
	}
	defer mrows.Close()
	for mrows.Next() {
		var userID, role string
		if err := mrows.Scan(&userID, &role); err != nil {
			return nil, err
		}
		snap.Roles[userID] = setlist.Role(role)
	}
	if err := mrows.Err(); err != nil {
		return nil, err
	}

	crows, err := s.pool.Query(ctx, `
		SELECT id, joke_id, author_id, body, created_at
		FROM comments WHERE setlist_id = $1 ORDER BY created_at ASC
	`, setlistID)
	if err != nil {
		return nil, err
	}
	defer crows.Close()
	for crows.Next() {
		var c setlist.Comment
		if err := crows.Scan(&c.ID, &c.JokeID, &c.AuthorID, &c.Text, &c.CreatedAt); err != nil {
			return nil, err
		}
		snap.Comments[c.JokeID] = append(snap.Comments[c.JokeID], c)
	}
	if err := crows.Err(); err != nil {
		return nil, err
	}

	return snap, nil
}

func (s *PostgresStore) ListSetlists(ctx context.Context, userID string) ([]setlist.Setlist, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT s.id, s.owner_id, s.title, s.version
		FROM setlists s
		LEFT JOIN setlist_members m ON m.setlist_id = s.id
		WHERE s.owner_id = $1 OR m.user_id = $1
		ORDER BY s.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []setlist.Setlist
	for rows.Next() {
		var sl setlist.Setlist
		if err := rows.Scan(&sl.ID, &sl.OwnerID, &sl.Title, &sl.Version); err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteSetlist(ctx context.Context, setlistID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM setlists WHERE id = $1`, setlistID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func saveJokeTx(ctx context.Context, tx pgx.Tx, j *setlist.Joke) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO jokes (id, owner_id, title, body, notes, tags, est_duration_sec, archived, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			title = $3, body = $4, notes = $5, tags = $6, est_duration_sec = $7, archived = $8
	`, j.ID, j.OwnerID, j.Title, j.Text, j.Notes, j.Tags, j.EstimatedDurationSec, j.Archived, j.CreatedAt)
	return err
}

func (s *PostgresStore) SaveJoke(ctx context.Context, j *setlist.Joke) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jokes (id, owner_id, title, body, notes, tags, est_duration_sec, archived, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			title = $3, body = $4, notes = $5, tags = $6, est_duration_sec = $7, archived = $8
	`, j.ID, j.OwnerID, j.Title, j.Text, j.Notes, j.Tags, j.EstimatedDurationSec, j.Archived, j.CreatedAt)
	return err
}

func (s *PostgresStore) LoadJoke(ctx context.Context, id string) (*setlist.Joke, error) {
	var j setlist.Joke
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, title, body, notes, tags, est_duration_sec, archived, created_at
		FROM jokes WHERE id = $1
	`, id).Scan(&j.ID, &j.OwnerID, &j.Title, &j.Text, &j.Notes, &j.Tags, &j.EstimatedDurationSec, &j.Archived, &j.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) ListJokes(ctx context.Context, ownerID string, includeArchived bool) ([]setlist.Joke, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, title, body, notes, tags, est_duration_sec, archived, created_at
		FROM jokes
		WHERE owner_id = $1 AND (archived = FALSE OR $2)
		ORDER BY created_at ASC, id ASC
	`, ownerID, includeArchived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []setlist.Joke
	for rows.Next() {
		var j setlist.Joke
		if err := rows.Scan(&j.ID, &j.OwnerID, &j.Title, &j.Text, &j.Notes, &j.Tags, &j.EstimatedDurationSec, &j.Archived, &j.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetJokeArchived(ctx context.Context, id string, archived bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jokes SET archived = $2 WHERE id = $1`, id, archived)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
