package store

import (
	"errors"

	"docuchat.app/engine/core/db"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Stores aggregates all entity stores over a shared connection pool.
type Stores struct {
	Users     *UserStore
	Sessions  *SessionStore
	Documents *DocumentStore
	Chunks    *ChunkStore
	Runs      *RunStore
}

func New(database *db.DB) *Stores {
	return &Stores{
		Users:     &UserStore{db: database},
		Sessions:  &SessionStore{db: database},
		Documents: &DocumentStore{db: database},
		Chunks:    &ChunkStore{db: database},
		Runs:      &RunStore{db: database},
	}
}
