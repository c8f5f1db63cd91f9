// Package storage persists tracker sessions so a crashed or restarted
// foreground can resume where it left off. The engine writes after every
// committed mutation; restore replays raw counts and flags into a fresh
// engine.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lockpick/tracker/pkg/state"
)

// Session is the persisted form of one tracker session: the raw mutable
// state plus the last emitted snapshot.
type Session struct {
	ID        uuid.UUID       `json:"id"`
	Game      string          `json:"game"`
	Player    string          `json:"player,omitempty"`
	Inventory map[string]int  `json:"inventory"`
	Flags     []string        `json:"flags"`
	Snapshot  *state.Snapshot `json:"snapshot,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Storage defines session persistence.
type Storage interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Session operations
	SaveSession(ctx context.Context, session *Session) error
	// LoadSession returns (nil, nil) when the session does not exist.
	LoadSession(ctx context.Context, id uuid.UUID) (*Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
}
