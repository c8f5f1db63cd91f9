// Package state defines the immutable Snapshot value object the engine
// emits after every committed mutation, plus the read-only SnapshotContext
// foreground consumers use for best-effort rule evaluation.
package state

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ReachabilityStatus is the tri-state reachability derived by the engine's
// fixed-point pass. Absence from a snapshot's map is the fourth state:
// "never computed", which snapshot contexts surface as unknown.
type ReachabilityStatus string

const (
	StatusReachable   ReachabilityStatus = "reachable"
	StatusUnreachable ReachabilityStatus = "unreachable"
	StatusChecked     ReachabilityStatus = "checked"
)

// Snapshot is a point-in-time copy of mutable game state plus derived
// reachability. It is produced exclusively by the engine, replaced wholesale
// on every committed mutation, and never patched in place.
type Snapshot struct {
	Game         string                        `json:"game"`
	Player       string                        `json:"player,omitempty"`
	SessionID    uuid.UUID                     `json:"session_id"`
	Revision     uint64                        `json:"revision"`
	Inventory    map[string]int                `json:"inventory"`
	Flags        []string                      `json:"flags"`
	Reachability map[string]ReachabilityStatus `json:"reachability"`
	Settings     map[string]any                `json:"settings,omitempty"`
}

// HasFlag reports whether the flag was set when the snapshot was taken.
// The flag list is complete, so the answer is always definite.
func (s *Snapshot) HasFlag(name string) bool {
	for _, f := range s.Flags {
		if f == name {
			return true
		}
	}
	return false
}

// Status returns the recorded reachability for an entity and whether it was
// computed at all.
func (s *Snapshot) Status(name string) (ReachabilityStatus, bool) {
	st, ok := s.Reachability[name]
	return st, ok
}

// Clone returns a deep copy. The engine clones before emitting so later
// mutations can never alias a snapshot a consumer already holds.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Game:         s.Game,
		Player:       s.Player,
		SessionID:    s.SessionID,
		Revision:     s.Revision,
		Inventory:    make(map[string]int, len(s.Inventory)),
		Flags:        append([]string(nil), s.Flags...),
		Reachability: make(map[string]ReachabilityStatus, len(s.Reachability)),
	}
	for k, v := range s.Inventory {
		out.Inventory[k] = v
	}
	for k, v := range s.Reachability {
		out.Reachability[k] = v
	}
	if s.Settings != nil {
		out.Settings = make(map[string]any, len(s.Settings))
		for k, v := range s.Settings {
			out.Settings[k] = v
		}
	}
	return out
}

// Equal compares two snapshots structurally via their JSON encoding. Used by
// tests asserting batch equivalence and checkLocation idempotence.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	a := s.Clone()
	b := o.Clone()
	// Revision counts emissions, not logical state.
	a.Revision, b.Revision = 0, 0
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}
