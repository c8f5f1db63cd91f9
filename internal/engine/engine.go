// Package engine owns the canonical mutable tracker state: inventory
// counts, checked-location flags, settings, and the derived region
// reachability cache. It runs on a single goroutine and communicates with
// the foreground proxy only through protocol messages.
package engine

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/lockpick/tracker/pkg/gamedef"
	"github.com/lockpick/tracker/pkg/protocol"
	"github.com/lockpick/tracker/pkg/state"
)

// Engine is one tracker session's authoritative state. It is explicitly
// constructed and owned by exactly one proxy; nothing here is a package
// singleton, so independent sessions and unit tests get independent engines.
type Engine struct {
	log      *slog.Logger
	registry *Registry

	pack   *gamedef.Pack
	player protocol.PlayerInfo

	sessionID uuid.UUID
	revision  uint64

	inventory map[string]int
	flags     []string
	flagSet   map[string]bool
	settings  map[string]any

	reach      map[string]state.ReachabilityStatus
	reachValid bool

	batchOpen bool
}

// New creates an engine with no rule pack loaded. registry may be nil, in
// which case an empty registry is used.
func New(log *slog.Logger, registry *Registry) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{
		log:       log,
		registry:  registry,
		sessionID: uuid.New(),
		inventory: map[string]int{},
		flagSet:   map[string]bool{},
		reach:     map[string]state.ReachabilityStatus{},
	}
}

// SessionID identifies this engine's session for persistence and fan-out.
func (e *Engine) SessionID() uuid.UUID { return e.sessionID }

// Pack returns the active rule pack, or nil before loadRules.
func (e *Engine) Pack() *gamedef.Pack { return e.pack }

// LoadPack activates a rule pack: settings become immutable for the
// rule-set's lifetime and all mutable state resets. Access rules referencing
// unregistered helpers are rejected here rather than at evaluation time.
func (e *Engine) LoadPack(pack *gamedef.Pack, player protocol.PlayerInfo) error {
	if err := pack.Validate(e.registry.HelperNames()); err != nil {
		return fmt.Errorf("validating rule pack: %w", err)
	}
	e.pack = pack
	e.player = player
	e.settings = pack.Settings
	e.resetMutable()
	e.log.Info("rule pack loaded",
		"game", pack.Game,
		"regions", len(pack.Regions),
		"locations", len(pack.Locations),
		"player", player.Player)
	return nil
}

func (e *Engine) resetMutable() {
	e.inventory = map[string]int{}
	e.flags = nil
	e.flagSet = map[string]bool{}
	e.reach = map[string]state.ReachabilityStatus{}
	e.reachValid = false
	e.batchOpen = false
}

// AddItem adds count (which may be negative for corrections) to an item,
// clamping to [0, max]. The reachability cache is invalidated, not patched.
func (e *Engine) AddItem(name string, count int) error {
	if e.pack == nil {
		return fmt.Errorf("no rule pack loaded")
	}
	item, ok := e.pack.Items[name]
	if !ok {
		return fmt.Errorf("unknown item %s", name)
	}
	next := e.inventory[name] + count
	if next < 0 {
		next = 0
	}
	if item.Max > 0 && next > item.Max {
		next = item.Max
	}
	e.inventory[name] = next
	e.invalidate()
	return nil
}

// CheckLocation flags a location as checked. Idempotent: checking an
// already-checked location is a no-op and does not invalidate the cache.
func (e *Engine) CheckLocation(name string) error {
	if e.pack == nil {
		return fmt.Errorf("no rule pack loaded")
	}
	if _, ok := e.pack.Locations[name]; !ok {
		return fmt.Errorf("unknown location %s", name)
	}
	if e.flagSet[name] {
		return nil
	}
	e.flagSet[name] = true
	e.flags = append(e.flags, name)
	e.invalidate()
	return nil
}

// SetFlag records a non-location trigger flag. Flags are append-only until
// reset.
func (e *Engine) SetFlag(name string) {
	if e.flagSet[name] {
		return
	}
	e.flagSet[name] = true
	e.flags = append(e.flags, name)
	e.invalidate()
}

// BeginBatch opens a batch window: snapshot emission is suppressed until
// commit. The deferRecompute flag is accepted for wire compatibility but
// moot: recomputation is always lazy, so N mutations cost one reachability
// pass whether or not the window asks for deferral.
func (e *Engine) BeginBatch(deferRecompute bool) {
	e.batchOpen = true
}

// CommitBatch closes the batch window. The caller (run loop) emits the
// snapshot afterwards.
func (e *Engine) CommitBatch() {
	e.batchOpen = false
}

// BatchOpen reports whether snapshot emission is currently suppressed.
func (e *Engine) BatchOpen() bool { return e.batchOpen }

// Reset clears inventory, flags and the reachability cache back to the
// freshly-loaded state. Settings are untouched: they are immutable per
// rule set.
func (e *Engine) Reset() {
	e.resetMutable()
	e.log.Info("state reset", "session", e.sessionID)
}

// invalidate marks the reachability cache stale. Recomputation is lazy
// (ensureReachability), so a batch of N mutations still costs one pass.
func (e *Engine) invalidate() {
	e.reachValid = false
}

// Inventory returns a copy of the current item counts.
func (e *Engine) Inventory() map[string]int {
	out := make(map[string]int, len(e.inventory))
	for k, v := range e.inventory {
		out[k] = v
	}
	return out
}

// Flags returns the checked/triggered identifiers in the order they were
// set.
func (e *Engine) Flags() []string {
	return append([]string(nil), e.flags...)
}

// Restore replays persisted raw state into the engine in one batch. Used
// when resuming a stored session.
func (e *Engine) Restore(inventory map[string]int, flags []string) error {
	if e.pack == nil {
		return fmt.Errorf("no rule pack loaded")
	}
	e.BeginBatch(true)
	names := make([]string, 0, len(inventory))
	for name := range inventory {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := e.AddItem(name, inventory[name]); err != nil {
			e.log.Warn("skipping unknown item during restore", "item", name)
		}
	}
	for _, f := range flags {
		if _, ok := e.pack.Locations[f]; ok {
			if err := e.CheckLocation(f); err != nil {
				e.log.Warn("skipping unknown location during restore", "location", f)
			}
		} else {
			e.SetFlag(f)
		}
	}
	e.CommitBatch()
	e.reachValid = false
	return nil
}

// Snapshot recomputes reachability if stale and returns an immutable copy of
// the full state. Replaced wholesale on every mutation, never patched.
func (e *Engine) Snapshot() *state.Snapshot {
	if e.pack == nil {
		return nil
	}
	e.ensureReachability()
	e.revision++

	snap := &state.Snapshot{
		Game:         e.pack.Game,
		Player:       e.player.Player,
		SessionID:    e.sessionID,
		Revision:     e.revision,
		Inventory:    e.Inventory(),
		Flags:        e.Flags(),
		Reachability: make(map[string]state.ReachabilityStatus, len(e.reach)),
		Settings:     e.settings,
	}
	for k, v := range e.reach {
		snap.Reachability[k] = v
	}
	return snap
}
