package state

import (
	"fmt"

	"github.com/lockpick/tracker/pkg/gamedef"
	"github.com/lockpick/tracker/pkg/rules"
)

// SnapshotHelper is a helper that can be answered from frozen data alone.
// Most helpers need live graph traversal and are not snapshot-safe; those
// stay unregistered here and resolve to unknown.
type SnapshotHelper func(ctx rules.Context, args []rules.Value) (rules.Value, error)

// SnapshotContext answers evaluator queries from an immutable snapshot plus
// static pack data. Whenever the snapshot does not contain enough
// information the answer is unknown rather than a guess.
type SnapshotContext struct {
	snap    *Snapshot
	pack    *gamedef.Pack
	helpers map[string]SnapshotHelper
}

var _ rules.Context = (*SnapshotContext)(nil)

// NewSnapshotContext wraps a snapshot and its pack. helpers may be nil.
func NewSnapshotContext(snap *Snapshot, pack *gamedef.Pack, helpers map[string]SnapshotHelper) *SnapshotContext {
	return &SnapshotContext{snap: snap, pack: pack, helpers: helpers}
}

func (c *SnapshotContext) Mode() rules.Mode { return rules.ModeSnapshot }

// HasItem is definite: the snapshot carries the complete inventory map, so
// an absent key means a count of zero.
func (c *SnapshotContext) HasItem(name string) rules.Value {
	if c.snap == nil {
		return rules.Unknown
	}
	return rules.Bool(c.snap.Inventory[name] > 0)
}

func (c *SnapshotContext) CountItem(name string) rules.Value {
	if c.snap == nil {
		return rules.Unknown
	}
	return rules.Number(float64(c.snap.Inventory[name]))
}

func (c *SnapshotContext) CountGroup(name string) rules.Value {
	if c.snap == nil || c.pack == nil {
		return rules.Unknown
	}
	total, ok := c.pack.GroupCount(name, c.snap.Inventory)
	if !ok {
		return rules.Unknown
	}
	return rules.Number(float64(total))
}

func (c *SnapshotContext) HasFlag(name string) rules.Value {
	if c.snap == nil {
		return rules.Unknown
	}
	return rules.Bool(c.snap.HasFlag(name))
}

func (c *SnapshotContext) Setting(name string) rules.Value {
	if c.snap != nil {
		if v, ok := c.snap.Settings[name]; ok {
			return rules.FromLiteral(v)
		}
	}
	if c.pack != nil {
		if v, ok := c.pack.Settings[name]; ok {
			return rules.FromLiteral(v)
		}
	}
	return rules.Unknown
}

// IsRegionReachable propagates unknown when the region's reachability was
// never computed into this snapshot.
func (c *SnapshotContext) IsRegionReachable(name string) rules.Value {
	if c.snap == nil {
		return rules.Unknown
	}
	st, ok := c.snap.Status(name)
	if !ok {
		return rules.Unknown
	}
	switch st {
	case StatusReachable, StatusChecked:
		return rules.True
	case StatusUnreachable:
		return rules.False
	default:
		return rules.Unknown
	}
}

// IsLocationAccessible checks the parent region before the location's own
// rule. The order is mandatory: the rule's attribute resolution may assume a
// reachable enclosing region, so an unknown or unreachable region decides
// the answer without touching the rule.
func (c *SnapshotContext) IsLocationAccessible(name string) rules.Value {
	if c.pack == nil {
		return rules.Unknown
	}
	loc, ok := c.pack.Locations[name]
	if !ok {
		return rules.Unknown
	}
	region := c.IsRegionReachable(loc.Region)
	if region.IsUnknown() {
		return rules.Unknown
	}
	if region.IsFalse() {
		return rules.False
	}
	if loc.Rule == nil {
		return rules.True
	}
	return rules.Evaluate(loc.Rule, c, 0).Truth()
}

func (c *SnapshotContext) CallHelper(name string, args []rules.Value) (rules.Value, error) {
	if h, ok := c.helpers[name]; ok {
		return h(c, args)
	}
	return rules.Unknown, fmt.Errorf("helper %s not available from a snapshot", name)
}

// CallStateMethod always fails: state methods need the live engine.
func (c *SnapshotContext) CallStateMethod(name string, args []rules.Value) (rules.Value, error) {
	return rules.Unknown, fmt.Errorf("state method %s not available from a snapshot", name)
}

// ResolveEntity resolves bare names against static data: items resolve to
// their count, regions to reachability, locations to accessibility.
func (c *SnapshotContext) ResolveEntity(name string) (rules.Value, bool) {
	if c.pack == nil {
		return rules.Unknown, false
	}
	if _, ok := c.pack.Items[name]; ok {
		return c.CountItem(name), true
	}
	if _, ok := c.pack.Regions[name]; ok {
		return c.IsRegionReachable(name), true
	}
	if _, ok := c.pack.Locations[name]; ok {
		return c.IsLocationAccessible(name), true
	}
	return rules.Unknown, false
}
