package engine

import (
	"fmt"

	"github.com/lockpick/tracker/pkg/rules"
	"github.com/lockpick/tracker/pkg/state"
)

// FullContext is the authoritative rule-evaluation context backed by live
// engine state. Every query returns a definite answer; unknown never
// appears. Callers outside the fixed-point pass must go through
// Engine.Context so the reachability cache is fresh.
type FullContext struct {
	engine *Engine
}

var _ rules.Context = (*FullContext)(nil)

// Context returns a full context over up-to-date reachability.
func (e *Engine) Context() *FullContext {
	e.ensureReachability()
	return &FullContext{engine: e}
}

func (c *FullContext) Mode() rules.Mode { return rules.ModeFull }

func (c *FullContext) HasItem(name string) rules.Value {
	return rules.Bool(c.engine.inventory[name] > 0)
}

func (c *FullContext) CountItem(name string) rules.Value {
	return rules.Number(float64(c.engine.inventory[name]))
}

func (c *FullContext) CountGroup(name string) rules.Value {
	if c.engine.pack == nil {
		return rules.Number(0)
	}
	total, ok := c.engine.pack.GroupCount(name, c.engine.inventory)
	if !ok {
		// Undefined group in full mode fails closed as a zero count.
		return rules.Number(0)
	}
	return rules.Number(float64(total))
}

func (c *FullContext) HasFlag(name string) rules.Value {
	return rules.Bool(c.engine.flagSet[name])
}

func (c *FullContext) Setting(name string) rules.Value {
	if v, ok := c.engine.settings[name]; ok {
		return rules.FromLiteral(v)
	}
	return rules.False
}

// IsRegionReachable reads the in-progress or converged reachability map
// directly. During the fixed-point pass this gives helpers a monotonic
// intermediate view; outside it, Engine.Context guarantees freshness.
func (c *FullContext) IsRegionReachable(name string) rules.Value {
	st := c.engine.reach[name]
	return rules.Bool(st == state.StatusReachable || st == state.StatusChecked)
}

func (c *FullContext) IsLocationAccessible(name string) rules.Value {
	if c.engine.pack == nil {
		return rules.False
	}
	loc, ok := c.engine.pack.Locations[name]
	if !ok {
		return rules.False
	}
	if !c.IsRegionReachable(loc.Region).IsTrue() {
		return rules.False
	}
	if loc.Rule == nil {
		return rules.True
	}
	return rules.Decide(loc.Rule, c)
}

func (c *FullContext) CallHelper(name string, args []rules.Value) (rules.Value, error) {
	h, ok := c.engine.registry.Helper(name)
	if !ok {
		return rules.False, fmt.Errorf("helper %s not registered", name)
	}
	return h(c, args)
}

func (c *FullContext) CallStateMethod(name string, args []rules.Value) (rules.Value, error) {
	m, ok := c.engine.registry.StateMethod(name)
	if !ok {
		return rules.False, fmt.Errorf("state method %s not registered", name)
	}
	return m(c, args)
}

func (c *FullContext) ResolveEntity(name string) (rules.Value, bool) {
	pack := c.engine.pack
	if pack == nil {
		return rules.False, false
	}
	if _, ok := pack.Items[name]; ok {
		return c.CountItem(name), true
	}
	if _, ok := pack.Regions[name]; ok {
		return c.IsRegionReachable(name), true
	}
	if _, ok := pack.Locations[name]; ok {
		return c.IsLocationAccessible(name), true
	}
	return rules.False, false
}
