package engine

import (
	"github.com/lockpick/tracker/pkg/rules"
	"github.com/lockpick/tracker/pkg/state"
)

// ensureReachability recomputes the reachability cache if it is stale.
//
// The computation is a fixed-point pass over the whole region set: a region
// becomes reachable if it was already reachable, if any already-reachable
// region has a satisfied exit into it, or if it contains a checked location.
// Status only transitions unreachable -> reachable within one computation
// and the region set is finite, so the loop terminates.
func (e *Engine) ensureReachability() {
	if e.reachValid || e.pack == nil {
		return
	}

	reach := make(map[string]state.ReachabilityStatus, len(e.pack.Regions)+len(e.pack.Locations))
	for name := range e.pack.Regions {
		reach[name] = state.StatusUnreachable
	}
	for _, name := range e.pack.StartRegions() {
		reach[name] = state.StatusReachable
	}

	// A region holding a checked location is reachable by construction.
	for _, flag := range e.flags {
		if loc, ok := e.pack.Locations[flag]; ok {
			reach[loc.Region] = state.StatusReachable
		}
	}

	// Evaluate exit rules against the in-progress map so can_reach-style
	// helpers see monotonic intermediate state.
	e.reach = reach
	ctx := &FullContext{engine: e}

	for changed := true; changed; {
		changed = false
		for name, region := range e.pack.Regions {
			if reach[name] != state.StatusReachable {
				continue
			}
			for _, exit := range region.Exits {
				if reach[exit.To] == state.StatusReachable {
					continue
				}
				if exit.Rule == nil || rules.Decide(exit.Rule, ctx).IsTrue() {
					reach[exit.To] = state.StatusReachable
					changed = true
				}
			}
		}
	}

	// Location statuses are derived after the region fixed point converges:
	// checked wins, otherwise region-then-rule accessibility.
	for name, loc := range e.pack.Locations {
		switch {
		case e.flagSet[name]:
			reach[name] = state.StatusChecked
		case reach[loc.Region] != state.StatusReachable:
			reach[name] = state.StatusUnreachable
		case loc.Rule == nil || rules.Decide(loc.Rule, ctx).IsTrue():
			reach[name] = state.StatusReachable
		default:
			reach[name] = state.StatusUnreachable
		}
	}

	e.reach = reach
	e.reachValid = true
}
