// Package gamedef holds the static definitions of a rule pack: items,
// groups, regions, locations, exits and settings. A pack is loaded once per
// rule-set activation and treated as immutable for its lifetime; mutable
// progress lives in pkg/state snapshots.
package gamedef

import (
	"fmt"
	"sort"

	"github.com/lockpick/tracker/pkg/rules"
)

// Item is a collectible with an optional maximum count. Max <= 0 means
// unbounded.
type Item struct {
	Name string `json:"name"`
	Max  int    `json:"max,omitempty"`
}

// Exit is a directed connection between regions, gated by an optional rule.
// A nil rule is an open connection.
type Exit struct {
	To   string      `json:"to"`
	Rule *rules.Node `json:"rule,omitempty"`
}

// Region is a named area of the game graph. Reachability is computed per
// region by the engine's fixed-point pass.
type Region struct {
	Name  string `json:"name"`
	Start bool   `json:"start,omitempty"`
	Exits []Exit `json:"exits,omitempty"`
}

// Location is a checkable point inside a region, gated by its own access
// rule plus its parent region's reachability. A nil rule means always
// accessible once the region is reachable.
type Location struct {
	Name   string      `json:"name"`
	Region string      `json:"region"`
	Rule   *rules.Node `json:"rule,omitempty"`
}

// Pack is one complete rule set.
type Pack struct {
	Game      string              `json:"game"`
	Version   string              `json:"version,omitempty"`
	Items     map[string]Item     `json:"items"`
	Groups    map[string][]string `json:"groups,omitempty"`
	Regions   map[string]Region   `json:"regions"`
	Locations map[string]Location `json:"locations"`
	Settings  map[string]any      `json:"settings,omitempty"`
}

// StartRegions returns the names of regions marked as starting points, in
// sorted order for determinism.
func (p *Pack) StartRegions() []string {
	var starts []string
	for name, r := range p.Regions {
		if r.Start {
			starts = append(starts, name)
		}
	}
	sort.Strings(starts)
	return starts
}

// LocationsInRegion returns the names of locations whose parent is the given
// region, sorted.
func (p *Pack) LocationsInRegion(region string) []string {
	var out []string
	for name, loc := range p.Locations {
		if loc.Region == region {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// GroupCount sums inventory counts across a group's members.
func (p *Pack) GroupCount(group string, inventory map[string]int) (int, bool) {
	members, ok := p.Groups[group]
	if !ok {
		return 0, false
	}
	total := 0
	for _, m := range members {
		total += inventory[m]
	}
	return total, true
}

// Validate checks referential integrity: every location points at a defined
// region, every exit at a defined region, every group member at a defined
// item, and every helper referenced from a rule at a registered name.
// helperNames may be nil to skip the helper check (ad-hoc rules bypass it).
func (p *Pack) Validate(helperNames map[string]bool) error {
	if p.Game == "" {
		return fmt.Errorf("pack missing game identifier")
	}
	if len(p.Regions) == 0 {
		return fmt.Errorf("pack %s defines no regions", p.Game)
	}
	if len(p.StartRegions()) == 0 {
		return fmt.Errorf("pack %s has no start region", p.Game)
	}
	for name, loc := range p.Locations {
		if _, ok := p.Regions[loc.Region]; !ok {
			return fmt.Errorf("location %s references undefined region %s", name, loc.Region)
		}
		if err := p.checkRule(loc.Rule, helperNames); err != nil {
			return fmt.Errorf("location %s: %w", name, err)
		}
	}
	for name, region := range p.Regions {
		for _, exit := range region.Exits {
			if _, ok := p.Regions[exit.To]; !ok {
				return fmt.Errorf("region %s has exit to undefined region %s", name, exit.To)
			}
			if err := p.checkRule(exit.Rule, helperNames); err != nil {
				return fmt.Errorf("region %s exit to %s: %w", name, exit.To, err)
			}
		}
	}
	for group, members := range p.Groups {
		for _, m := range members {
			if _, ok := p.Items[m]; !ok {
				return fmt.Errorf("group %s references undefined item %s", group, m)
			}
		}
	}
	return nil
}

func (p *Pack) checkRule(rule *rules.Node, helperNames map[string]bool) error {
	if rule == nil {
		return nil
	}
	var err error
	rules.Walk(rule, func(n *rules.Node) {
		if err != nil {
			return
		}
		switch n.Type {
		case "item_check", "count_check":
			if _, ok := p.Items[n.Item]; !ok {
				err = fmt.Errorf("rule references undefined item %s", n.Item)
			}
		case "group_check":
			if _, ok := p.Groups[n.Group]; !ok {
				err = fmt.Errorf("rule references undefined group %s", n.Group)
			}
		case "helper":
			if helperNames != nil && !helperNames[n.Name] {
				err = fmt.Errorf("rule references unregistered helper %s", n.Name)
			}
		}
	})
	return err
}
