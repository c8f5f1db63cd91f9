package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockpick/tracker/pkg/gamedef"
	"github.com/lockpick/tracker/pkg/rules"
)

func cavePack(t *testing.T) *gamedef.Pack {
	t.Helper()
	chestRule, err := rules.Parse([]byte(`{"type":"item_check","item":"Lamp"}`))
	require.NoError(t, err)
	return &gamedef.Pack{
		Game: "cavern",
		Items: map[string]gamedef.Item{
			"Lamp": {Name: "Lamp", Max: 1},
			"Key":  {Name: "Key", Max: 5},
			"Gem":  {Name: "Gem"},
		},
		Groups: map[string][]string{
			"treasure": {"Key", "Gem"},
		},
		Regions: map[string]gamedef.Region{
			"Menu": {Name: "Menu", Start: true, Exits: []gamedef.Exit{{To: "Cave"}}},
			"Cave": {Name: "Cave"},
		},
		Locations: map[string]gamedef.Location{
			"Cave Chest": {Name: "Cave Chest", Region: "Cave", Rule: chestRule},
			"Doorstep":   {Name: "Doorstep", Region: "Menu"},
		},
		Settings: map[string]any{"difficulty": "normal"},
	}
}

func TestSnapshotContextInventoryIsDefinite(t *testing.T) {
	snap := &Snapshot{
		Game:      "cavern",
		Inventory: map[string]int{"Lamp": 1},
	}
	ctx := NewSnapshotContext(snap, cavePack(t), nil)

	assert.True(t, ctx.HasItem("Lamp").IsTrue())
	// The inventory map is complete: an absent key is a definite zero, not
	// unknown.
	assert.True(t, ctx.HasItem("Key").IsFalse())
	n, ok := ctx.CountItem("Key").AsNumber()
	require.True(t, ok)
	assert.Equal(t, 0.0, n)
}

func TestSnapshotContextNilSnapshot(t *testing.T) {
	ctx := NewSnapshotContext(nil, cavePack(t), nil)
	assert.True(t, ctx.HasItem("Lamp").IsUnknown())
	assert.True(t, ctx.CountItem("Lamp").IsUnknown())
	assert.True(t, ctx.HasFlag("anything").IsUnknown())
	assert.True(t, ctx.IsRegionReachable("Cave").IsUnknown())
}

func TestSnapshotContextGroupCount(t *testing.T) {
	snap := &Snapshot{Inventory: map[string]int{"Key": 2, "Gem": 3}}
	ctx := NewSnapshotContext(snap, cavePack(t), nil)

	n, ok := ctx.CountGroup("treasure").AsNumber()
	require.True(t, ok)
	assert.Equal(t, 5.0, n)

	assert.True(t, ctx.CountGroup("nonexistent").IsUnknown())
}

func TestSnapshotContextSettingFallsBackToPack(t *testing.T) {
	snap := &Snapshot{Inventory: map[string]int{}}
	ctx := NewSnapshotContext(snap, cavePack(t), nil)

	v, ok := ctx.Setting("difficulty").AsString()
	require.True(t, ok)
	assert.Equal(t, "normal", v)

	snap.Settings = map[string]any{"difficulty": "hard"}
	v, ok = ctx.Setting("difficulty").AsString()
	require.True(t, ok)
	assert.Equal(t, "hard", v)

	assert.True(t, ctx.Setting("unset").IsUnknown())
}

func TestSnapshotContextReachability(t *testing.T) {
	snap := &Snapshot{
		Inventory: map[string]int{},
		Reachability: map[string]ReachabilityStatus{
			"Menu": StatusReachable,
			"Cave": StatusUnreachable,
		},
	}
	ctx := NewSnapshotContext(snap, cavePack(t), nil)

	assert.True(t, ctx.IsRegionReachable("Menu").IsTrue())
	assert.True(t, ctx.IsRegionReachable("Cave").IsFalse())
	// Never computed into this snapshot.
	assert.True(t, ctx.IsRegionReachable("Ether Tower").IsUnknown())

	snap.Reachability["Cave"] = StatusChecked
	assert.True(t, ctx.IsRegionReachable("Cave").IsTrue())
}

func TestLocationAccessRegionDecidesFirst(t *testing.T) {
	pack := cavePack(t)

	// Region unknown: the location rule would pass (Lamp held), but the
	// region gate answers first.
	snap := &Snapshot{
		Inventory:    map[string]int{"Lamp": 1},
		Reachability: map[string]ReachabilityStatus{},
	}
	ctx := NewSnapshotContext(snap, pack, nil)
	assert.True(t, ctx.IsLocationAccessible("Cave Chest").IsUnknown())

	// Region unreachable: definite false without consulting the rule.
	snap.Reachability["Cave"] = StatusUnreachable
	assert.True(t, ctx.IsLocationAccessible("Cave Chest").IsFalse())

	// Region reachable: now the rule decides.
	snap.Reachability["Cave"] = StatusReachable
	assert.True(t, ctx.IsLocationAccessible("Cave Chest").IsTrue())

	snap.Inventory["Lamp"] = 0
	assert.True(t, ctx.IsLocationAccessible("Cave Chest").IsFalse())
}

func TestLocationWithoutRuleFollowsRegion(t *testing.T) {
	snap := &Snapshot{
		Inventory:    map[string]int{},
		Reachability: map[string]ReachabilityStatus{"Menu": StatusReachable},
	}
	ctx := NewSnapshotContext(snap, cavePack(t), nil)
	assert.True(t, ctx.IsLocationAccessible("Doorstep").IsTrue())
	assert.True(t, ctx.IsLocationAccessible("Nowhere").IsUnknown())
}

func TestSnapshotSafeHelpers(t *testing.T) {
	snap := &Snapshot{Inventory: map[string]int{"Key": 4}}
	helpers := map[string]SnapshotHelper{
		"enough_keys": func(ctx rules.Context, args []rules.Value) (rules.Value, error) {
			n, _ := ctx.CountItem("Key").AsNumber()
			return rules.Bool(n >= 3), nil
		},
	}
	ctx := NewSnapshotContext(snap, cavePack(t), helpers)

	v, err := ctx.CallHelper("enough_keys", nil)
	require.NoError(t, err)
	assert.True(t, v.IsTrue())

	// Unregistered helpers cannot be answered from frozen data.
	v, err = ctx.CallHelper("needs_live_graph", nil)
	assert.Error(t, err)
	assert.True(t, v.IsUnknown())

	v, err = ctx.CallStateMethod("has", []rules.Value{rules.String("Key")})
	assert.Error(t, err)
	assert.True(t, v.IsUnknown())
}

func TestResolveEntity(t *testing.T) {
	snap := &Snapshot{
		Inventory:    map[string]int{"Key": 2},
		Reachability: map[string]ReachabilityStatus{"Menu": StatusReachable},
	}
	ctx := NewSnapshotContext(snap, cavePack(t), nil)

	v, ok := ctx.ResolveEntity("Key")
	require.True(t, ok)
	n, _ := v.AsNumber()
	assert.Equal(t, 2.0, n)

	v, ok = ctx.ResolveEntity("Menu")
	require.True(t, ok)
	assert.True(t, v.IsTrue())

	v, ok = ctx.ResolveEntity("Doorstep")
	require.True(t, ok)
	assert.True(t, v.IsTrue())

	_, ok = ctx.ResolveEntity("Triforce")
	assert.False(t, ok)
}

func TestUnknownPropagatesThroughRules(t *testing.T) {
	// or(unreached location, held item) stays answerable: true wins.
	rule, err := rules.Parse([]byte(`{"type":"or","conditions":[
		{"type":"state_method","method":"x","args":[]},
		{"type":"item_check","item":"Lamp"}
	]}`))
	require.NoError(t, err)

	snap := &Snapshot{Inventory: map[string]int{"Lamp": 1}}
	ctx := NewSnapshotContext(snap, cavePack(t), nil)
	assert.True(t, rules.Evaluate(rule, ctx, 0).IsTrue())

	// With the lamp gone the state method's unknown dominates.
	snap.Inventory["Lamp"] = 0
	assert.True(t, rules.Evaluate(rule, ctx, 0).IsUnknown())
}
