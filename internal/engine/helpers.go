package engine

import (
	"fmt"

	"github.com/lockpick/tracker/pkg/rules"
)

// HelperFunc is a pre-registered rule function. Helpers are pure with
// respect to the context: they may query it but never mutate state.
type HelperFunc func(ctx rules.Context, args []rules.Value) (rules.Value, error)

// Registry is the name -> function table for a game module's helpers and
// state methods. It is built once per rule-pack load; access rules that name
// an unregistered helper are rejected at load time rather than failing
// closed at evaluation time.
type Registry struct {
	helpers      map[string]HelperFunc
	stateMethods map[string]HelperFunc
}

// NewRegistry returns a registry preloaded with the builtin state methods
// every game module gets for free.
func NewRegistry() *Registry {
	r := &Registry{
		helpers:      map[string]HelperFunc{},
		stateMethods: map[string]HelperFunc{},
	}
	r.registerBuiltins()
	return r
}

// RegisterHelper adds a helper. Re-registering a name overwrites it, which
// lets packs shadow builtins.
func (r *Registry) RegisterHelper(name string, fn HelperFunc) {
	r.helpers[name] = fn
}

// RegisterStateMethod adds a state method.
func (r *Registry) RegisterStateMethod(name string, fn HelperFunc) {
	r.stateMethods[name] = fn
}

func (r *Registry) Helper(name string) (HelperFunc, bool) {
	fn, ok := r.helpers[name]
	return fn, ok
}

func (r *Registry) StateMethod(name string) (HelperFunc, bool) {
	fn, ok := r.stateMethods[name]
	return fn, ok
}

// HelperNames returns the set of registered helper names for load-time
// validation.
func (r *Registry) HelperNames() map[string]bool {
	out := make(map[string]bool, len(r.helpers))
	for name := range r.helpers {
		out[name] = true
	}
	return out
}

// registerBuiltins installs the state methods shared by all game modules.
// They mirror the context capabilities so rules written in method style
// ("state.has(...)") behave identically to the shortcut node types.
func (r *Registry) registerBuiltins() {
	r.stateMethods["has"] = func(ctx rules.Context, args []rules.Value) (rules.Value, error) {
		name, err := oneStringArg("has", args)
		if err != nil {
			return rules.False, err
		}
		return ctx.HasItem(name), nil
	}
	r.stateMethods["count"] = func(ctx rules.Context, args []rules.Value) (rules.Value, error) {
		name, err := oneStringArg("count", args)
		if err != nil {
			return rules.False, err
		}
		return ctx.CountItem(name), nil
	}
	r.stateMethods["has_flag"] = func(ctx rules.Context, args []rules.Value) (rules.Value, error) {
		name, err := oneStringArg("has_flag", args)
		if err != nil {
			return rules.False, err
		}
		return ctx.HasFlag(name), nil
	}
	r.stateMethods["can_reach"] = func(ctx rules.Context, args []rules.Value) (rules.Value, error) {
		name, err := oneStringArg("can_reach", args)
		if err != nil {
			return rules.False, err
		}
		return ctx.IsRegionReachable(name), nil
	}
	r.stateMethods["can_check"] = func(ctx rules.Context, args []rules.Value) (rules.Value, error) {
		name, err := oneStringArg("can_check", args)
		if err != nil {
			return rules.False, err
		}
		return ctx.IsLocationAccessible(name), nil
	}
}

func oneStringArg(method string, args []rules.Value) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s expects 1 argument, got %d", method, len(args))
	}
	s, ok := args[0].AsString()
	if !ok {
		return "", fmt.Errorf("%s expects a string argument", method)
	}
	return s, nil
}
