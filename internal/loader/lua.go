package loader

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/lockpick/tracker/internal/engine"
	"github.com/lockpick/tracker/pkg/rules"
)

// luaEnv owns the sandboxed VM for one rule pack's helper scripts. The
// engine calls helpers from its single goroutine, so the VM needs no
// locking; the current evaluation context is swapped in per call.
type luaEnv struct {
	state *lua.LState
	ctx   rules.Context
}

// RegisterLuaHelpers executes a helpers.lua script and registers every
// function it declares via `helper(name, fn)` into the registry. Returns
// the number of helpers registered.
//
// Helper scripts run in a sandbox: only the base, table, string and math
// libraries are open, and file/load primitives are removed. Each helper
// receives a read-only state table (has, count, flag, setting, can_reach)
// followed by the rule's evaluated arguments.
func RegisterLuaHelpers(reg *engine.Registry, path string) (int, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibs(L)
	sandbox(L)

	env := &luaEnv{state: L}
	count := 0

	L.SetGlobal("helper", L.NewFunction(func(ls *lua.LState) int {
		name := ls.CheckString(1)
		fn := ls.CheckFunction(2)
		reg.RegisterHelper(name, env.makeHelper(fn))
		count++
		return 0
	}))

	if err := L.DoFile(path); err != nil {
		L.Close()
		return 0, fmt.Errorf("executing %s: %w", path, err)
	}
	return count, nil
}

func (env *luaEnv) makeHelper(fn *lua.LFunction) engine.HelperFunc {
	return func(ctx rules.Context, args []rules.Value) (rules.Value, error) {
		env.ctx = ctx
		defer func() { env.ctx = nil }()

		L := env.state
		callArgs := make([]lua.LValue, 0, len(args)+1)
		callArgs = append(callArgs, env.stateTable())
		for _, a := range args {
			callArgs = append(callArgs, toLua(L, a))
		}

		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, callArgs...); err != nil {
			return rules.False, fmt.Errorf("lua helper: %w", err)
		}
		ret := L.Get(-1)
		L.Pop(1)
		return fromLua(ret), nil
	}
}

// stateTable builds the read-only API helpers use to query the context.
func (env *luaEnv) stateTable() *lua.LTable {
	L := env.state
	tbl := L.NewTable()

	query := func(fn func(string) rules.Value) *lua.LFunction {
		return L.NewFunction(func(ls *lua.LState) int {
			name := ls.CheckString(1)
			if env.ctx == nil {
				ls.Push(lua.LNil)
				return 1
			}
			ls.Push(toLua(ls, fn(name)))
			return 1
		})
	}

	tbl.RawSetString("has", query(func(n string) rules.Value { return env.ctx.HasItem(n) }))
	tbl.RawSetString("count", query(func(n string) rules.Value { return env.ctx.CountItem(n) }))
	tbl.RawSetString("flag", query(func(n string) rules.Value { return env.ctx.HasFlag(n) }))
	tbl.RawSetString("setting", query(func(n string) rules.Value { return env.ctx.Setting(n) }))
	tbl.RawSetString("can_reach", query(func(n string) rules.Value { return env.ctx.IsRegionReachable(n) }))
	return tbl
}

func toLua(L *lua.LState, v rules.Value) lua.LValue {
	if b, ok := v.AsBool(); ok {
		return lua.LBool(b)
	}
	if n, ok := v.AsNumber(); ok {
		return lua.LNumber(n)
	}
	if s, ok := v.AsString(); ok {
		return lua.LString(s)
	}
	if list, ok := v.AsList(); ok {
		tbl := L.NewTable()
		for i, e := range list {
			tbl.RawSetInt(i+1, toLua(L, e))
		}
		return tbl
	}
	// Unknown crosses into Lua as nil.
	return lua.LNil
}

// fromLua maps a helper's return value back into the rule domain. Lua nil
// means the helper could not decide; the evaluator applies the mode default.
func fromLua(v lua.LValue) rules.Value {
	switch t := v.(type) {
	case lua.LBool:
		return rules.Bool(bool(t))
	case lua.LNumber:
		return rules.Number(float64(t))
	case lua.LString:
		return rules.String(string(t))
	case *lua.LTable:
		var out []rules.Value
		t.ForEach(func(_, e lua.LValue) {
			out = append(out, fromLua(e))
		})
		return rules.List(out)
	default:
		return rules.Unknown
	}
}

// openSafeLibs opens only the safe subset of Lua standard libraries.
func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// sandbox removes file, load and raw-access primitives from the VM.
func sandbox(L *lua.LState) {
	dangerous := []string{
		"dofile", "loadfile", "load", "loadstring",
		"rawset", "rawget", "rawequal",
		"collectgarbage",
	}
	for _, name := range dangerous {
		L.SetGlobal(name, lua.LNil)
	}
}
