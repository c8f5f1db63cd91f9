package rules

// Mode distinguishes the two closed Context implementations. Full contexts
// are authoritative and always produce a definite answer; snapshot contexts
// answer from a possibly-incomplete point-in-time copy and may return
// Unknown.
type Mode int

const (
	ModeFull Mode = iota
	ModeSnapshot
)

// Context is the capability surface the evaluator queries. There are exactly
// two implementations: the engine's full context and the read-only snapshot
// context used by foreground consumers.
type Context interface {
	Mode() Mode

	HasItem(name string) Value
	CountItem(name string) Value
	CountGroup(name string) Value
	HasFlag(name string) Value
	Setting(name string) Value

	IsRegionReachable(name string) Value
	IsLocationAccessible(name string) Value

	// CallHelper and CallStateMethod invoke pre-registered functions.
	// Errors never escape the evaluator: they resolve to the mode default.
	CallHelper(name string, args []Value) (Value, error)
	CallStateMethod(name string, args []Value) (Value, error)

	// ResolveEntity resolves a bare name that is not one of the reserved
	// scopes (inventory, settings, state, helpers): item names, location
	// names, region names. The second result is false if the name is not
	// known to the context.
	ResolveEntity(name string) (Value, bool)
}

// modeDefault is the fail-closed result for hard evaluation failures: the
// authoritative engine must always decide, the snapshot side may admit it
// does not know.
func modeDefault(ctx Context) Value {
	if ctx.Mode() == ModeFull {
		return False
	}
	return Unknown
}
