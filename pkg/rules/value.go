package rules

import "fmt"

// ValueKind discriminates the variants of Value.
type ValueKind int

const (
	KindUnknown ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindCallable
	KindScope
)

// Scope identifies one of the named top-level objects a rule can reference.
type Scope string

const (
	ScopeInventory Scope = "inventory"
	ScopeSettings  Scope = "settings"
	ScopeState     Scope = "state"
	ScopeHelpers   Scope = "helpers"
)

// Callable is a resolved reference to a registered helper or state method.
// The receiver scope is carried explicitly so function_call evaluation does
// not need to re-walk the attribute chain that produced it.
type Callable struct {
	Scope Scope
	Name  string
}

// Value is the result of evaluating a rule node. Unknown is a first-class
// member: it means "cannot be determined from the information available",
// which is distinct from false.
type Value struct {
	kind ValueKind
	b    bool
	n    float64
	s    string
	list []Value
	call Callable
	sc   Scope
}

// Unknown is the third truth value.
var Unknown = Value{kind: KindUnknown}

// True and False are the definite boolean values.
var (
	True  = Value{kind: KindBool, b: true}
	False = Value{kind: KindBool, b: false}
)

func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func List(vs []Value) Value { return Value{kind: KindList, list: vs} }

func CallableValue(c Callable) Value { return Value{kind: KindCallable, call: c} }

func ScopeValue(s Scope) Value { return Value{kind: KindScope, sc: s} }

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsUnknown() bool { return v.kind == KindUnknown }

// AsBool returns the boolean payload. The second result is false when the
// value is not a definite boolean.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsNumber returns the numeric payload, coercing booleans (true=1) the way
// the rule notation's source semantics do. The second result is false when
// no numeric interpretation exists.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.n, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

func (v Value) AsCallable() (Callable, bool) {
	if v.kind != KindCallable {
		return Callable{}, false
	}
	return v.call, true
}

func (v Value) AsScope() (Scope, bool) {
	if v.kind != KindScope {
		return "", false
	}
	return v.sc, true
}

// Truth coerces a value to the three-valued boolean domain: booleans pass
// through, numbers are true when nonzero, strings when nonempty, lists when
// nonempty, and unknown stays unknown.
func (v Value) Truth() Value {
	switch v.kind {
	case KindUnknown:
		return Unknown
	case KindBool:
		return v
	case KindNumber:
		return Bool(v.n != 0)
	case KindString:
		return Bool(v.s != "")
	case KindList:
		return Bool(len(v.list) > 0)
	default:
		// Scope and callable references are truthy: they resolved.
		return True
	}
}

// Equal reports three-valued equality. Values of different kinds compare
// unequal except for the bool/number coercion.
func (v Value) Equal(o Value) Value {
	if v.kind == KindUnknown || o.kind == KindUnknown {
		return Unknown
	}
	if a, ok := v.AsNumber(); ok {
		if b, ok2 := o.AsNumber(); ok2 {
			return Bool(a == b)
		}
	}
	if a, ok := v.AsString(); ok {
		if b, ok2 := o.AsString(); ok2 {
			return Bool(a == b)
		}
	}
	if v.kind == KindBool && o.kind == KindBool {
		return Bool(v.b == o.b)
	}
	return False
}

// FromLiteral converts a decoded JSON literal into a Value.
func FromLiteral(x any) Value {
	switch t := x.(type) {
	case nil:
		return False
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case string:
		return String(t)
	case []any:
		vs := make([]Value, 0, len(t))
		for _, e := range t {
			vs = append(vs, FromLiteral(e))
		}
		return List(vs)
	default:
		return Unknown
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindUnknown:
		return "unknown"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindNumber:
		return fmt.Sprintf("%g", v.n)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindList:
		return fmt.Sprintf("list(%d)", len(v.list))
	case KindCallable:
		return fmt.Sprintf("callable(%s.%s)", v.call.Scope, v.call.Name)
	case KindScope:
		return fmt.Sprintf("scope(%s)", v.sc)
	default:
		return "invalid"
	}
}

// IsTrue reports whether the value is the definite boolean true.
func (v Value) IsTrue() bool { return v.kind == KindBool && v.b }

// IsFalse reports whether the value is the definite boolean false.
func (v Value) IsFalse() bool { return v.kind == KindBool && !v.b }

// And combines two three-valued booleans: false dominates, then unknown.
func And(a, b Value) Value {
	at, bt := a.Truth(), b.Truth()
	if at.IsFalse() || bt.IsFalse() {
		return False
	}
	if at.IsUnknown() || bt.IsUnknown() {
		return Unknown
	}
	return True
}

// Or combines two three-valued booleans: true dominates, then unknown.
func Or(a, b Value) Value {
	at, bt := a.Truth(), b.Truth()
	if at.IsTrue() || bt.IsTrue() {
		return True
	}
	if at.IsUnknown() || bt.IsUnknown() {
		return Unknown
	}
	return False
}

// Not negates a three-valued boolean; unknown stays unknown.
func Not(a Value) Value {
	t := a.Truth()
	if t.IsUnknown() {
		return Unknown
	}
	return Bool(!t.b)
}
