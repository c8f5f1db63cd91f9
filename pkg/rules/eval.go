package rules

import (
	"fmt"
	"log/slog"
)

// Evaluate walks a rule tree against a context and returns a Value. Unknown
// propagates per three-valued logic. Evaluation is pure: the context is
// never mutated. Depth is carried only for debug tracing.
//
// Malformed nodes, missing capabilities, and helper errors never escape:
// they resolve to false in full mode and unknown in snapshot mode.
func Evaluate(n *Node, ctx Context, depth int) Value {
	if n == nil {
		return modeDefault(ctx)
	}

	switch n.Type {
	case "constant", "value":
		return FromLiteral(n.Literal)

	case "name":
		return evalName(n, ctx)

	case "attribute":
		return evalAttribute(n, ctx, depth)

	case "subscript":
		return evalSubscript(n, ctx, depth)

	case "function_call":
		return evalFunctionCall(n, ctx, depth)

	case "and":
		return evalAnd(n.Conditions, ctx, depth)

	case "or":
		return evalOr(n.Conditions, ctx, depth)

	case "not":
		if n.Operand == nil {
			return modeDefault(ctx)
		}
		return Not(Evaluate(n.Operand, ctx, depth+1))

	case "compare", "binary_op":
		return evalBinary(n, ctx, depth)

	case "item_check":
		return ctx.HasItem(n.Item).Truth()

	case "count_check":
		return atLeast(ctx.CountItem(n.Item), n.Count)

	case "group_check":
		return atLeast(ctx.CountGroup(n.Group), n.Count)

	case "setting_check":
		return ctx.Setting(n.Setting).Equal(FromLiteral(n.Literal))

	case "helper":
		args := evalArgs(n.Args, ctx, depth)
		return safeCall(ctx, func() (Value, error) { return ctx.CallHelper(n.Name, args) })

	case "state_method":
		args := evalArgs(n.Args, ctx, depth)
		return safeCall(ctx, func() (Value, error) { return ctx.CallStateMethod(n.Method, args) })

	case "conditional":
		test := Evaluate(n.Test, ctx, depth+1).Truth()
		if test.IsUnknown() {
			return Unknown
		}
		if test.IsTrue() {
			return Evaluate(n.IfTrue, ctx, depth+1)
		}
		return Evaluate(n.IfFalse, ctx, depth+1)

	case "list":
		out := make([]Value, 0, len(n.Items))
		for _, item := range n.Items {
			out = append(out, Evaluate(item, ctx, depth+1))
		}
		return List(out)

	default:
		slog.Debug("unknown rule node type", "type", n.Type, "depth", depth)
		return modeDefault(ctx)
	}
}

// Decide evaluates a rule and coerces the result to the boolean domain.
// With a full context the result is always a definite true or false.
func Decide(n *Node, ctx Context) Value {
	v := Evaluate(n, ctx, 0).Truth()
	if v.IsUnknown() && ctx.Mode() == ModeFull {
		return False
	}
	return v
}

func evalName(n *Node, ctx Context) Value {
	switch Scope(n.Name) {
	case ScopeInventory, ScopeSettings, ScopeState, ScopeHelpers:
		return ScopeValue(Scope(n.Name))
	}
	if v, ok := ctx.ResolveEntity(n.Name); ok {
		return v
	}
	return modeDefault(ctx)
}

func evalAttribute(n *Node, ctx Context, depth int) Value {
	obj := Evaluate(n.Object, ctx, depth+1)
	if obj.IsUnknown() {
		return Unknown
	}
	if scope, ok := obj.AsScope(); ok {
		switch scope {
		case ScopeInventory:
			return ctx.CountItem(n.Attr)
		case ScopeSettings:
			// Attribute access on settings redirects to a settings lookup.
			return ctx.Setting(n.Attr)
		case ScopeHelpers:
			return CallableValue(Callable{Scope: ScopeHelpers, Name: n.Attr})
		case ScopeState:
			return CallableValue(Callable{Scope: ScopeState, Name: n.Attr})
		}
	}
	slog.Debug("attribute access on non-object", "attr", n.Attr, "depth", depth)
	return modeDefault(ctx)
}

func evalSubscript(n *Node, ctx Context, depth int) Value {
	target := Evaluate(n.Target, ctx, depth+1)
	index := Evaluate(n.Index, ctx, depth+1)
	if target.IsUnknown() || index.IsUnknown() {
		return Unknown
	}
	list, ok := target.AsList()
	if !ok {
		return modeDefault(ctx)
	}
	i, ok := index.AsNumber()
	if !ok || i != float64(int(i)) || int(i) < 0 || int(i) >= len(list) {
		return modeDefault(ctx)
	}
	return list[int(i)]
}

// evalFunctionCall resolves the callee to an explicit (receiver, name, args)
// triple. When the callee came from an attribute access the receiver is
// bound as the implicit first argument, matching the method-call semantics
// of the rule notation.
func evalFunctionCall(n *Node, ctx Context, depth int) Value {
	var callee Callable
	var receiver Value
	var haveReceiver bool

	if n.Function != nil && n.Function.Type == "attribute" {
		obj := Evaluate(n.Function.Object, ctx, depth+1)
		if obj.IsUnknown() {
			return Unknown
		}
		if scope, ok := obj.AsScope(); ok {
			callee = Callable{Scope: scope, Name: n.Function.Attr}
		} else {
			receiver, haveReceiver = obj, true
			callee = Callable{Scope: ScopeHelpers, Name: n.Function.Attr}
		}
	} else {
		fn := Evaluate(n.Function, ctx, depth+1)
		if fn.IsUnknown() {
			return Unknown
		}
		c, ok := fn.AsCallable()
		if !ok {
			slog.Debug("call of non-callable value", "value", fn.String(), "depth", depth)
			return modeDefault(ctx)
		}
		callee = c
	}

	args := evalArgs(n.Args, ctx, depth)
	if haveReceiver {
		args = append([]Value{receiver}, args...)
	}

	switch callee.Scope {
	case ScopeState:
		return safeCall(ctx, func() (Value, error) { return ctx.CallStateMethod(callee.Name, args) })
	default:
		return safeCall(ctx, func() (Value, error) { return ctx.CallHelper(callee.Name, args) })
	}
}

// evalAnd short-circuits on the first definite false, discarding any
// unknowns seen before it. An empty conjunction is true.
func evalAnd(conds []*Node, ctx Context, depth int) Value {
	sawUnknown := false
	for _, c := range conds {
		v := Evaluate(c, ctx, depth+1).Truth()
		if v.IsFalse() {
			return False
		}
		if v.IsUnknown() {
			sawUnknown = true
		}
	}
	if sawUnknown {
		return Unknown
	}
	return True
}

// evalOr is the dual: the first definite true wins. An empty disjunction is
// false.
func evalOr(conds []*Node, ctx Context, depth int) Value {
	sawUnknown := false
	for _, c := range conds {
		v := Evaluate(c, ctx, depth+1).Truth()
		if v.IsTrue() {
			return True
		}
		if v.IsUnknown() {
			sawUnknown = true
		}
	}
	if sawUnknown {
		return Unknown
	}
	return False
}

func evalBinary(n *Node, ctx Context, depth int) Value {
	switch n.Op {
	case "AND":
		left := Evaluate(n.Left, ctx, depth+1).Truth()
		if left.IsFalse() {
			return False
		}
		return And(left, Evaluate(n.Right, ctx, depth+1))
	case "OR":
		left := Evaluate(n.Left, ctx, depth+1).Truth()
		if left.IsTrue() {
			return True
		}
		return Or(left, Evaluate(n.Right, ctx, depth+1))
	}

	left := Evaluate(n.Left, ctx, depth+1)
	right := Evaluate(n.Right, ctx, depth+1)
	if left.IsUnknown() || right.IsUnknown() {
		return Unknown
	}

	switch n.Op {
	case "==":
		return left.Equal(right)
	case "!=":
		return Not(left.Equal(right))
	}

	if ls, ok := left.AsString(); ok {
		if rs, ok2 := right.AsString(); ok2 {
			return compareStrings(ls, n.Op, rs, ctx)
		}
	}

	ln, lok := left.AsNumber()
	rn, rok := right.AsNumber()
	if !lok || !rok {
		slog.Debug("operands not comparable", "op", n.Op, "left", left.String(), "right", right.String(), "depth", depth)
		return modeDefault(ctx)
	}

	switch n.Op {
	case ">":
		return Bool(ln > rn)
	case "<":
		return Bool(ln < rn)
	case ">=":
		return Bool(ln >= rn)
	case "<=":
		return Bool(ln <= rn)
	case "+":
		return Number(ln + rn)
	case "-":
		return Number(ln - rn)
	case "*":
		return Number(ln * rn)
	case "/":
		if rn == 0 {
			// Division by zero is unanswerable, not infinite.
			return Unknown
		}
		return Number(ln / rn)
	default:
		slog.Debug("unknown operator", "op", n.Op, "depth", depth)
		return modeDefault(ctx)
	}
}

func compareStrings(a, op, b string, ctx Context) Value {
	switch op {
	case ">":
		return Bool(a > b)
	case "<":
		return Bool(a < b)
	case ">=":
		return Bool(a >= b)
	case "<=":
		return Bool(a <= b)
	case "+":
		return String(a + b)
	default:
		return modeDefault(ctx)
	}
}

func atLeast(count Value, want int) Value {
	if count.IsUnknown() {
		return Unknown
	}
	n, ok := count.AsNumber()
	if !ok {
		return False
	}
	return Bool(n >= float64(want))
}

func evalArgs(args []*Node, ctx Context, depth int) []Value {
	out := make([]Value, 0, len(args))
	for _, a := range args {
		out = append(out, Evaluate(a, ctx, depth+1))
	}
	return out
}

// safeCall invokes a registered function, converting both returned errors
// and panics to the mode default so they can never escape evaluation.
func safeCall(ctx Context, fn func() (Value, error)) (v Value) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("rule function panicked", "panic", fmt.Sprint(r))
			v = modeDefault(ctx)
		}
	}()
	res, err := fn()
	if err != nil {
		slog.Debug("rule function failed", "error", err)
		return modeDefault(ctx)
	}
	if res.IsUnknown() && ctx.Mode() == ModeFull {
		// The authoritative engine must always decide.
		return False
	}
	return res
}
