// Package rules implements the access-rule expression language: a pure,
// side-effect-free boolean/arithmetic tree evaluated against a Context.
// Rules arrive as JSON tagged unions (the "type" field discriminates) and
// evaluate to true, false, or unknown.
package rules

import (
	"encoding/json"
	"fmt"
)

// Node is one node of a rule expression tree. Exactly the fields implied by
// Type are populated; everything else is zero.
type Node struct {
	Type string

	// constant / value
	Literal any

	// name
	Name string

	// attribute
	Object *Node
	Attr   string

	// subscript
	Target *Node
	Index  *Node

	// function_call / helper / state_method
	Function *Node
	Method   string
	Args     []*Node

	// and / or
	Conditions []*Node

	// not
	Operand *Node

	// compare / binary_op
	Left  *Node
	Op    string
	Right *Node

	// item_check / count_check
	Item  string
	Count int

	// group_check
	Group string

	// setting_check (expected value in Literal)
	Setting string

	// conditional
	Test    *Node
	IfTrue  *Node
	IfFalse *Node

	// list
	Items []*Node
}

// rawNode mirrors the wire format with deferred decoding for the
// polymorphic fields.
type rawNode struct {
	Type       string            `json:"type"`
	Value      json.RawMessage   `json:"value"`
	Name       string            `json:"name"`
	Object     *Node             `json:"object"`
	Attr       string            `json:"attr"`
	Index      *Node             `json:"index"`
	Function   *Node             `json:"function"`
	Args       []json.RawMessage `json:"args"`
	Conditions []*Node           `json:"conditions"`
	Operand    *Node             `json:"operand"`
	Left       *Node             `json:"left"`
	Op         string            `json:"op"`
	Right      *Node             `json:"right"`
	Item       string            `json:"item"`
	Count      int               `json:"count"`
	Group      string            `json:"group"`
	Setting    string            `json:"setting"`
	Method     string            `json:"method"`
	Test       *Node             `json:"test"`
	IfTrue     *Node             `json:"if_true"`
	IfFalse    *Node             `json:"if_false"`
}

// UnmarshalJSON decodes the tagged-union wire format. The "value" field is
// polymorphic: a literal for constant nodes, a node for subscript targets,
// and a node array for list nodes.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type == "" {
		return fmt.Errorf("rule node missing type")
	}

	*n = Node{
		Type:       raw.Type,
		Name:       raw.Name,
		Object:     raw.Object,
		Attr:       raw.Attr,
		Index:      raw.Index,
		Function:   raw.Function,
		Conditions: raw.Conditions,
		Operand:    raw.Operand,
		Left:       raw.Left,
		Op:         raw.Op,
		Right:      raw.Right,
		Item:       raw.Item,
		Count:      raw.Count,
		Group:      raw.Group,
		Setting:    raw.Setting,
		Method:     raw.Method,
		Test:       raw.Test,
		IfTrue:     raw.IfTrue,
		IfFalse:    raw.IfFalse,
	}

	switch raw.Type {
	case "constant", "value", "setting_check":
		if len(raw.Value) > 0 {
			var lit any
			if err := json.Unmarshal(raw.Value, &lit); err != nil {
				return fmt.Errorf("decoding %s value: %w", raw.Type, err)
			}
			n.Literal = lit
		}
	case "subscript":
		if len(raw.Value) > 0 {
			var target Node
			if err := json.Unmarshal(raw.Value, &target); err != nil {
				return fmt.Errorf("decoding subscript target: %w", err)
			}
			n.Target = &target
		}
	case "list":
		if len(raw.Value) > 0 {
			var items []*Node
			if err := json.Unmarshal(raw.Value, &items); err != nil {
				return fmt.Errorf("decoding list items: %w", err)
			}
			n.Items = items
		}
	}

	if len(raw.Args) > 0 {
		n.Args = make([]*Node, 0, len(raw.Args))
		for i, a := range raw.Args {
			arg, err := decodeArg(a)
			if err != nil {
				return fmt.Errorf("decoding arg %d of %s: %w", i, raw.Type, err)
			}
			n.Args = append(n.Args, arg)
		}
	}
	return nil
}

// MarshalJSON emits the tagged-union wire format, the inverse of
// UnmarshalJSON. The "value" field carries the literal for constant and
// setting_check nodes, the target node for subscripts, and the item array
// for lists. Only populated fields are written.
func (n *Node) MarshalJSON() ([]byte, error) {
	if n.Type == "" {
		return nil, fmt.Errorf("rule node missing type")
	}
	out := map[string]any{"type": n.Type}

	switch n.Type {
	case "constant", "value", "setting_check":
		out["value"] = n.Literal
	case "subscript":
		if n.Target != nil {
			out["value"] = n.Target
		}
	case "list":
		if n.Items != nil {
			out["value"] = n.Items
		}
	}

	if n.Name != "" {
		out["name"] = n.Name
	}
	if n.Object != nil {
		out["object"] = n.Object
	}
	if n.Attr != "" {
		out["attr"] = n.Attr
	}
	if n.Index != nil {
		out["index"] = n.Index
	}
	if n.Function != nil {
		out["function"] = n.Function
	}
	if n.Args != nil {
		out["args"] = n.Args
	}
	if n.Conditions != nil {
		out["conditions"] = n.Conditions
	}
	if n.Operand != nil {
		out["operand"] = n.Operand
	}
	if n.Left != nil {
		out["left"] = n.Left
	}
	if n.Op != "" {
		out["op"] = n.Op
	}
	if n.Right != nil {
		out["right"] = n.Right
	}
	if n.Item != "" {
		out["item"] = n.Item
	}
	if n.Count != 0 {
		out["count"] = n.Count
	}
	if n.Group != "" {
		out["group"] = n.Group
	}
	if n.Setting != "" {
		out["setting"] = n.Setting
	}
	if n.Method != "" {
		out["method"] = n.Method
	}
	if n.Test != nil {
		out["test"] = n.Test
	}
	if n.IfTrue != nil {
		out["if_true"] = n.IfTrue
	}
	if n.IfFalse != nil {
		out["if_false"] = n.IfFalse
	}
	return json.Marshal(out)
}

// decodeArg accepts the three shapes an argument can take on the wire: a
// {value: ...} wrapper (function_call), a full node object, or a bare
// literal (treated as a constant).
func decodeArg(data json.RawMessage) (*Node, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err == nil {
		if _, ok := probe["type"]; ok {
			var node Node
			if err := json.Unmarshal(data, &node); err != nil {
				return nil, err
			}
			return &node, nil
		}
		if inner, ok := probe["value"]; ok {
			return decodeArg(inner)
		}
		return nil, fmt.Errorf("argument object has neither type nor value")
	}
	var lit any
	if err := json.Unmarshal(data, &lit); err != nil {
		return nil, err
	}
	return &Node{Type: "constant", Literal: lit}, nil
}

// Parse decodes a single rule tree from JSON.
func Parse(data []byte) (*Node, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Walk visits n and all of its descendants in depth-first order. It is used
// at load time for referential checks (e.g. rejecting unregistered helper
// names before any evaluation happens).
func Walk(n *Node, visit func(*Node)) {
	if n == nil {
		return
	}
	visit(n)
	for _, c := range n.children() {
		Walk(c, visit)
	}
}

func (n *Node) children() []*Node {
	var out []*Node
	add := func(c *Node) {
		if c != nil {
			out = append(out, c)
		}
	}
	add(n.Object)
	add(n.Target)
	add(n.Index)
	add(n.Function)
	add(n.Operand)
	add(n.Left)
	add(n.Right)
	add(n.Test)
	add(n.IfTrue)
	add(n.IfFalse)
	out = append(out, n.Conditions...)
	out = append(out, n.Args...)
	out = append(out, n.Items...)
	return out
}
