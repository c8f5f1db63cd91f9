package rules

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestParseTaggedUnion(t *testing.T) {
	src := `{
		"type": "and",
		"conditions": [
			{"type": "item_check", "item": "Lamp"},
			{"type": "or", "conditions": [
				{"type": "count_check", "item": "Key", "count": 3},
				{"type": "setting_check", "setting": "glitches", "value": true}
			]},
			{"type": "not", "operand": {"type": "helper", "name": "in_dark_world", "args": []}}
		]
	}`

	n, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if n.Type != "and" || len(n.Conditions) != 3 {
		t.Fatalf("got type %s with %d conditions", n.Type, len(n.Conditions))
	}
	if n.Conditions[0].Item != "Lamp" {
		t.Errorf("item_check item = %s", n.Conditions[0].Item)
	}
	or := n.Conditions[1]
	if or.Conditions[0].Count != 3 {
		t.Errorf("count_check count = %d", or.Conditions[0].Count)
	}
	if v, ok := or.Conditions[1].Literal.(bool); !ok || !v {
		t.Errorf("setting_check literal = %v", or.Conditions[1].Literal)
	}
	if n.Conditions[2].Operand.Name != "in_dark_world" {
		t.Errorf("helper name = %s", n.Conditions[2].Operand.Name)
	}
}

func TestParseRejectsMissingType(t *testing.T) {
	if _, err := Parse([]byte(`{"item":"Lamp"}`)); err == nil {
		t.Fatal("expected error for node without type")
	}
}

func TestParsePolymorphicValueField(t *testing.T) {
	// "value" is a literal on constants, a node on subscripts, and a node
	// array on lists.
	c, err := Parse([]byte(`{"type":"constant","value":42}`))
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := c.Literal.(float64); !ok || n != 42 {
		t.Errorf("constant literal = %v", c.Literal)
	}

	s, err := Parse([]byte(`{"type":"subscript","value":{"type":"name","name":"medallions"},"index":{"type":"constant","value":0}}`))
	if err != nil {
		t.Fatal(err)
	}
	if s.Target == nil || s.Target.Name != "medallions" {
		t.Errorf("subscript target = %+v", s.Target)
	}

	l, err := Parse([]byte(`{"type":"list","value":[{"type":"constant","value":1},{"type":"constant","value":2}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(l.Items) != 2 {
		t.Errorf("list items = %d", len(l.Items))
	}
}

func TestParseFunctionCallArgShapes(t *testing.T) {
	src := `{
		"type": "function_call",
		"function": {"type": "attribute", "object": {"type": "name", "name": "state"}, "attr": "has"},
		"args": [{"value": "Hookshot"}, 5, {"type": "item_check", "item": "Bow"}]
	}`
	n, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(n.Args) != 3 {
		t.Fatalf("got %d args", len(n.Args))
	}
	if n.Args[0].Type != "constant" || n.Args[0].Literal != "Hookshot" {
		t.Errorf("wrapped literal arg = %+v", n.Args[0])
	}
	if n.Args[1].Type != "constant" || n.Args[1].Literal != float64(5) {
		t.Errorf("bare literal arg = %+v", n.Args[1])
	}
	if n.Args[2].Type != "item_check" {
		t.Errorf("node arg = %+v", n.Args[2])
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	// Every node family must survive marshal then parse unchanged: rule
	// trees cross the transport inside evaluateRuleRemote queries and the
	// rulesLoadedConfirmation push.
	sources := []string{
		`{"type":"constant","value":true}`,
		`{"type":"constant","value":null}`,
		`{"type":"value","value":"east"}`,
		`{"type":"name","name":"medallions"}`,
		`{"type":"attribute","object":{"type":"name","name":"state"},"attr":"has"}`,
		`{"type":"subscript","value":{"type":"name","name":"medallions"},"index":{"type":"constant","value":0}}`,
		`{"type":"function_call","function":{"type":"attribute","object":{"type":"name","name":"state"},"attr":"has"},"args":[{"value":"Hookshot"},5,{"type":"item_check","item":"Bow"}]}`,
		`{"type":"helper","name":"can_cross","args":[{"value":1}]}`,
		`{"type":"state_method","method":"count","args":[{"value":"Key"}]}`,
		`{"type":"and","conditions":[{"type":"item_check","item":"Lamp"},{"type":"not","operand":{"type":"constant","value":false}}]}`,
		`{"type":"or","conditions":[]}`,
		`{"type":"compare","left":{"type":"constant","value":3},"op":"<=","right":{"type":"constant","value":5}}`,
		`{"type":"item_check","item":"Lamp"}`,
		`{"type":"count_check","item":"Key","count":3}`,
		`{"type":"group_check","group":"gems","count":2}`,
		`{"type":"setting_check","setting":"glitches","value":true}`,
		`{"type":"conditional","test":{"type":"constant","value":true},"if_true":{"type":"constant","value":1},"if_false":{"type":"constant","value":2}}`,
		`{"type":"list","value":[{"type":"constant","value":1},{"type":"constant","value":2}]}`,
	}

	for _, src := range sources {
		orig, err := Parse([]byte(src))
		if err != nil {
			t.Fatalf("parsing %s: %v", src, err)
		}
		data, err := json.Marshal(orig)
		if err != nil {
			t.Fatalf("marshaling %s: %v", src, err)
		}
		back, err := Parse(data)
		if err != nil {
			t.Fatalf("re-parsing %s (marshaled as %s): %v", src, data, err)
		}
		if !reflect.DeepEqual(orig, back) {
			t.Errorf("round trip changed %s:\n marshaled %s\n got %+v\n want %+v", src, data, back, orig)
		}
	}
}

func TestMarshalEmitsWireFieldNames(t *testing.T) {
	n := &Node{Type: "setting_check", Setting: "glitches", Literal: true}
	data, err := json.Marshal(n)
	if err != nil {
		t.Fatal(err)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatal(err)
	}
	if obj["setting"] != "glitches" || obj["value"] != true {
		t.Errorf("marshaled fields = %v", obj)
	}
	if _, ok := obj["Literal"]; ok {
		t.Error("Go field names leaked onto the wire")
	}
}

func TestMarshalRejectsMissingType(t *testing.T) {
	if _, err := json.Marshal(&Node{Item: "Lamp"}); err == nil {
		t.Fatal("expected error for node without type")
	}
}

func TestWalkVisitsAllNodes(t *testing.T) {
	src := `{
		"type": "or",
		"conditions": [
			{"type": "helper", "name": "a", "args": [{"type": "helper", "name": "b", "args": []}]},
			{"type": "conditional",
				"test": {"type": "helper", "name": "c", "args": []},
				"if_true": {"type": "constant", "value": 1},
				"if_false": {"type": "constant", "value": 2}}
		]
	}`
	n, err := Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	var helpers []string
	Walk(n, func(n *Node) {
		if n.Type == "helper" {
			helpers = append(helpers, n.Name)
		}
	})
	if len(helpers) != 3 {
		t.Errorf("walk found helpers %v, want a, b, c", helpers)
	}
}
