package condition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind tags the variant held by a Value.
type Kind string

const (
	KindString    Kind = "string"
	KindNumber    Kind = "number"
	KindBool      Kind = "bool"
	KindList      Kind = "list"
	KindTimeRange Kind = "time_range"
)

// TimeRange is a time-of-day window in "HH:MM" form. Start after End spans
// midnight.
type TimeRange struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// Value is the typed operand of a condition. Exactly one variant is set,
// selected by Kind.
type Value struct {
	Kind  Kind
	Str   string
	Num   float64
	Bool  bool
	List  []Value
	Range TimeRange
}

func String(s string) Value { return Value{Kind: KindString, Str: s} }
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }
func List(items ...Value) Value { return Value{Kind: KindList, List: items} }
func Range(start, end string) Value {
	return Value{Kind: KindTimeRange, Range: TimeRange{Start: start, End: end}}
}

// Strings is shorthand for a list of string values.
func Strings(items ...string) Value {
	vs := make([]Value, len(items))
	for i, s := range items {
		vs[i] = String(s)
	}
	return List(vs...)
}

// IsScalar reports whether v is a string, number or bool.
func (v Value) IsScalar() bool {
	return v.Kind == KindString || v.Kind == KindNumber || v.Kind == KindBool
}

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindList:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindTimeRange:
		return v.Range.Start + "-" + v.Range.End
	default:
		return ""
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindList:
		items := v.List
		if items == nil {
			items = []Value{}
		}
		return json.Marshal(items)
	case KindTimeRange:
		return json.Marshal(v.Range)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '[':
		var items []Value
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		for _, item := range items {
			if !item.IsScalar() {
				return fmt.Errorf("list values must hold scalars, got %s", item.Kind)
			}
		}
		*v = List(items...)
	case '{':
		var r TimeRange
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&r); err != nil {
			return fmt.Errorf("object values must be time ranges: %w", err)
		}
		*v = Value{Kind: KindTimeRange, Range: r}
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("unsupported condition value %s", data)
		}
		*v = Number(n)
	}
	return nil
}

func (v Value) MarshalYAML() (any, error) {
	switch v.Kind {
	case KindString:
		return v.Str, nil
	case KindNumber:
		return v.Num, nil
	case KindBool:
		return v.Bool, nil
	case KindList:
		return v.List, nil
	case KindTimeRange:
		return v.Range, nil
	default:
		return nil, nil
	}
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		switch node.Tag {
		case "!!bool":
			var b bool
			if err := node.Decode(&b); err != nil {
				return err
			}
			*v = Bool(b)
		case "!!int", "!!float":
			var n float64
			if err := node.Decode(&n); err != nil {
				return err
			}
			*v = Number(n)
		case "!!null":
			*v = Value{}
		default:
			*v = String(node.Value)
		}
	case yaml.SequenceNode:
		items := make([]Value, 0, len(node.Content))
		for _, child := range node.Content {
			var item Value
			if err := child.Decode(&item); err != nil {
				return err
			}
			if !item.IsScalar() {
				return fmt.Errorf("line %d: list values must hold scalars", child.Line)
			}
			items = append(items, item)
		}
		*v = List(items...)
	case yaml.MappingNode:
		var r TimeRange
		if err := node.Decode(&r); err != nil {
			return err
		}
		*v = Value{Kind: KindTimeRange, Range: r}
	default:
		return fmt.Errorf("line %d: unsupported condition value", node.Line)
	}
	return nil
}
