package serializer

import (
	"encoding/json"
	"fmt"
)

// Kind tags the wire-representable value kinds. The set is closed:
// host types outside it must be mapped onto these at the boundary by
// whatever codec the embedder layers on top.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindObject
)

// Value is the generic structured form arguments and results travel
// in. It mirrors the JSON data model without reflection over host
// types.
type Value struct {
	Kind   Kind
	Bool   bool
	Number float64
	Str    string
	List   []Value
	Object map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// Bool wraps a boolean.
func Bool(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// Number wraps a number.
func Number(v float64) Value { return Value{Kind: KindNumber, Number: v} }

// String wraps a string.
func String(v string) Value { return Value{Kind: KindString, Str: v} }

// List wraps a list of values.
func List(vs ...Value) Value { return Value{Kind: KindList, List: vs} }

// Encode renders the value as raw JSON for an envelope.
func (v Value) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(v.toAny())
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return data, nil
}

func (v Value) toAny() any {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Number
	case KindString:
		return v.Str
	case KindList:
		out := make([]any, len(v.List))
		for i, e := range v.List {
			out[i] = e.toAny()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.Object))
		for k, e := range v.Object {
			out[k] = e.toAny()
		}
		return out
	default:
		return nil
	}
}

// Decode parses raw envelope JSON into a Value.
func Decode(raw json.RawMessage) (Value, error) {
	if len(raw) == 0 {
		return Null(), nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Value{}, fmt.Errorf("decode value: %w", err)
	}
	return fromAny(v), nil
}

func fromAny(v any) Value {
	switch t := v.(type) {
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case string:
		return String(t)
	case []any:
		list := make([]Value, len(t))
		for i, e := range t {
			list[i] = fromAny(e)
		}
		return Value{Kind: KindList, List: list}
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, e := range t {
			obj[k] = fromAny(e)
		}
		return Value{Kind: KindObject, Object: obj}
	default:
		return Null()
	}
}
