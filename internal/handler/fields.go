package handler

import (
	"encoding/json"
	"strconv"
	"strings"
)

type fieldType int

const (
	stringField fieldType = iota
	intField
	floatField
	boolField
)

// field is one typed node property read from the payload. The first key
// present among name and aliases wins; absent keys yield the zero value.
type field struct {
	name    string
	typ     fieldType
	aliases []string
}

func str(name string, aliases ...string) field { return field{name: name, typ: stringField, aliases: aliases} }
func integer(name string, aliases ...string) field {
	return field{name: name, typ: intField, aliases: aliases}
}
func float(name string, aliases ...string) field {
	return field{name: name, typ: floatField, aliases: aliases}
}
func boolean(name string, aliases ...string) field {
	return field{name: name, typ: boolField, aliases: aliases}
}

func (f field) lookup(payload map[string]any) any {
	if v, ok := payload[f.name]; ok && v != nil {
		return v
	}
	for _, a := range f.aliases {
		if v, ok := payload[a]; ok && v != nil {
			return v
		}
	}
	return nil
}

func (f field) value(payload map[string]any) any {
	v := f.lookup(payload)
	switch f.typ {
	case intField:
		return asInt(v)
	case floatField:
		return asFloat(v)
	case boolField:
		return asBool(v)
	default:
		return asString(v)
	}
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func asInt(v any) int64 {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return int64(f)
	case float64:
		return int64(x)
	case float32:
		return int64(x)
	case int:
		return int64(x)
	case int64:
		return x
	case int32:
		return int64(x)
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return int64(f)
		}
	}
	return 0
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case json.Number:
		f, _ := x.Float64()
		return f
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f
	}
	return 0
}

func asBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(x))
		return b
	case json.Number:
		f, _ := x.Float64()
		return f != 0
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	}
	return false
}

// propertyValue converts an arbitrary decoded JSON value into something a
// graph property can hold: scalars pass through, numbers become int64 or
// float64, homogeneous scalar lists are kept, anything else is stored as
// its JSON text.
func propertyValue(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case string, bool, int64, float64:
		return x
	case int:
		return int64(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case []any:
		if list, ok := scalarList(x); ok {
			return list
		}
	}
	return asString(v)
}

func scalarList(xs []any) ([]any, bool) {
	if len(xs) == 0 {
		return nil, false
	}
	out := make([]any, len(xs))
	var kind string
	for i, x := range xs {
		switch x.(type) {
		case []any, map[string]any:
			return nil, false
		}
		pv := propertyValue(x)
		var k string
		switch pv.(type) {
		case string:
			k = "string"
		case bool:
			k = "bool"
		case int64:
			k = "int"
		case float64:
			k = "float"
		default:
			return nil, false
		}
		if kind != "" && kind != k {
			return nil, false
		}
		kind = k
		out[i] = pv
	}
	return out, true
}
