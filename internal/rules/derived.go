package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// RequiredFields builds a Rule failing when any of keys is absent from
// decision.Payload.
func RequiredFields(id string, priority int, keys ...string) Rule {
	return Rule{
		ID:       id,
		Priority: priority,
		Condition: func(d Decision) bool {
			for _, k := range keys {
				if _, ok := d.Payload[k]; !ok {
					return false
				}
			}
			return true
		},
		ErrorMessage: fmt.Sprintf("rule %s violated: missing required field(s) %s", id, strings.Join(keys, ", ")),
	}
}

// FieldKind classifies a payload value's runtime type for FieldTypes.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindBool   FieldKind = "bool"
	KindMap    FieldKind = "map"
	KindSlice  FieldKind = "slice"
)

func classify(v any) FieldKind {
	switch v.(type) {
	case string:
		return KindString
	case bool:
		return KindBool
	case float64, float32, int, int32, int64, uint, uint32, uint64:
		return KindNumber
	case map[string]any:
		return KindMap
	case []any:
		return KindSlice
	default:
		return ""
	}
}

// lookupDotted resolves a dotted path (e.g. "node.config.timeout") against
// nested map[string]any values, the shape payload fields take once decoded
// from JSON.
func lookupDotted(payload map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = payload
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// FieldTypes builds a Rule failing when any named field (dotted paths
// supported for nested access) is present but does not classify as the
// expected kind. Absent fields are not a type violation — pair with
// RequiredFields to enforce presence.
func FieldTypes(id string, priority int, expected map[string]FieldKind) Rule {
	return Rule{
		ID:       id,
		Priority: priority,
		Condition: func(d Decision) bool {
			for path, kind := range expected {
				v, ok := lookupDotted(d.Payload, path)
				if !ok {
					continue
				}
				if classify(v) != kind {
					return false
				}
			}
			return true
		},
		ErrorMessage: fmt.Sprintf("rule %s violated: payload field type mismatch", id),
	}
}

// NumericRange builds a Rule failing when a numeric field, if present, is
// outside [min, max].
func NumericRange(id string, priority int, field string, min, max float64) Rule {
	return Rule{
		ID:       id,
		Priority: priority,
		Condition: func(d Decision) bool {
			v, ok := lookupDotted(d.Payload, field)
			if !ok {
				return true
			}
			n, ok := toFloat(v)
			if !ok {
				return false
			}
			return n >= min && n <= max
		},
		ErrorMessage: fmt.Sprintf("rule %s violated: %s out of range [%v, %v]", id, field, min, max),
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// AllowedValues builds a Rule failing when a field, if present, is not one
// of allowed (compared as strings via fmt.Sprint, so numeric and string
// enums both work).
func AllowedValues(id string, priority int, field string, allowed ...any) Rule {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[fmt.Sprint(a)] = struct{}{}
	}
	return Rule{
		ID:       id,
		Priority: priority,
		Condition: func(d Decision) bool {
			v, ok := lookupDotted(d.Payload, field)
			if !ok {
				return true
			}
			_, allowed := set[fmt.Sprint(v)]
			return allowed
		},
		ErrorMessage: fmt.Sprintf("rule %s violated: %s not in allowed set", id, field),
	}
}
