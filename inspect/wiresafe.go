package inspect

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/inmarsat-enterprise/fieldedge-utilities/propname"
)

// Placeholder replaces leaf values that cannot be represented on the wire.
// Substituting rather than raising is deliberate: a single bad field must not
// abort an entire status payload.
const Placeholder = "<non-serializable>"

// WireSafe recursively converts an arbitrary value tree into nested maps,
// slices and primitives that encode cleanly as JSON. Map keys are wire-cased
// when wireCase is set, except ALL_CAPS keys when skipCaps is set and
// non-string keys, which pass through via their string form. Structs without
// a native JSON form are expanded over their exported fields.
func WireSafe(value any, wireCase, skipCaps bool) any {
	return wireSafe(reflect.ValueOf(value), wireCase, skipCaps, 0)
}

// maxDepth guards against cyclic value trees.
const maxDepth = 32

func wireSafe(v reflect.Value, wireCase, skipCaps bool, depth int) any {
	if depth > maxDepth {
		return Placeholder
	}
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return wireSafe(v.Elem(), wireCase, skipCaps, depth+1)

	case reflect.Map:
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[wireKey(iter.Key(), wireCase, skipCaps)] =
				wireSafe(iter.Value(), wireCase, skipCaps, depth+1)
		}
		return out

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			// []byte keeps its native JSON encoding (base64).
			return v.Bytes()
		}
		out := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			out = append(out, wireSafe(v.Index(i), wireCase, skipCaps, depth+1))
		}
		return out

	case reflect.Struct:
		if native, ok := nativeForm(v); ok {
			return native
		}
		return expandStruct(v, wireCase, skipCaps, depth)

	case reflect.Func, reflect.Chan, reflect.UnsafePointer,
		reflect.Complex64, reflect.Complex128:
		return Placeholder

	default:
		val := v.Interface()
		if _, err := json.Marshal(val); err != nil {
			return Placeholder
		}
		return val
	}
}

// nativeForm returns struct values that already have a canonical JSON
// representation, such as time.Time or anything implementing json.Marshaler.
func nativeForm(v reflect.Value) (any, bool) {
	if t, ok := v.Interface().(time.Time); ok {
		return t, true
	}
	if _, ok := v.Interface().(json.Marshaler); ok {
		if _, err := json.Marshal(v.Interface()); err == nil {
			return v.Interface(), true
		}
		return Placeholder, true
	}
	return nil, false
}

// expandStruct converts a struct to a map over its exported fields, mirroring
// the public-attribute expansion applied to nested service objects.
func expandStruct(v reflect.Value, wireCase, skipCaps bool, depth int) any {
	t := v.Type()
	out := make(map[string]any)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		key := field.Name
		if wireCase && !(skipCaps && propname.IsConstantCase(key)) {
			// Exported Go field names are already medial-capital; lowering
			// the first rune yields the wire form directly.
			key = decapitalize(key)
		}
		out[key] = wireSafe(v.Field(i), wireCase, skipCaps, depth+1)
	}
	return out
}

func wireKey(key reflect.Value, wireCase, skipCaps bool) string {
	for key.Kind() == reflect.Interface || key.Kind() == reflect.Pointer {
		if key.IsNil() {
			return ""
		}
		key = key.Elem()
	}
	if key.Kind() != reflect.String {
		return fmt.Sprint(key.Interface())
	}
	s := key.String()
	if !wireCase || (skipCaps && propname.IsConstantCase(s)) {
		return s
	}
	converted, err := propname.ToWire(s, skipCaps)
	if err != nil {
		slog.Debug("wire key conversion failed", "key", s, "error", err)
		return s
	}
	return converted
}

// decapitalize lowers the first rune of an exported field name so it converts
// like an internal name.
func decapitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if r[0] >= 'A' && r[0] <= 'Z' {
		r[0] += 'a' - 'A'
	}
	return string(r)
}
