package inspect

import (
	"reflect"
)

// Equivalent reports deep structural equality between two values over their
// exported fields. Type mismatch is an immediate false; structs recurse into
// any field that itself exposes fields; everything else compares by value.
// This is intentionally distinct from identity equality and is used for test
// assertions and for change detection in the proxy's value-update path.
// Field names in exclude are skipped at every level of the comparison.
func Equivalent(a, b any, exclude ...string) bool {
	return equivalent(reflect.ValueOf(a), reflect.ValueOf(b), exclude, 0)
}

func equivalent(av, bv reflect.Value, exclude []string, depth int) bool {
	if depth > maxDepth {
		return false
	}
	if av.IsValid() != bv.IsValid() {
		return false
	}
	if !av.IsValid() {
		return true
	}
	if av.Type() != bv.Type() {
		return false
	}

	switch av.Kind() {
	case reflect.Pointer, reflect.Interface:
		if av.IsNil() || bv.IsNil() {
			return av.IsNil() == bv.IsNil()
		}
		return equivalent(av.Elem(), bv.Elem(), exclude, depth+1)

	case reflect.Struct:
		t := av.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() || contains(exclude, field.Name) {
				continue
			}
			if field.Type.Kind() == reflect.Func {
				continue
			}
			if !equivalent(av.Field(i), bv.Field(i), exclude, depth+1) {
				return false
			}
		}
		return true

	case reflect.Slice, reflect.Array:
		if av.Len() != bv.Len() {
			return false
		}
		for i := 0; i < av.Len(); i++ {
			if !equivalent(av.Index(i), bv.Index(i), exclude, depth+1) {
				return false
			}
		}
		return true

	case reflect.Map:
		if av.Len() != bv.Len() {
			return false
		}
		iter := av.MapRange()
		for iter.Next() {
			other := bv.MapIndex(iter.Key())
			if !other.IsValid() {
				return false
			}
			if !equivalent(iter.Value(), other, exclude, depth+1) {
				return false
			}
		}
		return true

	case reflect.Func:
		// Behavior is not comparable; only nil-ness is.
		return av.IsNil() == bv.IsNil()

	default:
		return reflect.DeepEqual(av.Interface(), bv.Interface())
	}
}
