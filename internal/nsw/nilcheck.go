package nsw

import "reflect"

// isNil reports whether v is a nil pointer, interface, slice, map, channel,
// or function. Value types (ints, strings, structs, arrays) are never nil
// and short-circuit without reflection.
func isNil[T comparable](v T) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return rv.IsNil()
	default:
		return false
	}
}
