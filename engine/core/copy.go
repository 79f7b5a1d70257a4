package core

// CloneMap returns a shallow copy of m. Nil maps stay nil so callers can
// distinguish "absent" from "empty".
func CloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CloneSlice returns a copy of s, preserving nil.
func CloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append([]T(nil), s...)
}
