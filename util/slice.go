package util

func Contains[T comparable](src []T, v T) bool {
	for _, s := range src {
		if s == v {
			return true
		}
	}
	return false
}

// Dedupe keeps the first occurrence of every element.
func Dedupe[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
