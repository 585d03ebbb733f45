package pkg

// Contains check source have target
func Contains[T comparable](slice []T, val T) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}

// Unique drop repeated values keeping first occurrence order
func Unique[T comparable](slice []T) []T {
	seen := make(map[T]struct{}, len(slice))
	out := make([]T, 0, len(slice))
	for _, v := range slice {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Diff return values in next missing from prev and values in prev missing from next
func Diff[T comparable](prev, next []T) (added, removed []T) {
	for _, v := range next {
		if !Contains(prev, v) {
			added = append(added, v)
		}
	}
	for _, v := range prev {
		if !Contains(next, v) {
			removed = append(removed, v)
		}
	}
	return added, removed
}
