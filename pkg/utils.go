package pkg

func Filter[T any](items []T, predicate func(T) bool) []T {
	filtered := []T{}
	for _, item := range items {
		if predicate(item) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

// TrimAll maps strings.TrimSpace-like trimming over a split specification
// entry list in place and returns it.
func TrimAll(items []string, trim func(string) string) []string {
	for i, item := range items {
		items[i] = trim(item)
	}
	return items
}
