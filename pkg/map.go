package pkg

import "sort"

type Map[K comparable, V any] map[K]V

func (m Map[K, V]) Get(key K) V {
	return m[key]
}

func (m Map[K, V]) Set(key K, value V) {
	m[key] = value
}

func (m Map[K, V]) Has(key K) bool {
	_, ok := m[key]
	return ok
}

func (m Map[K, V]) Delete(key K) {
	delete(m, key)
}

func (m Map[K, V]) Keys() []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// SortedKeys returns the keys in ascending order. Used where output must be
// stable, e.g. the erm/help listings of query columns.
func SortedKeys[V any](m Map[string, V]) []string {
	keys := m.Keys()
	sort.Strings(keys)
	return keys
}
