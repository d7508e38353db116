package pkg_test

import (
	"strings"
	"testing"

	. "github.com/shelfdb/shelfdb/pkg"
)

func TestFilter(t *testing.T) {
	res := Filter([]int{1, 2, 3, 4, 5, 6}, func(i int) bool {
		return i%2 == 0
	})

	if len(res) != 3 {
		t.Errorf("Expected 3, got %d", len(res))
	}

	if res[0] != 2 || res[1] != 4 || res[2] != 6 {
		t.Errorf("Expected 2, 4, 6, got %d, %d, %d", res[0], res[1], res[2])
	}
}

func TestTrimAll(t *testing.T) {
	res := TrimAll([]string{" a", "b ", " c "}, strings.TrimSpace)
	if res[0] != "a" || res[1] != "b" || res[2] != "c" {
		t.Errorf("Expected a, b, c, got %q, %q, %q", res[0], res[1], res[2])
	}
}

func TestSortedKeys(t *testing.T) {
	m := Map[string, int]{"b": 2, "a": 1, "c": 3}
	keys := SortedKeys(m)
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Errorf("Expected sorted keys, got %v", keys)
	}
}
