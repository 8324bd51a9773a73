package xid

import (
	"strings"
	"testing"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	seen := make(map[string]bool, 100)
	for i := 0; i < 100; i++ {
		id := New("ord")
		if !strings.HasPrefix(id, "ord-") {
			t.Fatalf("expected ord- prefix, got %s", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestNewSortsByCreation(t *testing.T) {
	first := New("ord")
	second := New("ord")
	if first >= second {
		t.Fatalf("expected %s < %s", first, second)
	}
}
