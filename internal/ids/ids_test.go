package ids

import (
	"sort"
	"testing"
)

func TestNewSortsInCreationOrder(t *testing.T) {
	const n = 1000
	generated := make([]string, n)
	seen := make(map[string]struct{}, n)
	for i := range generated {
		id := New()
		if len(id) != 26 {
			t.Fatalf("id length = %d: %q", len(id), id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
		generated[i] = id
	}
	if !sort.StringsAreSorted(generated) {
		t.Fatal("ids not monotonic within process")
	}
}
