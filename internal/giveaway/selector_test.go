package giveaway

import (
	"fmt"
	"slices"
	"testing"
)

func TestSelectProperties(t *testing.T) {
	entries := []string{"u1", "u2", "u3", "u4", "u5"}
	for count := 0; count <= 7; count++ {
		t.Run(fmt.Sprintf("count=%d", count), func(t *testing.T) {
			for range 50 {
				got := Select(entries, count)
				if want := min(count, len(entries)); len(got) != want {
					t.Fatalf("len = %d, want %d", len(got), want)
				}
				seen := map[string]bool{}
				for _, w := range got {
					if seen[w] {
						t.Fatalf("duplicate winner %q in %v", w, got)
					}
					seen[w] = true
					if !slices.Contains(entries, w) {
						t.Fatalf("winner %q not an entry", w)
					}
				}
			}
		})
	}
}

func TestSelectEmpty(t *testing.T) {
	for _, c := range []int{0, 1, 10} {
		got := Select(nil, c)
		if got == nil || len(got) != 0 {
			t.Fatalf("Select(nil, %d) = %#v, want empty non-nil", c, got)
		}
	}
}

func TestSelectDoesNotMutateInput(t *testing.T) {
	entries := []string{"a", "b", "c"}
	_ = Select(entries, 3)
	if !slices.Equal(entries, []string{"a", "b", "c"}) {
		t.Fatalf("input mutated: %v", entries)
	}
}

func TestSelectCollapsesDuplicates(t *testing.T) {
	got := Select([]string{"a", "a", "a"}, 3)
	if !slices.Equal(got, []string{"a"}) {
		t.Fatalf("got %v", got)
	}
}

// Every entrant should be reachable. With 3 entrants and 600 single draws the
// chance of one never appearing is about 3*(2/3)^600.
func TestSelectCoversAllEntries(t *testing.T) {
	entries := []string{"u1", "u2", "u3"}
	hits := map[string]int{}
	for range 600 {
		hits[Select(entries, 1)[0]]++
	}
	for _, e := range entries {
		if hits[e] == 0 {
			t.Fatalf("entry %q never drawn: %v", e, hits)
		}
	}
}
