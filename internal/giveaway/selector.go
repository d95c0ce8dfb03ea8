package giveaway

import (
	crand "crypto/rand"
	"math/rand/v2"
)

// Select draws min(count, distinct entries) winners without replacement by
// repeatedly picking a uniformly random remaining entry. An empty input or a
// non-positive count yields an empty, non-nil result.
func Select(entries []string, count int) []string {
	pool := dedupe(entries)
	if len(pool) == 0 || count <= 0 {
		return []string{}
	}
	n := min(count, len(pool))

	r := newRand()
	out := make([]string, 0, n)
	for range n {
		i := r.IntN(len(pool))
		out = append(out, pool[i])
		last := len(pool) - 1
		pool[i] = pool[last]
		pool = pool[:last]
	}
	return out
}

func dedupe(entries []string) []string {
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

func newRand() *rand.Rand {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewChaCha8(seed))
}
