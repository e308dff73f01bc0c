package app

import "hash/fnv"

// Shuffle returns a permutation of items determined only by seed.
//
// The seed is hashed with 64-bit FNV-1a and drives a splitmix64 generator; a Fisher-Yates pass from
// the last index down picks j = next() mod (i+1). The input slice is not modified.
func Shuffle[T any](items []T, seed string) []T {
	out := make([]T, len(items))
	copy(out, items)
	rng := newSplitMix64(seed)
	for i := len(out) - 1; i > 0; i-- {
		j := int(rng.next() % uint64(i+1))
		out[i], out[j] = out[j], out[i]
	}
	return out
}

type splitMix64 struct {
	state uint64
}

func newSplitMix64(seed string) *splitMix64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	return &splitMix64{state: h.Sum64()}
}

func (r *splitMix64) next() uint64 {
	r.state += 0x9e3779b97f4a7c15
	z := r.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
