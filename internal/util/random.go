// Package util provides shared helper utilities.
//revive:disable:var-naming // Package name follows project convention.
package util

import "math/rand"

const idAlphabet = "abcdefghijklmnopqrstuvwxyz"

// RandomID returns n lowercase letters drawn from r.
func RandomID(r *rand.Rand, n int) string {
	if n <= 0 {
		n = 4
	}
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = idAlphabet[r.Intn(len(idAlphabet))]
	}
	return string(buf)
}

// SampleIndices picks k distinct indices out of [0, n) without replacement.
// The result keeps the random draw order.
func SampleIndices(r *rand.Rand, n, k int) []int {
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil
	}
	return r.Perm(n)[:k]
}

// IntRange returns a uniform integer in [lo, hi].
func IntRange(r *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.Intn(hi-lo+1)
}
