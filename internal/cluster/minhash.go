package cluster

import (
	"math/rand"
)

// permutationSeed fixes the MinHash permutations so that reruns over the
// same articles produce identical signatures.
const permutationSeed = 0x6e657773627269 // "newsbri"

// Signature is a MinHash signature, one minimum per permutation.
type Signature []uint64

// MinHasher computes fixed-length MinHash signatures over shingle sets using
// universal hashing: perm_i(x) = a_i*x + b_i over uint64 wraparound.
type MinHasher struct {
	a []uint64
	b []uint64
}

// NewMinHasher builds a hasher with numHashes permutations derived from the
// fixed seed.
func NewMinHasher(numHashes int) *MinHasher {
	rng := rand.New(rand.NewSource(permutationSeed))
	m := &MinHasher{
		a: make([]uint64, numHashes),
		b: make([]uint64, numHashes),
	}
	for i := 0; i < numHashes; i++ {
		m.a[i] = rng.Uint64() | 1 // odd multiplier
		m.b[i] = rng.Uint64()
	}
	return m
}

// Signature returns the MinHash signature of set. The result does not depend
// on map iteration order since each slot takes a minimum. An empty set yields
// an all-max signature that collides with nothing real.
func (m *MinHasher) Signature(set ShingleSet) Signature {
	sig := make(Signature, len(m.a))
	for i := range sig {
		sig[i] = ^uint64(0)
	}
	for s := range set {
		for i := range sig {
			if v := m.a[i]*s + m.b[i]; v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}
