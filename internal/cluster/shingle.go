package cluster

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// ShingleSet is a set of hashed word n-gram shingles.
type ShingleSet map[uint64]struct{}

// tokenize lowercases text and splits it into words, dropping punctuation.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Shingles builds the hashed k-gram word shingle set for text. Texts with
// fewer than k words produce a single shingle over the whole token sequence;
// an empty text produces an empty set.
func Shingles(text string, k int) ShingleSet {
	words := tokenize(text)
	set := make(ShingleSet)
	if len(words) == 0 {
		return set
	}
	if len(words) < k {
		set[hashShingle(words)] = struct{}{}
		return set
	}
	for i := 0; i+k <= len(words); i++ {
		set[hashShingle(words[i:i+k])] = struct{}{}
	}
	return set
}

func hashShingle(words []string) uint64 {
	h := fnv.New64a()
	for i, w := range words {
		if i > 0 {
			h.Write([]byte{' '})
		}
		h.Write([]byte(w))
	}
	return h.Sum64()
}

// Jaccard is the exact set similarity |a∩b| / |a∪b|. Two empty sets have
// similarity 0.
func Jaccard(a, b ShingleSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for s := range small {
		if _, ok := large[s]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}
