package cluster

import (
	"encoding/binary"
	"hash/fnv"
	"sort"
)

// LSHIndex buckets MinHash signatures by banded sub-signature so that pairs
// above the similarity threshold collide in at least one band with high
// probability. It is a recall filter; callers must confirm candidates with
// exact Jaccard.
type LSHIndex struct {
	bands   int
	rows    int
	buckets []map[uint64][]string
}

// NewLSHIndex builds an index with bands*rows slots per signature. Signatures
// added later must have exactly bands*rows entries.
func NewLSHIndex(bands, rows int) *LSHIndex {
	idx := &LSHIndex{
		bands:   bands,
		rows:    rows,
		buckets: make([]map[uint64][]string, bands),
	}
	for i := range idx.buckets {
		idx.buckets[i] = make(map[uint64][]string)
	}
	return idx
}

// Add inserts id under every band bucket of sig.
func (idx *LSHIndex) Add(id string, sig Signature) {
	for b := 0; b < idx.bands; b++ {
		key := bandKey(sig[b*idx.rows : (b+1)*idx.rows])
		idx.buckets[b][key] = append(idx.buckets[b][key], id)
	}
}

// Candidates returns the sorted, de-duplicated ids sharing at least one band
// bucket with sig. The querying article's own id is included when indexed.
func (idx *LSHIndex) Candidates(sig Signature) []string {
	seen := make(map[string]struct{})
	for b := 0; b < idx.bands; b++ {
		key := bandKey(sig[b*idx.rows : (b+1)*idx.rows])
		for _, id := range idx.buckets[b][key] {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func bandKey(rows Signature) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range rows {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	return h.Sum64()
}
