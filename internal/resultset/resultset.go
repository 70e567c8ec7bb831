// Copyright 2025 uzqw
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package resultset implements the fixed-capacity, non-increasing
// similarity, duplicate-suppressing top-k structure returned by
// every query path (find_nearest, full_table_scan).
package resultset

// ResultSet holds up to k (id, similarity) pairs in strictly non-increasing
// similarity order, with distinct ids, plus a running count of every
// candidate ever offered to AddResult.
type ResultSet struct {
	k       int
	ids     []uint64
	sims    []float32
	checked int
}

// New allocates a result set with capacity k.
func New(k int) *ResultSet {
	return &ResultSet{
		k:    k,
		ids:  make([]uint64, 0, k),
		sims: make([]float32, 0, k),
	}
}

// AddResult offers one candidate. It always increments Checked(); it
// changes the stored entries only if the candidate earns a place:
//
//  1. if the set is already full and sim does not exceed the smallest
//     stored similarity, the candidate is discarded;
//  2. if id is already present, the candidate is discarded unchanged
//     (duplicate suppression);
//  3. otherwise the candidate is inserted at the first position whose
//     stored similarity is strictly less than sim (or appended, if the set
//     isn't yet full and no such position exists), and the set is
//     truncated back to capacity k.
func (r *ResultSet) AddResult(id uint64, sim float32) {
	r.checked++

	n := len(r.ids)
	if n == r.k && n > 0 && sim <= r.sims[n-1] {
		return
	}

	for _, existing := range r.ids {
		if existing == id {
			return
		}
	}

	pos := n
	for i, s := range r.sims {
		if sim > s {
			pos = i
			break
		}
	}

	r.ids = insertUint64(r.ids, pos, id)
	r.sims = insertFloat32(r.sims, pos, sim)

	if len(r.ids) > r.k {
		r.ids = r.ids[:r.k]
		r.sims = r.sims[:r.k]
	}
}

// Len returns the number of entries currently held.
func (r *ResultSet) Len() int {
	return len(r.ids)
}

// Cap returns the configured capacity k.
func (r *ResultSet) Cap() int {
	return r.k
}

// Checked returns the total number of candidates ever offered to AddResult.
func (r *ResultSet) Checked() int {
	return r.checked
}

// IDs returns the held ids, aligned with Sims, in descending-similarity
// order. The returned slice must not be mutated by the caller.
func (r *ResultSet) IDs() []uint64 {
	return r.ids
}

// Sims returns the held similarities, aligned with IDs, non-increasing.
// The returned slice must not be mutated by the caller.
func (r *ResultSet) Sims() []float32 {
	return r.sims
}

// ComputeRecall returns |{ids[0:at]} intersect {baseline.ids[0:at]}| / at.
// at is clamped to the shorter of the two sets' lengths before dividing, so
// asking for more than either set holds still returns a value in [0, 1].
func (r *ResultSet) ComputeRecall(baseline *ResultSet, at int) float64 {
	if at > len(r.ids) {
		at = len(r.ids)
	}
	if at > len(baseline.ids) {
		at = len(baseline.ids)
	}
	if at <= 0 {
		return 0
	}

	baseSet := make(map[uint64]struct{}, at)
	for _, id := range baseline.ids[:at] {
		baseSet[id] = struct{}{}
	}

	hits := 0
	for _, id := range r.ids[:at] {
		if _, ok := baseSet[id]; ok {
			hits++
		}
	}
	return float64(hits) / float64(at)
}

func insertUint64(s []uint64, pos int, v uint64) []uint64 {
	s = append(s, 0)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}

func insertFloat32(s []float32, pos int, v float32) []float32 {
	s = append(s, 0)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}
