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

// Package store implements the vector index on top of a backend: building
// random-projection face bitmaps, ballot-style candidate aggregation at
// query time, and online insertion.
package store

import (
	"runtime"
	"sync"

	"github.com/uzqw/vex/internal/backend"
	"github.com/uzqw/vex/internal/bitmap"
	"github.com/uzqw/vex/internal/countingbitmap"
	"github.com/uzqw/vex/internal/resultset"
	"github.com/uzqw/vex/internal/vecerr"
	"github.com/uzqw/vex/internal/vecmath"
)

// VectorStore composes a backend with B orthonormal bases and, once built,
// one face-bitmap map per basis. It owns the bases and bitmaps; the backend
// owns the vectors themselves.
type VectorStore struct {
	be         backend.VectorBackend
	dimensions int
	nBasis     int
	kind       bitmap.Kind

	mu                sync.RWMutex
	bases             [][][]float32
	bitmaps           []map[int]bitmap.Bitmap
	built             bool
	lastCardinalities []int
}

// New constructs a store over be. If be implements Indexable and already
// holds a persisted index (bases.json and its face bitmaps), that index is
// loaded and the store starts in the built state; otherwise it starts
// empty, with nBasis bases to be sampled on the first BuildIndex call.
func New(be backend.VectorBackend, dimensions, nBasis int, kind bitmap.Kind) (*VectorStore, error) {
	s := &VectorStore{
		be:         be,
		dimensions: dimensions,
		nBasis:     nBasis,
		kind:       kind,
	}

	ib, ok := backend.AsIndexable(be)
	if !ok {
		return s, nil
	}

	bases, ok, err := ib.LoadBases()
	if err != nil {
		return nil, err
	}
	if !ok {
		return s, nil
	}

	bitmaps := make([]map[int]bitmap.Bitmap, len(bases))
	for i := range bitmaps {
		bitmaps[i] = make(map[int]bitmap.Bitmap)
		for axis := 1; axis <= dimensions; axis++ {
			for _, face := range []int{axis, -axis} {
				bm, ok, err := ib.LoadBitmap(i, face, kind)
				if err != nil {
					return nil, err
				}
				if ok {
					bitmaps[i][face] = bm
				}
			}
		}
	}

	s.bases = bases
	s.nBasis = len(bases)
	s.bitmaps = bitmaps
	s.built = true
	return s, nil
}

// Built reports whether the store has a usable index in memory.
func (s *VectorStore) Built() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.built
}

// IndexStats reports the basis count and total estimated serialized size of
// every face bitmap in the built index, for STATS/INFO reporting. Both are
// zero when the store isn't built.
func (s *VectorStore) IndexStats() (basisCount int, bitmapBytes uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.built {
		return 0, 0
	}
	var total uint64
	for _, m := range s.bitmaps {
		for _, bm := range m {
			total += uint64(bm.EstimateSerializedSize())
		}
	}
	return len(s.bases), total
}

// LastQueryCardinalities returns the per-layer counting-bitmap cardinalities
// from the most recent FindNearest call, or nil if none has run yet.
func (s *VectorStore) LastQueryCardinalities() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastCardinalities == nil {
		return nil
	}
	out := make([]int, len(s.lastCardinalities))
	copy(out, s.lastCardinalities)
	return out
}

// Dimensions returns the store's configured vector dimensionality.
func (s *VectorStore) Dimensions() int {
	return s.dimensions
}

// IDVector pairs an id with its vector, for batch ingestion helpers.
type IDVector struct {
	ID     uint64
	Vector []float32
}

// EnumerateIDs assigns sequential ids, starting at 0, to vectors in order.
// It is a convenience for tests and bulk loaders that don't need control
// over id assignment.
func EnumerateIDs(vectors [][]float32) []IDVector {
	out := make([]IDVector, len(vectors))
	for i, v := range vectors {
		out[i] = IDVector{ID: uint64(i), Vector: v}
	}
	return out
}

// AddVector stores v under id in the backend. If the store has already
// built an index, it additionally computes v's face index under every
// basis and inserts id into the corresponding bitmaps. Online insertion
// after build requires the store to hold its face bitmaps in memory, which
// is always true immediately after BuildIndex or after New loads a
// persisted index; ErrNotBuilt signals the (otherwise unreachable, for the
// two backends this package ships) case where it does not.
func (s *VectorStore) AddVector(id uint64, v []float32) error {
	if len(v) != s.dimensions {
		return vecerr.ErrDimensionMismatch
	}
	if err := s.be.PutVector(id, v); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.built {
		return nil
	}
	if s.bitmaps == nil {
		return vecerr.ErrNotBuilt
	}

	normalized := make([]float32, len(v))
	copy(normalized, v)
	if _, err := vecmath.Normalize(normalized); err != nil {
		return err
	}

	ib, indexable := backend.AsIndexable(s.be)

	var persistErr error
	for i, basis := range s.bases {
		proj := projectAll(normalized, basis)
		face := findFaceIdx(proj)

		bm, ok := s.bitmaps[i][face]
		if !ok {
			bm = bitmap.New(s.kind)
			s.bitmaps[i][face] = bm
		}
		bm.Add(id)

		if indexable && persistErr == nil {
			if err := ib.SaveBitmap(i, face, bm); err != nil {
				persistErr = err
			}
		}
	}
	return persistErr
}

// GetVector returns the vector stored at id, requiring a Buildable backend
// (the capability that can rehydrate a full vector from its lowered form).
func (s *VectorStore) GetVector(id uint64) ([]float32, error) {
	buildable, ok := backend.AsBuildable(s.be)
	if !ok {
		return nil, vecerr.ErrNotBuildable
	}
	return buildable.GetVector(id)
}

// DeleteVector removes id's vector, but only before an index has been
// built: once face bitmaps exist, removing a vector from the backend
// without retracting it from every bitmap it was added to would leave a
// dangling candidate, which this repo's Non-goals exclude (no post-build
// delete/update).
func (s *VectorStore) DeleteVector(id uint64) (bool, error) {
	s.mu.RLock()
	built := s.built
	s.mu.RUnlock()
	if built {
		return false, vecerr.ErrAlreadyBuilt
	}

	del, ok := backend.AsDeletable(s.be)
	if !ok {
		return false, vecerr.ErrNotBuildable
	}
	return del.DeleteVector(id)
}

// AddVectorIter stores each pair via AddVector, stopping at the first
// error.
func (s *VectorStore) AddVectorIter(pairs []IDVector) error {
	for _, p := range pairs {
		if err := s.AddVector(p.ID, p.Vector); err != nil {
			return err
		}
	}
	return nil
}

// BuildIndex samples nBasis orthonormal bases, assigns every vector in the
// backend to a face bitmap under each basis (data-parallel across bases),
// persists the result if the backend supports it, and marks the store
// built. It requires a Buildable backend and fails with ErrAlreadyBuilt if
// the store already has an index.
func (s *VectorStore) BuildIndex() error {
	buildable, ok := backend.AsBuildable(s.be)
	if !ok {
		return vecerr.ErrNotBuildable
	}

	s.mu.RLock()
	already := s.built
	s.mu.RUnlock()
	if already {
		return vecerr.ErrAlreadyBuilt
	}

	bases := make([][][]float32, s.nBasis)
	for i := range bases {
		bases[i] = makeBasis(s.dimensions)
	}

	bitmaps := make([]map[int]bitmap.Bitmap, s.nBasis)
	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	var wg sync.WaitGroup
	for i := range bitmaps {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			local := make(map[int]bitmap.Bitmap)
			buildable.ForEachVector(func(id uint64, v []float32) bool {
				proj := projectAll(v, bases[i])
				face := findFaceIdx(proj)
				bm, ok := local[face]
				if !ok {
					bm = bitmap.New(s.kind)
					local[face] = bm
				}
				bm.Add(id)
				return true
			})
			bitmaps[i] = local
		}(i)
	}
	wg.Wait()

	if ib, ok := backend.AsIndexable(s.be); ok {
		if err := ib.SaveBases(bases); err != nil {
			return err
		}
		for i, m := range bitmaps {
			for face, bm := range m {
				if err := ib.SaveBitmap(i, face, bm); err != nil {
					return err
				}
			}
		}
	}

	s.mu.Lock()
	s.bases = bases
	s.bitmaps = bitmaps
	s.built = true
	s.mu.Unlock()
	return nil
}

// FindNearest returns up to k approximate nearest neighbors of target. If
// the store has no built index it falls back to FullTableScan. Otherwise,
// for every basis it casts a ballot: starting from target's dominant face,
// it unions that face's bitmap into the ballot, zeroes the projection on
// the axis just used, and repeats spill+1 times (spill clamped to
// dimensions-1), before folding the ballot into a shared counting bitmap.
// The highest-indexed counting-bitmap layer with cardinality at least
// searchK supplies the candidate set, rescored exactly via the backend and
// collected into a ResultSet of capacity k. ErrBudgetUnmet is returned if
// no layer reaches searchK.
func (s *VectorStore) FindNearest(target []float32, k, searchK, spill int) (*resultset.ResultSet, error) {
	if len(target) != s.dimensions {
		return nil, vecerr.ErrDimensionMismatch
	}

	s.mu.RLock()
	built := s.built
	bases := s.bases
	bitmaps := s.bitmaps
	s.mu.RUnlock()

	if !built {
		return s.FullTableScan(target, k)
	}

	if spill > s.dimensions-1 {
		spill = s.dimensions - 1
	}
	if spill < 0 {
		spill = 0
	}

	normalized := make([]float32, len(target))
	copy(normalized, target)
	if _, err := vecmath.Normalize(normalized); err != nil {
		return nil, err
	}

	cbm := countingbitmap.New(s.kind, len(bases))
	for i, basis := range bases {
		proj := projectAll(normalized, basis)
		ballot := bitmap.New(s.kind)

		for iter := 0; iter <= spill; iter++ {
			face := findFaceIdx(proj)
			if bm, ok := bitmaps[i][face]; ok {
				ballot.Or(bm)
			}
			axis := absInt(face) - 1
			proj[axis] = 0
		}
		cbm.Or(ballot)
	}

	s.mu.Lock()
	s.lastCardinalities = cbm.Cardinalities()
	s.mu.Unlock()

	candidates, ok := cbm.TopK(searchK)
	if !ok {
		return nil, vecerr.ErrBudgetUnmet
	}

	rs := resultset.New(k)
	var rescoreErr error
	candidates.IterElems(func(id uint64) bool {
		sim, err := s.be.ComputeSimilarity(normalized, id)
		if err != nil {
			if err == vecerr.ErrMissingVector {
				return true
			}
			rescoreErr = err
			return false
		}
		rs.AddResult(id, sim)
		return true
	})
	if rescoreErr != nil {
		return nil, rescoreErr
	}
	return rs, nil
}

// FullTableScan computes exact similarity between target and every vector
// the backend holds, returning the top k. It requires a Buildable backend
// (the only capability a full scan needs: iterating every stored vector).
func (s *VectorStore) FullTableScan(target []float32, k int) (*resultset.ResultSet, error) {
	if len(target) != s.dimensions {
		return nil, vecerr.ErrDimensionMismatch
	}
	buildable, ok := backend.AsBuildable(s.be)
	if !ok {
		return nil, vecerr.ErrNotBuildable
	}

	normalized := make([]float32, len(target))
	copy(normalized, target)
	if _, err := vecmath.Normalize(normalized); err != nil {
		return nil, err
	}

	rs := resultset.New(k)
	buildable.ForEachVector(func(id uint64, _ []float32) bool {
		sim, err := s.be.ComputeSimilarity(normalized, id)
		if err != nil {
			return true
		}
		rs.AddResult(id, sim)
		return true
	})
	return rs, nil
}
