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

package store

import (
	"math"
	"testing"

	"github.com/uzqw/vex/internal/backend"
	"github.com/uzqw/vex/internal/bitmap"
	"github.com/uzqw/vex/internal/quantization"
	"github.com/uzqw/vex/internal/vecerr"
	"github.com/uzqw/vex/internal/vecmath"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

// TestTinyStoreFindNearest fixes the basis to the standard basis of R^2
// (already orthonormal, so BuildIndex's random sampling is bypassed) and
// checks the exact candidate set and ranking the query algorithm must
// produce against four hand-placed vectors.
func TestTinyStoreFindNearest(t *testing.T) {
	be := backend.NewMemoryBackend[[]float32](quantization.Identity{})
	vectors := [][]float32{{1, 0}, {0, 1}, {1, 1}, {-1, 0}}
	for id, v := range vectors {
		if err := be.PutVector(uint64(id), v); err != nil {
			t.Fatalf("PutVector(%d) error = %v", id, err)
		}
	}

	standardBasis := [][]float32{{1, 0}, {0, 1}}
	bitmaps := []map[int]bitmap.Bitmap{{}}
	add := func(face int, ids ...uint64) {
		bm := bitmap.New(bitmap.Dense)
		for _, id := range ids {
			bm.Add(id)
		}
		bitmaps[0][face] = bm
	}
	add(1, 0, 2) // [1,0] and normalized [1,1] both dominate on +axis0
	add(2, 1)    // [0,1] dominates on +axis1
	add(-1, 3)   // [-1,0] dominates on -axis0

	s := &VectorStore{
		be:         be,
		dimensions: 2,
		nBasis:     1,
		kind:       bitmap.Dense,
		bases:      [][][]float32{standardBasis},
		bitmaps:    bitmaps,
		built:      true,
	}

	rs, err := s.FindNearest([]float32{1, 0}, 2, 2, 1)
	if err != nil {
		t.Fatalf("FindNearest() error = %v", err)
	}
	if rs.Len() != 2 {
		t.Fatalf("FindNearest() returned %d results, want 2", rs.Len())
	}
	if rs.IDs()[0] != 0 || rs.IDs()[1] != 2 {
		t.Errorf("FindNearest() ids = %v, want [0 2]", rs.IDs())
	}
	if !almostEqual(float64(rs.Sims()[0]), 1.0, 1e-4) {
		t.Errorf("FindNearest() sims[0] = %v, want 1.0", rs.Sims()[0])
	}
	if !almostEqual(float64(rs.Sims()[1]), math.Sqrt(0.5), 1e-4) {
		t.Errorf("FindNearest() sims[1] = %v, want sqrt(0.5)", rs.Sims()[1])
	}
}

func TestFindNearestDimensionMismatch(t *testing.T) {
	be := backend.NewMemoryBackend[[]float32](quantization.Identity{})
	s, err := New(be, 3, 2, bitmap.Dense)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := s.FindNearest([]float32{1, 0}, 1, 1, 0); err != vecerr.ErrDimensionMismatch {
		t.Errorf("FindNearest() error = %v, want ErrDimensionMismatch", err)
	}
}

// TestFindNearestFallsBackToFullScan checks that an unbuilt store's
// FindNearest produces identical results to an explicit FullTableScan.
func TestFindNearestFallsBackToFullScan(t *testing.T) {
	be := backend.NewMemoryBackend[[]float32](quantization.Identity{})
	s, err := New(be, 2, 4, bitmap.Dense)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	vectors := [][]float32{{1, 0}, {0, 1}, {3, 4}, {-1, -1}, {2, 1}}
	if err := s.AddVectorIter(EnumerateIDs(vectors)); err != nil {
		t.Fatalf("AddVectorIter() error = %v", err)
	}

	target := []float32{1, 1}
	viaQuery, err := s.FindNearest(target, 3, 2, 1)
	if err != nil {
		t.Fatalf("FindNearest() error = %v", err)
	}
	viaScan, err := s.FullTableScan(target, 3)
	if err != nil {
		t.Fatalf("FullTableScan() error = %v", err)
	}

	if len(viaQuery.IDs()) != len(viaScan.IDs()) {
		t.Fatalf("result length mismatch: query=%d scan=%d", len(viaQuery.IDs()), len(viaScan.IDs()))
	}
	for i := range viaQuery.IDs() {
		if viaQuery.IDs()[i] != viaScan.IDs()[i] {
			t.Errorf("id[%d] = %d, want %d", i, viaQuery.IDs()[i], viaScan.IDs()[i])
		}
		if !almostEqual(float64(viaQuery.Sims()[i]), float64(viaScan.Sims()[i]), 1e-4) {
			t.Errorf("sim[%d] = %v, want %v", i, viaQuery.Sims()[i], viaScan.Sims()[i])
		}
	}
}

func TestBuildIndexThenQueryFindsExactMatch(t *testing.T) {
	be := backend.NewMemoryBackend[[]float32](quantization.Identity{})
	s, err := New(be, 8, 4, bitmap.Dense)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	vectors := make([][]float32, 200)
	for i := range vectors {
		vectors[i] = vecmath.CreateRandomVector(8)
	}
	if err := s.AddVectorIter(EnumerateIDs(vectors)); err != nil {
		t.Fatalf("AddVectorIter() error = %v", err)
	}

	if err := s.BuildIndex(); err != nil {
		t.Fatalf("BuildIndex() error = %v", err)
	}
	if !s.Built() {
		t.Fatalf("Built() = false after BuildIndex")
	}

	target := vectors[42]
	rs, err := s.FindNearest(target, 5, 5, 2)
	if err != nil {
		t.Fatalf("FindNearest() error = %v", err)
	}
	if rs.Len() == 0 {
		t.Fatalf("FindNearest() returned no results")
	}
	if rs.IDs()[0] != 42 {
		t.Errorf("FindNearest() top id = %d, want 42 (querying with its own vector)", rs.IDs()[0])
	}
	if !almostEqual(float64(rs.Sims()[0]), 1.0, 1e-3) {
		t.Errorf("FindNearest() top sim = %v, want ~1.0", rs.Sims()[0])
	}
}

func TestBuildIndexAlreadyBuilt(t *testing.T) {
	be := backend.NewMemoryBackend[[]float32](quantization.Identity{})
	s, err := New(be, 2, 1, bitmap.Dense)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_ = s.AddVector(0, []float32{1, 0})
	if err := s.BuildIndex(); err != nil {
		t.Fatalf("BuildIndex() error = %v", err)
	}
	if err := s.BuildIndex(); err != vecerr.ErrAlreadyBuilt {
		t.Errorf("second BuildIndex() error = %v, want ErrAlreadyBuilt", err)
	}
}

// notBuildableBackend implements only the VectorBackend core, to exercise
// BuildIndex and FullTableScan's ErrNotBuildable path.
type notBuildableBackend struct{}

func (notBuildableBackend) PutVector(uint64, []float32) error                { return nil }
func (notBuildableBackend) ComputeSimilarity([]float32, uint64) (float32, error) { return 0, vecerr.ErrMissingVector }
func (notBuildableBackend) Info() backend.Info                               { return backend.Info{} }
func (notBuildableBackend) Sync() error                                      { return nil }

func TestBuildIndexNotBuildable(t *testing.T) {
	s, err := New(notBuildableBackend{}, 2, 1, bitmap.Dense)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.BuildIndex(); err != vecerr.ErrNotBuildable {
		t.Errorf("BuildIndex() error = %v, want ErrNotBuildable", err)
	}
	if _, err := s.FullTableScan([]float32{1, 0}, 1); err != vecerr.ErrNotBuildable {
		t.Errorf("FullTableScan() error = %v, want ErrNotBuildable", err)
	}
}

func TestAddVectorDimensionMismatch(t *testing.T) {
	be := backend.NewMemoryBackend[[]float32](quantization.Identity{})
	s, err := New(be, 3, 1, bitmap.Dense)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.AddVector(0, []float32{1, 0}); err != vecerr.ErrDimensionMismatch {
		t.Errorf("AddVector() error = %v, want ErrDimensionMismatch", err)
	}
}

func TestFindFaceIdxTieBreaksTowardAmax(t *testing.T) {
	got := findFaceIdx([]float32{0.5, 0.5})
	if got != 1 {
		t.Errorf("findFaceIdx(tie) = %d, want 1 (argmax wins ties)", got)
	}
}

func TestFindFaceIdxPicksDominantNegativeAxis(t *testing.T) {
	got := findFaceIdx([]float32{0.1, -0.9})
	if got != -2 {
		t.Errorf("findFaceIdx() = %d, want -2", got)
	}
}
