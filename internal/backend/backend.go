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

// Package backend implements the vector-storage abstraction the store
// delegates similarity computation and persistence to: an in-memory
// variant and a memory-mapped on-disk variant, both parameterized over a
// quantization.
package backend

import (
	"github.com/uzqw/vex/internal/bitmap"
	"github.com/uzqw/vex/internal/resultset"
	"github.com/uzqw/vex/internal/vecerr"
)

// Info reports static and dynamic metadata about a backend.
type Info struct {
	Dimensions       int
	NBasis           int
	VectorCount      int
	HasIndexData     bool
	QuantizationName string
}

// VectorBackend is the core contract every backend satisfies: persist
// vectors by id, answer similarity queries, enumerate ids, and report
// metadata. Capability interfaces below are implemented optionally; the
// store type-asserts for them rather than requiring them here, mirroring
// the source's polymorphic-backend-plus-capability-cast design.
type VectorBackend interface {
	// PutVector normalizes, lowers and stores v under id.
	PutVector(id uint64, v []float32) error
	// ComputeSimilarity returns the dot product of target and the
	// (unit-normalized) vector stored at id, which is their cosine
	// similarity when target is itself unit length; target is not
	// normalized here. Fails with ErrMissingVector if id is unknown.
	ComputeSimilarity(target []float32, id uint64) (float32, error)
	// Info reports current backend metadata.
	Info() Info
	// Sync flushes any buffered state to durable storage. For backends
	// with no durable state this is a no-op.
	Sync() error
}

// Buildable is the capability required to construct an index: fetching a
// full vector by id and enumerating every stored (id, vector) pair.
// Implementations must make ForEachVector safe to call concurrently from
// multiple goroutines, since build_index's face-assignment pass is
// data-parallel across bases.
type Buildable interface {
	// GetVector returns the (re-hydrated) vector stored at id.
	GetVector(id uint64) ([]float32, error)
	// ForEachVector calls yield for every stored (id, vector) pair,
	// stopping early if yield returns false.
	ForEachVector(yield func(id uint64, v []float32) bool)
}

// Indexable is the capability to persist and reload bases and per-(basis,
// face) bitmaps. A backend without it can still be built against (the
// index lives in memory only) but loses that index across restarts.
type Indexable interface {
	// SaveBases persists the store's orthonormal bases.
	SaveBases(bases [][][]float32) error
	// LoadBases loads previously persisted bases. ok is false if none are
	// present (a fresh backend, not an error).
	LoadBases() (bases [][][]float32, ok bool, err error)
	// SaveBitmap persists the face bitmap for (basis, face).
	SaveBitmap(basis int, face int, bm bitmap.Bitmap) error
	// LoadBitmap loads a previously persisted face bitmap. ok is false if
	// none is present for (basis, face).
	LoadBitmap(basis int, face int, kind bitmap.Kind) (bm bitmap.Bitmap, ok bool, err error)
}

// Deletable is the capability to remove a previously stored vector. Only
// meaningful before an index is built: once face bitmaps exist, removing a
// vector from the backend without also retracting it from every bitmap
// would leave a dangling candidate, which this repo's Non-goals exclude.
type Deletable interface {
	// DeleteVector removes id's vector, if present. existed reports whether
	// anything was actually removed.
	DeleteVector(id uint64) (existed bool, err error)
}

// AsBuildable type-asserts b for the Buildable capability.
func AsBuildable(b VectorBackend) (Buildable, bool) {
	bb, ok := b.(Buildable)
	return bb, ok
}

// AsIndexable type-asserts b for the Indexable capability.
func AsIndexable(b VectorBackend) (Indexable, bool) {
	ib, ok := b.(Indexable)
	return ib, ok
}

// AsDeletable type-asserts b for the Deletable capability.
func AsDeletable(b VectorBackend) (Deletable, bool) {
	db, ok := b.(Deletable)
	return db, ok
}

// FullTableScan scores target against every vector of a Buildable backend
// via ComputeSimilarity and calls fn for each of the k most similar ids, in
// descending similarity order. target is used as given, not normalized.
func FullTableScan(b VectorBackend, target []float32, k int, fn func(id uint64, sim float32)) error {
	bb, ok := AsBuildable(b)
	if !ok {
		return vecerr.ErrNotBuildable
	}
	rs := resultset.New(k)
	bb.ForEachVector(func(id uint64, _ []float32) bool {
		if sim, err := b.ComputeSimilarity(target, id); err == nil {
			rs.AddResult(id, sim)
		}
		return true
	})
	for i, id := range rs.IDs() {
		fn(id, rs.Sims()[i])
	}
	return nil
}
