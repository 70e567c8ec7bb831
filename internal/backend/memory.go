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

package backend

import (
	"sync"
	"sync/atomic"

	"github.com/uzqw/vex/internal/quantization"
	"github.com/uzqw/vex/internal/vecerr"
	"github.com/uzqw/vex/internal/vecmath"
)

const (
	// ShardCount is the number of shards ids are distributed across, one
	// independent RWMutex per shard to bound lock contention.
	ShardCount = 32

	// CacheLineSize pads each shard so adjacent shards don't share a cache
	// line, avoiding false sharing between cores touching neighbors.
	CacheLineSize = 64

	// maxGrowthStep caps the doubling growth of a shard's backing slice,
	// ported from the original implementation's capacity.reserve(min(cap,
	// 1MiB)) rule so a single huge id doesn't force one giant allocation.
	maxGrowthStep = 1 << 20
)

// memShard holds every vector whose id maps to this shard, indexed by
// id / ShardCount. A nil slot means no vector has been stored at that id.
type memShard[L any] struct {
	mu   sync.RWMutex
	vecs []*L
	_    [CacheLineSize - 24]byte
}

// MemoryBackend is a sparse, sharded, in-memory VectorBackend. It has no
// durable state: Sync is a no-op and it does not implement Indexable, so a
// store built against it keeps its index in memory only (spec.md's
// "transient index" behavior for the in-memory backend).
type MemoryBackend[L any] struct {
	shards [ShardCount]*memShard[L]
	dim    atomic.Int32
	count  atomic.Int64
	quant  quantization.Quantization[L]
}

var _ VectorBackend = (*MemoryBackend[[]float32])(nil)
var _ Buildable = (*MemoryBackend[[]float32])(nil)
var _ Deletable = (*MemoryBackend[[]float32])(nil)

// NewMemoryBackend constructs an empty in-memory backend for the given
// quantization. Dimensionality is learned from the first vector stored.
func NewMemoryBackend[L any](quant quantization.Quantization[L]) *MemoryBackend[L] {
	mb := &MemoryBackend[L]{quant: quant}
	for i := range mb.shards {
		mb.shards[i] = &memShard[L]{}
	}
	return mb
}

func (m *MemoryBackend[L]) shardFor(id uint64) (*memShard[L], uint64) {
	return m.shards[id%ShardCount], id / ShardCount
}

func (m *MemoryBackend[L]) PutVector(id uint64, v []float32) error {
	if m.dim.Load() == 0 {
		m.dim.CompareAndSwap(0, int32(len(v)))
	}
	if int(m.dim.Load()) != len(v) {
		return vecerr.ErrDimensionMismatch
	}

	normalized := make([]float32, len(v))
	copy(normalized, v)
	if _, err := vecmath.Normalize(normalized); err != nil {
		return err
	}

	lowered, err := m.quant.Lower(normalized)
	if err != nil {
		return err
	}

	shard, local := m.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	growShard(shard, local)
	wasNew := shard.vecs[local] == nil
	shard.vecs[local] = &lowered
	if wasNew {
		m.count.Add(1)
	}
	return nil
}

// growShard extends vecs so index local is addressable, doubling capacity
// (capped at maxGrowthStep additional slots per reallocation) exactly as
// the original Rust backend's Vec<Option<Q::Lower>> growth policy did.
func growShard[L any](s *memShard[L], local uint64) {
	idx := int(local)
	if idx < len(s.vecs) {
		return
	}
	if cap(s.vecs) == len(s.vecs) {
		grow := cap(s.vecs)
		if grow == 0 {
			grow = 1
		}
		if grow > maxGrowthStep {
			grow = maxGrowthStep
		}
		grown := make([]*L, len(s.vecs), len(s.vecs)+grow)
		copy(grown, s.vecs)
		s.vecs = grown
	}
	for len(s.vecs) <= idx {
		s.vecs = append(s.vecs, nil)
	}
}

func (m *MemoryBackend[L]) ComputeSimilarity(target []float32, id uint64) (float32, error) {
	shard, local := m.shardFor(id)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	if int(local) >= len(shard.vecs) || shard.vecs[local] == nil {
		return 0, vecerr.ErrMissingVector
	}
	return m.quant.Similarity(target, *shard.vecs[local])
}

func (m *MemoryBackend[L]) GetVector(id uint64) ([]float32, error) {
	shard, local := m.shardFor(id)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	if int(local) >= len(shard.vecs) || shard.vecs[local] == nil {
		return nil, vecerr.ErrMissingVector
	}
	return m.quant.Rehydrate(*shard.vecs[local])
}

// ForEachVector enumerates every stored (id, vector) pair. Each shard is
// read-locked only for the duration of its own scan, matching the build
// pass's read-only access to an otherwise append-only structure.
func (m *MemoryBackend[L]) ForEachVector(yield func(id uint64, v []float32) bool) {
	for shardIdx, shard := range m.shards {
		shard.mu.RLock()
		vecs := make([]*L, len(shard.vecs))
		copy(vecs, shard.vecs)
		shard.mu.RUnlock()

		for local, lowered := range vecs {
			if lowered == nil {
				continue
			}
			id := uint64(local)*ShardCount + uint64(shardIdx)
			v, err := m.quant.Rehydrate(*lowered)
			if err != nil {
				continue
			}
			if !yield(id, v) {
				return
			}
		}
	}
}

func (m *MemoryBackend[L]) Info() Info {
	return Info{
		Dimensions:       int(m.dim.Load()),
		NBasis:           0,
		VectorCount:      int(m.count.Load()),
		HasIndexData:     false,
		QuantizationName: m.quant.Name(),
	}
}

func (m *MemoryBackend[L]) Sync() error {
	return nil
}

// DeleteVector clears id's slot, if occupied. It does not shrink the
// backing slice.
func (m *MemoryBackend[L]) DeleteVector(id uint64) (bool, error) {
	shard, local := m.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if int(local) >= len(shard.vecs) || shard.vecs[local] == nil {
		return false, nil
	}
	shard.vecs[local] = nil
	m.count.Add(-1)
	return true, nil
}
