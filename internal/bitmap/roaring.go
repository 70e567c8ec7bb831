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

package bitmap

import (
	"io"

	"github.com/RoaringBitmap/roaring"
)

// roaringBitmap wraps RoaringBitmap/roaring, the Go analogue of the
// original's `roaring` crate. Roaring containers are keyed by uint32, so
// this kind truncates ids to 32 bits; the store only ever uses it over the
// local, dense-ish vector-id space supplied at build time, matching the
// original Rust implementation's own `id as u32` cast in its bitmap trait.
type roaringBitmap struct {
	rb *roaring.Bitmap
}

func newRoaring() Bitmap {
	return &roaringBitmap{rb: roaring.NewBitmap()}
}

func (r *roaringBitmap) Add(id uint64) {
	r.rb.Add(uint32(id))
}

func (r *roaringBitmap) Contains(id uint64) bool {
	return r.rb.Contains(uint32(id))
}

func (r *roaringBitmap) IterElems(yield func(id uint64) bool) {
	it := r.rb.Iterator()
	for it.HasNext() {
		if !yield(uint64(it.Next())) {
			return
		}
	}
}

func (r *roaringBitmap) Count() int {
	return int(r.rb.GetCardinality())
}

func (r *roaringBitmap) IsEmpty() bool {
	return r.rb.IsEmpty()
}

func (r *roaringBitmap) Or(other Bitmap) {
	r.rb.Or(asRoaring(other).rb)
}

func (r *roaringBitmap) Xor(other Bitmap) {
	r.rb.Xor(asRoaring(other).rb)
}

func (r *roaringBitmap) AndNot(other Bitmap) {
	r.rb.AndNot(asRoaring(other).rb)
}

func (r *roaringBitmap) EstimateSerializedSize() int {
	return int(r.rb.GetSerializedSizeInBytes())
}

func (r *roaringBitmap) Clone() Bitmap {
	return &roaringBitmap{rb: r.rb.Clone()}
}

func (r *roaringBitmap) Kind() Kind {
	return Roaring
}

func (r *roaringBitmap) WriteTo(w io.Writer) (int64, error) {
	return r.rb.WriteTo(w)
}

func readRoaring(r io.Reader) (Bitmap, error) {
	rb := roaring.NewBitmap()
	if _, err := rb.ReadFrom(r); err != nil {
		return nil, err
	}
	return &roaringBitmap{rb: rb}, nil
}

func asRoaring(b Bitmap) *roaringBitmap {
	rb, ok := b.(*roaringBitmap)
	if !ok {
		panic("bitmap: mixed kinds combined")
	}
	return rb
}
