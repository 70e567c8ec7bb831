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

	"github.com/bits-and-blooms/bitset"
)

// denseBitmap wraps bitset.BitSet, a flat bitvector that suits compact,
// dense id ranges. Ids wider than the platform's uint are not supported;
// this matches bitset's own native width.
type denseBitmap struct {
	bs *bitset.BitSet
}

func newDense() Bitmap {
	return &denseBitmap{bs: bitset.New(0)}
}

func (d *denseBitmap) Add(id uint64) {
	d.bs.Set(uint(id))
}

func (d *denseBitmap) Contains(id uint64) bool {
	return d.bs.Test(uint(id))
}

func (d *denseBitmap) IterElems(yield func(id uint64) bool) {
	for e, ok := d.bs.NextSet(0); ok; e, ok = d.bs.NextSet(e + 1) {
		if !yield(uint64(e)) {
			return
		}
	}
}

func (d *denseBitmap) Count() int {
	return int(d.bs.Count())
}

func (d *denseBitmap) IsEmpty() bool {
	return d.bs.None()
}

func (d *denseBitmap) Or(other Bitmap) {
	d.bs.InPlaceUnion(asDense(other).bs)
}

func (d *denseBitmap) Xor(other Bitmap) {
	d.bs.InPlaceSymmetricDifference(asDense(other).bs)
}

func (d *denseBitmap) AndNot(other Bitmap) {
	d.bs.InPlaceDifference(asDense(other).bs)
}

func (d *denseBitmap) EstimateSerializedSize() int {
	return d.bs.BinaryStorageSize()
}

func (d *denseBitmap) Clone() Bitmap {
	return &denseBitmap{bs: d.bs.Clone()}
}

func (d *denseBitmap) Kind() Kind {
	return Dense
}

func (d *denseBitmap) WriteTo(w io.Writer) (int64, error) {
	return d.bs.WriteTo(w)
}

func readDense(r io.Reader) (Bitmap, error) {
	bs := &bitset.BitSet{}
	if _, err := bs.ReadFrom(r); err != nil {
		return nil, err
	}
	return &denseBitmap{bs: bs}, nil
}

// asDense converts a Bitmap known to be a denseBitmap, growing a foreign
// empty bitmap of differing concrete type is not meaningful here: the
// counting bitmap and store only ever combine bitmaps of one configured
// kind, so a mismatch is a programming error.
func asDense(b Bitmap) *denseBitmap {
	d, ok := b.(*denseBitmap)
	if !ok {
		panic("bitmap: mixed kinds combined")
	}
	return d
}
