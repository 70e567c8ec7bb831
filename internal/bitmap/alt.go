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
	"encoding/binary"
	"io"

	"github.com/kelindar/roaring"
)

// altBitmap wraps kelindar/roaring, a second, independently engineered
// compressed bitmap, standing in for the original's CRoaring bindings: a
// differently-tuned implementation of the same contract as roaringBitmap,
// useful for comparing memory/speed trade-offs at the same call sites.
//
// kelindar/roaring exposes no public ascending iterator, so IterElems and
// WriteTo are built from its Min/Remove/Clone primitives: draining a scratch
// clone by repeatedly taking the minimum remaining element yields ascending
// order using only documented public methods.
type altBitmap struct {
	rb *roaring.Bitmap
}

func newAlt() Bitmap {
	return &altBitmap{rb: roaring.New()}
}

func (a *altBitmap) Add(id uint64) {
	a.rb.Set(uint32(id))
}

func (a *altBitmap) Contains(id uint64) bool {
	return a.rb.Contains(uint32(id))
}

func (a *altBitmap) IterElems(yield func(id uint64) bool) {
	scratch := a.rb.Clone(nil)
	for {
		v, ok := scratch.Min()
		if !ok {
			return
		}
		if !yield(uint64(v)) {
			return
		}
		scratch.Remove(v)
	}
}

func (a *altBitmap) Count() int {
	return a.rb.Count()
}

func (a *altBitmap) IsEmpty() bool {
	return a.rb.Count() == 0
}

func (a *altBitmap) Or(other Bitmap) {
	a.rb.Or(asAlt(other).rb)
}

func (a *altBitmap) Xor(other Bitmap) {
	a.rb.Xor(asAlt(other).rb)
}

func (a *altBitmap) AndNot(other Bitmap) {
	a.rb.AndNot(asAlt(other).rb)
}

// EstimateSerializedSize approximates the on-disk footprint as four bytes
// per member; kelindar/roaring does not publish a container-level byte
// accounting method to query directly.
func (a *altBitmap) EstimateSerializedSize() int {
	return 4 * a.rb.Count()
}

func (a *altBitmap) Clone() Bitmap {
	return &altBitmap{rb: a.rb.Clone(nil)}
}

func (a *altBitmap) Kind() Kind {
	return Alt
}

// WriteTo serializes the bitmap as a member count followed by its ascending
// elements, each a little-endian uint32. kelindar/roaring has no public
// native encoder, so this is this kind's own on-disk format rather than a
// reuse of an internal container layout.
func (a *altBitmap) WriteTo(w io.Writer) (int64, error) {
	var written int64
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(a.rb.Count()))
	n, err := w.Write(hdr[:])
	written += int64(n)
	if err != nil {
		return written, err
	}
	var buf [4]byte
	var werr error
	a.IterElems(func(id uint64) bool {
		binary.LittleEndian.PutUint32(buf[:], uint32(id))
		var n int
		n, werr = w.Write(buf[:])
		written += int64(n)
		return werr == nil
	})
	return written, werr
}

func readAlt(r io.Reader) (Bitmap, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint32(hdr[:])
	rb := roaring.New()
	var buf [4]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		rb.Set(binary.LittleEndian.Uint32(buf[:]))
	}
	return &altBitmap{rb: rb}, nil
}

func asAlt(b Bitmap) *altBitmap {
	ab, ok := b.(*altBitmap)
	if !ok {
		panic("bitmap: mixed kinds combined")
	}
	return ab
}
