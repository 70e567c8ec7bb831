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

// Package countingbitmap implements the ballot-aggregation structure the
// store's query path uses: a stack of N bitmaps acting as a saturating,
// depth-N counter per id, incremented by XOR/AND-NOT cascade.
package countingbitmap

import (
	"fmt"
	"strings"

	"github.com/uzqw/vex/internal/bitmap"
)

// CountingBitmap is a depth-N saturating counter over ids, implemented as N
// layered bitmaps. After M calls to Or, layer L_j holds exactly the ids seen
// in at least j+1 of those calls, capped at N.
type CountingBitmap struct {
	layers []bitmap.Bitmap
}

// New returns an empty counting bitmap of the given depth, with every layer
// built from the given bitmap kind.
func New(kind bitmap.Kind, depth int) *CountingBitmap {
	layers := make([]bitmap.Bitmap, depth)
	for i := range layers {
		layers[i] = bitmap.New(kind)
	}
	return &CountingBitmap{layers: layers}
}

// Or increments the counter for every id in x by one. The cascade never
// mutates x itself; a carry is cloned off it before mutation begins.
//
// For each layer i in order: the layer is XORed with the carry (toggling
// the bit — the unary-counter "add one mod two" step); the carry is reduced
// to the ids where the layer used to read true but now reads false (i.e.
// still 1, since XOR flipped it, requiring AND-NOT against the new value);
// and finally the carry is OR'd back into the layer so each layer remains a
// superset of every layer after it, preserving "seen in at least j+1 calls"
// as an ordinary threshold read. The loop stops as soon as the carry empties.
func (c *CountingBitmap) Or(x bitmap.Bitmap) {
	carry := x.Clone()
	for _, layer := range c.layers {
		layer.Xor(carry)
		next := carry.Clone()
		next.AndNot(layer)
		layer.Or(next)
		carry = next
		if carry.IsEmpty() {
			break
		}
	}
}

// TopK returns the highest-indexed layer whose cardinality is at least
// searchK, or (nil, false) if no layer qualifies.
func (c *CountingBitmap) TopK(searchK int) (bitmap.Bitmap, bool) {
	for i := len(c.layers) - 1; i >= 0; i-- {
		if c.layers[i].Count() >= searchK {
			return c.layers[i], true
		}
	}
	return nil, false
}

// Cardinalities returns the member count of each layer, index 0 first.
func (c *CountingBitmap) Cardinalities() []int {
	out := make([]int, len(c.layers))
	for i, l := range c.layers {
		out[i] = l.Count()
	}
	return out
}

// String renders per-layer cardinalities, useful for STATS/INFO reporting.
func (c *CountingBitmap) String() string {
	var sb strings.Builder
	sb.WriteString("CountingBitmap{")
	for i, n := range c.Cardinalities() {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "L%d=%d", i, n)
	}
	sb.WriteString("}")
	return sb.String()
}

// Depth returns the number of layers.
func (c *CountingBitmap) Depth() int {
	return len(c.layers)
}
