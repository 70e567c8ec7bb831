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
	"bytes"
	"testing"
)

var allKinds = []Kind{Dense, Roaring, Alt}

func elemsOf(t *testing.T, b Bitmap) []uint64 {
	t.Helper()
	var got []uint64
	b.IterElems(func(id uint64) bool {
		got = append(got, id)
		return true
	})
	return got
}

func TestAddAndCount(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(kind.String(), func(t *testing.T) {
			b := New(kind)
			if !b.IsEmpty() {
				t.Fatalf("new bitmap should be empty")
			}
			b.Add(5)
			b.Add(5)
			b.Add(10)
			if b.Count() != 2 {
				t.Errorf("Count() = %d, want 2 (Add must be idempotent)", b.Count())
			}
			if !b.Contains(5) || !b.Contains(10) || b.Contains(6) {
				t.Errorf("Contains() mismatch")
			}
			if got, want := elemsOf(t, b), []uint64{5, 10}; !equalSlices(got, want) {
				t.Errorf("IterElems() = %v, want %v (ascending)", got, want)
			}
		})
	}
}

func TestOrXorAndNot(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(kind.String(), func(t *testing.T) {
			a := New(kind)
			a.Add(1)
			a.Add(2)
			b := New(kind)
			b.Add(2)
			b.Add(3)

			or := a.Clone()
			or.Or(b)
			if got, want := elemsOf(t, or), []uint64{1, 2, 3}; !equalSlices(got, want) {
				t.Errorf("Or() = %v, want %v", got, want)
			}

			xor := a.Clone()
			xor.Xor(b)
			if got, want := elemsOf(t, xor), []uint64{1, 3}; !equalSlices(got, want) {
				t.Errorf("Xor() = %v, want %v", got, want)
			}

			andNot := a.Clone()
			andNot.AndNot(b)
			if got, want := elemsOf(t, andNot), []uint64{1}; !equalSlices(got, want) {
				t.Errorf("AndNot() = %v, want %v", got, want)
			}
		})
	}
}

func TestCloneIndependence(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(kind.String(), func(t *testing.T) {
			a := New(kind)
			a.Add(1)
			clone := a.Clone()
			clone.Add(2)
			if a.Contains(2) {
				t.Errorf("mutating clone affected original")
			}
		})
	}
}

func TestWriteToReadFrom(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(kind.String(), func(t *testing.T) {
			a := New(kind)
			a.Add(1)
			a.Add(100)
			a.Add(9999)

			var buf bytes.Buffer
			if _, err := a.WriteTo(&buf); err != nil {
				t.Fatalf("WriteTo() error = %v", err)
			}

			b, err := ReadFrom(kind, &buf)
			if err != nil {
				t.Fatalf("ReadFrom() error = %v", err)
			}
			if got, want := elemsOf(t, b), elemsOf(t, a); !equalSlices(got, want) {
				t.Errorf("round trip = %v, want %v", got, want)
			}
		})
	}
}

func TestEstimateSerializedSize(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(kind.String(), func(t *testing.T) {
			b := New(kind)
			if size := b.EstimateSerializedSize(); size < 0 {
				t.Errorf("EstimateSerializedSize() = %d, want >= 0", size)
			}
			b.Add(1)
			b.Add(2)
			if size := b.EstimateSerializedSize(); size <= 0 {
				t.Errorf("EstimateSerializedSize() with members = %d, want > 0", size)
			}
		})
	}
}

func equalSlices(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
