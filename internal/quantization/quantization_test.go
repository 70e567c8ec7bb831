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

package quantization

import (
	"math"
	"testing"
)

func TestIdentityRoundTrip(t *testing.T) {
	v := []float32{0.1, -0.2, 0.3, 1.0, -1.0}
	q := Identity{}

	lowered, err := q.Lower(v)
	if err != nil {
		t.Fatalf("Lower() error = %v", err)
	}

	dst := make([]byte, q.VectorSize(len(v)))
	if err := q.Marshal(lowered, dst); err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	back, err := q.Unmarshal(dst, len(v))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	for i := range v {
		if back[i] != lowered[i] {
			t.Errorf("round trip[%d] = %v, want exactly %v", i, back[i], lowered[i])
		}
	}
}

func TestIdentitySimilarity(t *testing.T) {
	q := Identity{}
	lowered, _ := q.Lower([]float32{1, 0, 0})
	sim, err := q.Similarity([]float32{1, 0, 0}, lowered)
	if err != nil {
		t.Fatalf("Similarity() error = %v", err)
	}
	if sim != 1.0 {
		t.Errorf("Similarity() = %v, want 1.0", sim)
	}
}

func TestBF16RoundTripWithinEpsilon(t *testing.T) {
	v := []float32{0.123456, -0.654321, 1.0, -1.0, 0.0}
	q := BF16{}

	lowered, err := q.Lower(v)
	if err != nil {
		t.Fatalf("Lower() error = %v", err)
	}

	dst := make([]byte, q.VectorSize(len(v)))
	if err := q.Marshal(lowered, dst); err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	back, err := q.Unmarshal(dst, len(v))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for i := range lowered {
		if back[i] != lowered[i] {
			t.Errorf("bf16 byte round trip[%d] = %v, want exactly %v (lossless at the byte level)", i, back[i], lowered[i])
		}
	}

	sim, err := q.Similarity(v, lowered)
	if err != nil {
		t.Fatalf("Similarity() error = %v", err)
	}
	// bf16 keeps 8 mantissa bits; a generous epsilon accounts for rounding
	// across all components.
	want := float32(0)
	for _, x := range v {
		want += x * x
	}
	if math.Abs(float64(sim-want)) > 0.05 {
		t.Errorf("Similarity() = %v, want ~%v within bf16 epsilon", sim, want)
	}
}

func TestRehydrate(t *testing.T) {
	v := []float32{0.25, -0.5, 0.75}

	idLowered, _ := Identity{}.Lower(v)
	back, err := Identity{}.Rehydrate(idLowered)
	if err != nil {
		t.Fatalf("Identity.Rehydrate() error = %v", err)
	}
	for i := range v {
		if back[i] != v[i] {
			t.Errorf("Identity.Rehydrate()[%d] = %v, want %v", i, back[i], v[i])
		}
	}

	bfLowered, _ := BF16{}.Lower(v)
	bfBack, err := BF16{}.Rehydrate(bfLowered)
	if err != nil {
		t.Fatalf("BF16.Rehydrate() error = %v", err)
	}
	for i := range v {
		if math.Abs(float64(bfBack[i]-v[i])) > 0.02 {
			t.Errorf("BF16.Rehydrate()[%d] = %v, want ~%v", i, bfBack[i], v[i])
		}
	}
}

func TestNames(t *testing.T) {
	if (Identity{}).Name() != "identity" {
		t.Errorf("Identity name = %q, want identity", Identity{}.Name())
	}
	if (BF16{}).Name() != "bf16" {
		t.Errorf("BF16 name = %q, want bf16", BF16{}.Name())
	}
}
