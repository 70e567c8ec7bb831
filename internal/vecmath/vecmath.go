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

// Package vecmath provides the vector math primitives the index and
// backends build on: normalization, dot product, Euclidean distance,
// in-place subtraction and plane projection. Dot product and distance
// dispatch to width-appropriate unrolled kernels selected once at process
// start from detected CPU features.
package vecmath

import (
	"math"

	"github.com/uzqw/vex/internal/vecerr"
)

// SSEThreshold and AVXThreshold are the minimum dimensionalities at which
// the wider kernel tiers are worth their loop overhead; below them the
// scalar kernel is used regardless of detected CPU features.
const (
	SSEThreshold = 16
	AVXThreshold = 32
)

// Normalize scales v to unit length in place and returns it. It fails with
// ErrZeroVector when v has zero magnitude, since there is no direction to
// preserve.
func Normalize(v []float32) ([]float32, error) {
	mag := Magnitude(v)
	if mag == 0 {
		return nil, vecerr.ErrZeroVector
	}
	inv := 1 / mag
	for i := range v {
		v[i] *= inv
	}
	return v, nil
}

// Magnitude returns the Euclidean norm of v.
func Magnitude(v []float32) float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	return float32(math.Sqrt(float64(sum)))
}

// Dot returns the dot product of a and b, dispatching to the kernel tier
// appropriate for len(a).
func Dot(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, vecerr.ErrDimensionMismatch
	}
	return dotKernel(len(a))(a, b), nil
}

// Distance returns the Euclidean distance between a and b using the
// pairwise-squared-difference form, never the expand-and-cancel identity,
// to avoid catastrophic cancellation for near-identical vectors.
func Distance(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, vecerr.ErrDimensionMismatch
	}
	sq := sqDistKernel(len(a))(a, b)
	return float32(math.Sqrt(float64(sq))), nil
}

// SubtractInto computes u -= v element-wise, in place.
func SubtractInto(u, v []float32) error {
	if len(u) != len(v) {
		return vecerr.ErrDimensionMismatch
	}
	for i := range u {
		u[i] -= v[i]
	}
	return nil
}

// ProjectToPlane removes the component of v along unit normal n, in place,
// then renormalizes v: v <- normalize(v - (v.n)n).
func ProjectToPlane(v, n []float32) error {
	if len(v) != len(n) {
		return vecerr.ErrDimensionMismatch
	}
	d, err := Dot(v, n)
	if err != nil {
		return err
	}
	for i := range v {
		v[i] -= d * n[i]
	}
	_, err = Normalize(v)
	return err
}

// CosineSimilarity returns the cosine similarity of a and b: their dot
// product divided by the product of their magnitudes, so neither input
// needs to be normalized. For unit vectors it equals Dot. It fails with
// ErrZeroVector when either input has zero magnitude.
func CosineSimilarity(a, b []float32) (float32, error) {
	d, err := Dot(a, b)
	if err != nil {
		return 0, err
	}
	mag := Magnitude(a) * Magnitude(b)
	if mag == 0 {
		return 0, vecerr.ErrZeroVector
	}
	return d / mag, nil
}
