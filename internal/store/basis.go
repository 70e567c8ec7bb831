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

import "github.com/uzqw/vex/internal/vecmath"

// gramSchmidtRounds is the number of modified Gram-Schmidt passes run over
// a freshly sampled basis. The spec requires at least one; a second pass
// tightens orthogonality past what a single pass leaves for larger D
// without meaningfully changing the cost of building a basis.
const gramSchmidtRounds = 2

// makeBasis samples d random vectors with components uniform in [-1, 1],
// normalizes each, then runs gramSchmidtRounds passes of modified
// Gram-Schmidt: for every ordered pair (i<j), subtract the projection of
// b_j onto b_i from b_j and renormalize b_j. The random-split construction
// this replaces (create_split) is retired; this is the only basis
// construction this package implements.
func makeBasis(d int) [][]float32 {
	basis := make([][]float32, d)
	for i := range basis {
		basis[i] = vecmath.CreateRandomVector(d)
	}

	for round := 0; round < gramSchmidtRounds; round++ {
		for i := 0; i < d; i++ {
			for j := i + 1; j < d; j++ {
				dot, err := vecmath.Dot(basis[i], basis[j])
				if err != nil {
					continue
				}
				proj := make([]float32, d)
				for x := range proj {
					proj[x] = dot * basis[i][x]
				}
				_ = vecmath.SubtractInto(basis[j], proj)
				if _, err := vecmath.Normalize(basis[j]); err != nil {
					// A degenerate (near-zero) renormalization is vanishingly
					// unlikely with random sampling; resample the axis rather
					// than leave a zero vector in the basis.
					basis[j] = vecmath.CreateRandomVector(d)
				}
			}
		}
	}
	return basis
}

// projectAll returns the projection of v onto every axis of basis:
// proj[k] = v . basis[k].
func projectAll(v []float32, basis [][]float32) []float32 {
	proj := make([]float32, len(basis))
	for k, axis := range basis {
		proj[k], _ = vecmath.Dot(v, axis)
	}
	return proj
}

// findFaceIdx selects the dominant axis of proj: the axis with the larger
// absolute projection between the argmax and the argmin, ties breaking
// toward the argmax. It returns axis+1 if the selected projection is
// positive, or -(axis+1) if negative, encoding both the axis and its sign
// in one nonzero signed integer.
func findFaceIdx(proj []float32) int {
	amax, amin := 0, 0
	for i, p := range proj {
		if p > proj[amax] {
			amax = i
		}
		if p < proj[amin] {
			amin = i
		}
	}

	axis := amax
	if absf32(proj[amin]) > absf32(proj[amax]) {
		axis = amin
	}

	if proj[axis] > 0 {
		return axis + 1
	}
	return -(axis + 1)
}

func absf32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
