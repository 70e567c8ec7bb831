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

package vecmath

import "math/rand/v2"

// CreateRandomVector returns a unit-normalized vector of dimensionality d
// with components sampled uniformly from [-1, 1]. It is a test and
// basis-construction helper, not part of the hot query path.
func CreateRandomVector(d int) []float32 {
	v := make([]float32, d)
	for {
		for i := range v {
			v[i] = float32(rand.Float64()*2 - 1)
		}
		if _, err := Normalize(v); err == nil {
			return v
		}
	}
}
