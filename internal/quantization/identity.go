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
	"encoding/binary"
	"math"

	"github.com/uzqw/vex/internal/vecerr"
	"github.com/uzqw/vex/internal/vecmath"
)

// Identity is the lossless quantization: the lowered form is the float32
// vector itself, stored as 4 bytes per component, little-endian.
type Identity struct{}

var _ Quantization[[]float32] = Identity{}

func (Identity) Lower(v []float32) ([]float32, error) {
	out := make([]float32, len(v))
	copy(out, v)
	return out, nil
}

func (Identity) Similarity(target []float32, lowered []float32) (float32, error) {
	return vecmath.Dot(target, lowered)
}

func (Identity) Rehydrate(lowered []float32) ([]float32, error) {
	out := make([]float32, len(lowered))
	copy(out, lowered)
	return out, nil
}

func (Identity) VectorSize(d int) int {
	return 4 * d
}

func (Identity) Marshal(lowered []float32, dst []byte) error {
	need := 4 * len(lowered)
	if len(dst) < need {
		return vecerr.ErrSerializationFailure
	}
	for i, x := range lowered {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(x))
	}
	return nil
}

func (Identity) Unmarshal(src []byte, d int) ([]float32, error) {
	need := 4 * d
	if len(src) < need {
		return nil, vecerr.ErrSerializationFailure
	}
	out := make([]float32, d)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return out, nil
}

func (Identity) Name() string {
	return "identity"
}
