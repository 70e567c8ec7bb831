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

	"github.com/d4l3k/go-bfloat16"

	"github.com/uzqw/vex/internal/vecerr"
	"github.com/uzqw/vex/internal/vecmath"
)

// BF16 is the lossy quantization: each component is rounded to a 16-bit
// brain float, halving the in-memory and on-disk footprint at the cost of
// precision. The lowered form is kept as the raw bf16 bit patterns so
// Marshal/Unmarshal are plain byte copies; rehydration to float32 for
// similarity goes back through the same library used to lower.
type BF16 struct{}

var _ Quantization[[]uint16] = BF16{}

func (BF16) Lower(v []float32) ([]uint16, error) {
	buf := bfloat16.Encode(v)
	out := make([]uint16, len(v))
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(buf[i*2:])
	}
	return out, nil
}

func (BF16) Similarity(target []float32, lowered []uint16) (float32, error) {
	if len(target) != len(lowered) {
		return 0, vecerr.ErrDimensionMismatch
	}
	buf := make([]byte, 2*len(lowered))
	for i, x := range lowered {
		binary.LittleEndian.PutUint16(buf[i*2:], x)
	}
	rehydrated := bfloat16.Decode(buf)
	return vecmath.Dot(target, rehydrated)
}

func (BF16) Rehydrate(lowered []uint16) ([]float32, error) {
	buf := make([]byte, 2*len(lowered))
	for i, x := range lowered {
		binary.LittleEndian.PutUint16(buf[i*2:], x)
	}
	out := bfloat16.Decode(buf)
	return out, nil
}

func (BF16) VectorSize(d int) int {
	return 2 * d
}

func (BF16) Marshal(lowered []uint16, dst []byte) error {
	need := 2 * len(lowered)
	if len(dst) < need {
		return vecerr.ErrSerializationFailure
	}
	for i, x := range lowered {
		binary.LittleEndian.PutUint16(dst[i*2:], x)
	}
	return nil
}

func (BF16) Unmarshal(src []byte, d int) ([]uint16, error) {
	need := 2 * d
	if len(src) < need {
		return nil, vecerr.ErrSerializationFailure
	}
	out := make([]uint16, d)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(src[i*2:])
	}
	return out, nil
}

func (BF16) Name() string {
	return "bf16"
}
