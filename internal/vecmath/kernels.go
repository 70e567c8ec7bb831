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

import "github.com/klauspost/cpuid/v2"

// kernelFunc computes a scalar reduction over two equal-length float32
// slices (dot product or squared distance, depending on which table it
// came from).
type kernelFunc func(a, b []float32) float32

// tier identifies which width of unrolled loop the CPU can profitably run.
// There is no real vector instruction behind any of these; cpuid only
// chooses how aggressively the pure-Go loop is unrolled, since genuine
// assembly kernels can't be verified without a build we're not allowed to
// run here.
type tier int

const (
	tierScalar tier = iota
	tierWide4       // stands in for an SSE/NEON-width kernel
	tierWide8       // stands in for an AVX+FMA-width kernel
)

var detectedTier = tierScalar

func init() {
	switch {
	case cpuid.CPU.Supports(cpuid.AVX2, cpuid.FMA3):
		detectedTier = tierWide8
	case cpuid.CPU.Supports(cpuid.SSE2) || cpuid.CPU.Supports(cpuid.ASIMD):
		detectedTier = tierWide4
	default:
		detectedTier = tierScalar
	}
}

// dotKernel picks the dot-product kernel for a reduction of length n,
// honoring both the detected tier and the width thresholds below which the
// unrolled loops aren't worth their setup cost.
func dotKernel(n int) kernelFunc {
	switch {
	case detectedTier == tierWide8 && n >= AVXThreshold:
		return dotUnroll8
	case detectedTier >= tierWide4 && n >= SSEThreshold:
		return dotUnroll4
	default:
		return dotScalar
	}
}

func sqDistKernel(n int) kernelFunc {
	switch {
	case detectedTier == tierWide8 && n >= AVXThreshold:
		return sqDistUnroll8
	case detectedTier >= tierWide4 && n >= SSEThreshold:
		return sqDistUnroll4
	default:
		return sqDistScalar
	}
}

func dotScalar(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func dotUnroll4(a, b []float32) float32 {
	n := len(a)
	lanes := n - n%4
	var s0, s1, s2, s3 float32
	for i := 0; i < lanes; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	sum := s0 + s1 + s2 + s3
	for i := lanes; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func dotUnroll8(a, b []float32) float32 {
	n := len(a)
	lanes := n - n%8
	var s [8]float32
	for i := 0; i < lanes; i += 8 {
		for j := 0; j < 8; j++ {
			s[j] += a[i+j] * b[i+j]
		}
	}
	sum := s[0] + s[1] + s[2] + s[3] + s[4] + s[5] + s[6] + s[7]
	for i := lanes; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func sqDistScalar(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func sqDistUnroll4(a, b []float32) float32 {
	n := len(a)
	lanes := n - n%4
	var s0, s1, s2, s3 float32
	for i := 0; i < lanes; i += 4 {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		s0 += d0 * d0
		s1 += d1 * d1
		s2 += d2 * d2
		s3 += d3 * d3
	}
	sum := s0 + s1 + s2 + s3
	for i := lanes; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func sqDistUnroll8(a, b []float32) float32 {
	n := len(a)
	lanes := n - n%8
	var s [8]float32
	for i := 0; i < lanes; i += 8 {
		for j := 0; j < 8; j++ {
			d := a[i+j] - b[i+j]
			s[j] += d * d
		}
	}
	sum := s[0] + s[1] + s[2] + s[3] + s[4] + s[5] + s[6] + s[7]
	for i := lanes; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
