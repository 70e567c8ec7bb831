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

// Package vecerr defines the sentinel error kinds shared across the index,
// backends and quantization packages so callers can errors.Is/errors.As
// against a stable, named set instead of parsing error strings.
package vecerr

import "errors"

var (
	// ErrDimensionMismatch is returned when an input vector's length does
	// not match the store or backend's configured dimensionality.
	ErrDimensionMismatch = errors.New("vex: dimension mismatch")

	// ErrNotBuildable is returned when an operation requires a backend
	// implementing the Buildable capability and the backend does not.
	ErrNotBuildable = errors.New("vex: backend is not buildable")

	// ErrAlreadyBuilt is returned when BuildIndex is called on a store that
	// has already built (or loaded) its index.
	ErrAlreadyBuilt = errors.New("vex: store already built")

	// ErrNotBuilt is returned by online insertion after build when the
	// store is marked built but holds no face bitmaps to insert into.
	ErrNotBuilt = errors.New("vex: store not built")

	// ErrMissingVector is returned when similarity is requested for an id
	// the backend has no stored vector for.
	ErrMissingVector = errors.New("vex: missing vector")

	// ErrBudgetUnmet is returned when no counting-bitmap layer reaches the
	// requested search_k.
	ErrBudgetUnmet = errors.New("vex: no candidate layer met search budget")

	// ErrIoFailure wraps a backend persistence failure.
	ErrIoFailure = errors.New("vex: io failure")

	// ErrSerializationFailure wraps a metadata or bitmap decode failure.
	ErrSerializationFailure = errors.New("vex: serialization failure")

	// ErrQuantizationMismatch is returned when an on-disk backend's
	// recorded quantization name does not match the one requested at open.
	ErrQuantizationMismatch = errors.New("vex: quantization mismatch")

	// ErrZeroVector is returned by Normalize when the input has zero
	// magnitude and cannot be scaled to unit length.
	ErrZeroVector = errors.New("vex: zero vector")
)
