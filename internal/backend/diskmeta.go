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

package backend

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/uzqw/vex/internal/vecerr"
)

// DefaultVecsPerFile is the number of vectors held per on-disk page file
// when a backend doesn't request another value.
const DefaultVecsPerFile = 200_000

type diskMetadata struct {
	Dimensions   uint32   `json:"dimensions"`
	Quantization string   `json:"quantization"`
	VecsPerFile  uint32   `json:"vecs_per_file"`
	VecFiles     []uint32 `json:"vec_files"`
	Token        uint64   `json:"token"`
}

func metadataPath(dir string) string {
	return filepath.Join(dir, "metadata.json")
}

func basesPath(dir string) string {
	return filepath.Join(dir, "bases.json")
}

func bitmapPath(dir string, basis, face int) string {
	return filepath.Join(dir, fmt.Sprintf("bitmap_%d_%d.bin", basis, face))
}

func loadMetadata(dir string) (diskMetadata, bool, error) {
	data, err := os.ReadFile(metadataPath(dir))
	if os.IsNotExist(err) {
		return diskMetadata{}, false, nil
	}
	if err != nil {
		return diskMetadata{}, false, fmt.Errorf("%w: %v", vecerr.ErrIoFailure, err)
	}
	var meta diskMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return diskMetadata{}, false, fmt.Errorf("%w: %v", vecerr.ErrSerializationFailure, err)
	}
	return meta, true, nil
}

// writeMetadataAtomic writes meta to metadata.json by writing to a
// temporary file in the same directory and renaming over the destination,
// so a crash mid-write can never leave a partially-written metadata.json.
func writeMetadataAtomic(dir string, meta diskMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: %v", vecerr.ErrSerializationFailure, err)
	}

	tmp := metadataPath(dir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", vecerr.ErrIoFailure, err)
	}
	if err := os.Rename(tmp, metadataPath(dir)); err != nil {
		return fmt.Errorf("%w: %v", vecerr.ErrIoFailure, err)
	}
	return nil
}

// randomNonzeroToken returns a random uint64 that is never zero, used to
// let callers detect a disk backend reopened against a stale or foreign
// directory.
func randomNonzeroToken() uint64 {
	for {
		if v := rand.Uint64(); v != 0 {
			return v
		}
	}
}

func writeBasesAtomic(dir string, bases [][][]float32) error {
	data, err := json.Marshal(bases)
	if err != nil {
		return fmt.Errorf("%w: %v", vecerr.ErrSerializationFailure, err)
	}
	tmp := basesPath(dir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", vecerr.ErrIoFailure, err)
	}
	return os.Rename(tmp, basesPath(dir))
}

func readBases(dir string) ([][][]float32, bool, error) {
	data, err := os.ReadFile(basesPath(dir))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", vecerr.ErrIoFailure, err)
	}
	var bases [][][]float32
	if err := json.Unmarshal(data, &bases); err != nil {
		return nil, false, fmt.Errorf("%w: %v", vecerr.ErrSerializationFailure, err)
	}
	return bases, true, nil
}
