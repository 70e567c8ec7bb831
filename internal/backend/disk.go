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
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/edsrzf/mmap-go"

	"github.com/uzqw/vex/internal/bitmap"
	"github.com/uzqw/vex/internal/quantization"
	"github.com/uzqw/vex/internal/vecerr"
	"github.com/uzqw/vex/internal/vecmath"
)

// page is one memory-mapped fixed-size vector file.
type page struct {
	file *os.File
	mmap mmap.MMap
}

// DiskBackend is a directory of fixed-size, memory-mapped vector page
// files plus a metadata.json and, once built, a bases.json sidecar and one
// bitmap_{basis}_{face}.bin per face bitmap.
type DiskBackend[L any] struct {
	dir         string
	dimensions  int
	vecsPerFile int
	vecSize     int
	token       uint64
	quant       quantization.Quantization[L]

	mu    sync.RWMutex
	pages map[uint32]*page
}

var _ VectorBackend = (*DiskBackend[[]float32])(nil)
var _ Buildable = (*DiskBackend[[]float32])(nil)
var _ Indexable = (*DiskBackend[[]float32])(nil)
var _ Deletable = (*DiskBackend[[]float32])(nil)

// OpenDiskBackend opens or creates a disk backend rooted at dir. If
// metadata.json already exists, its recorded quantization must match
// quant.Name() or ErrQuantizationMismatch is returned, and its recorded
// dimensions must match the requested dimensions or ErrDimensionMismatch is
// returned.
func OpenDiskBackend[L any](dir string, dimensions int, quant quantization.Quantization[L]) (*DiskBackend[L], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", vecerr.ErrIoFailure, err)
	}

	meta, existed, err := loadMetadata(dir)
	if err != nil {
		return nil, err
	}

	if existed {
		if meta.Quantization != quant.Name() {
			return nil, vecerr.ErrQuantizationMismatch
		}
		if int(meta.Dimensions) != dimensions {
			return nil, vecerr.ErrDimensionMismatch
		}
	} else {
		meta = diskMetadata{
			Dimensions:   uint32(dimensions),
			Quantization: quant.Name(),
			VecsPerFile:  DefaultVecsPerFile,
			VecFiles:     nil,
			Token:        randomNonzeroToken(),
		}
		if err := writeMetadataAtomic(dir, meta); err != nil {
			return nil, err
		}
	}

	db := &DiskBackend[L]{
		dir:         dir,
		dimensions:  dimensions,
		vecsPerFile: int(meta.VecsPerFile),
		vecSize:     quant.VectorSize(dimensions),
		token:       meta.Token,
		quant:       quant,
		pages:       make(map[uint32]*page),
	}

	for _, pageID := range meta.VecFiles {
		if _, err := db.openPage(pageID, false); err != nil {
			return nil, err
		}
	}

	return db, nil
}

// Token returns the random nonzero value embedded in this backend's
// metadata.json, letting callers detect a directory reopened across
// incompatible store instances.
func (d *DiskBackend[L]) Token() uint64 {
	return d.token
}

func (d *DiskBackend[L]) pageFile(pageID uint32) string {
	return fmt.Sprintf("%s/%08x.vec", d.dir, pageID)
}

// openPage returns the mapped page for pageID, creating and zero-sizing it
// on demand when create is true. Callers must hold d.mu.
func (d *DiskBackend[L]) openPage(pageID uint32, create bool) (*page, error) {
	if p, ok := d.pages[pageID]; ok {
		return p, nil
	}

	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(d.pageFile(pageID), flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vecerr.ErrIoFailure, err)
	}

	size := int64(d.vecsPerFile) * int64(d.vecSize)
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", vecerr.ErrIoFailure, err)
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %v", vecerr.ErrIoFailure, err)
		}
	}

	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", vecerr.ErrIoFailure, err)
	}

	p := &page{file: f, mmap: m}
	d.pages[pageID] = p
	return p, nil
}

func (d *DiskBackend[L]) slotFor(id uint64) (pageID uint32, offset int) {
	pageID = uint32(id / uint64(d.vecsPerFile))
	offset = int(id%uint64(d.vecsPerFile)) * d.vecSize
	return
}

func (d *DiskBackend[L]) PutVector(id uint64, v []float32) error {
	if len(v) != d.dimensions {
		return vecerr.ErrDimensionMismatch
	}

	normalized := make([]float32, len(v))
	copy(normalized, v)
	if _, err := vecmath.Normalize(normalized); err != nil {
		return err
	}

	lowered, err := d.quant.Lower(normalized)
	if err != nil {
		return err
	}

	pageID, offset := d.slotFor(id)

	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := d.openPage(pageID, true)
	if err != nil {
		return err
	}
	return d.quant.Marshal(lowered, p.mmap[offset:offset+d.vecSize])
}

func isZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}

func (d *DiskBackend[L]) readSlot(id uint64) ([]byte, error) {
	pageID, offset := d.slotFor(id)

	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.pages[pageID]
	if !ok {
		return nil, vecerr.ErrMissingVector
	}
	slot := p.mmap[offset : offset+d.vecSize]
	if isZero(slot) {
		return nil, vecerr.ErrMissingVector
	}
	out := make([]byte, len(slot))
	copy(out, slot)
	return out, nil
}

func (d *DiskBackend[L]) ComputeSimilarity(target []float32, id uint64) (float32, error) {
	slot, err := d.readSlot(id)
	if err != nil {
		return 0, err
	}
	lowered, err := d.quant.Unmarshal(slot, d.dimensions)
	if err != nil {
		return 0, err
	}
	return d.quant.Similarity(target, lowered)
}

func (d *DiskBackend[L]) GetVector(id uint64) ([]float32, error) {
	slot, err := d.readSlot(id)
	if err != nil {
		return nil, err
	}
	lowered, err := d.quant.Unmarshal(slot, d.dimensions)
	if err != nil {
		return nil, err
	}
	return d.quant.Rehydrate(lowered)
}

func (d *DiskBackend[L]) ForEachVector(yield func(id uint64, v []float32) bool) {
	d.mu.RLock()
	pageIDs := make([]uint32, 0, len(d.pages))
	for id := range d.pages {
		pageIDs = append(pageIDs, id)
	}
	d.mu.RUnlock()
	sort.Slice(pageIDs, func(i, j int) bool { return pageIDs[i] < pageIDs[j] })

	for _, pageID := range pageIDs {
		d.mu.RLock()
		p := d.pages[pageID]
		d.mu.RUnlock()

		for slot := 0; slot < d.vecsPerFile; slot++ {
			offset := slot * d.vecSize
			raw := p.mmap[offset : offset+d.vecSize]
			if isZero(raw) {
				continue
			}
			buf := make([]byte, len(raw))
			copy(buf, raw)

			lowered, err := d.quant.Unmarshal(buf, d.dimensions)
			if err != nil {
				continue
			}
			v, err := d.quant.Rehydrate(lowered)
			if err != nil {
				continue
			}
			id := uint64(pageID)*uint64(d.vecsPerFile) + uint64(slot)
			if !yield(id, v) {
				return
			}
		}
	}
}

// DeleteVector zeroes id's slot, if it maps to a page that has been opened.
// A zeroed slot is indistinguishable from a never-written one, matching
// isZero's emptiness check used throughout reads and enumeration.
func (d *DiskBackend[L]) DeleteVector(id uint64) (bool, error) {
	pageID, offset := d.slotFor(id)

	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pages[pageID]
	if !ok {
		return false, nil
	}
	slot := p.mmap[offset : offset+d.vecSize]
	if isZero(slot) {
		return false, nil
	}
	for i := range slot {
		slot[i] = 0
	}
	return true, nil
}

func (d *DiskBackend[L]) SaveBases(bases [][][]float32) error {
	return writeBasesAtomic(d.dir, bases)
}

func (d *DiskBackend[L]) LoadBases() ([][][]float32, bool, error) {
	return readBases(d.dir)
}

func (d *DiskBackend[L]) SaveBitmap(basis, face int, bm bitmap.Bitmap) error {
	path := bitmapPath(d.dir, basis, face)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %v", vecerr.ErrIoFailure, err)
	}
	if _, err := bm.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", vecerr.ErrIoFailure, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", vecerr.ErrIoFailure, err)
	}
	return os.Rename(tmp, path)
}

func (d *DiskBackend[L]) LoadBitmap(basis, face int, kind bitmap.Kind) (bitmap.Bitmap, bool, error) {
	f, err := os.Open(bitmapPath(d.dir, basis, face))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", vecerr.ErrIoFailure, err)
	}
	defer f.Close()

	bm, err := bitmap.ReadFrom(kind, f)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", vecerr.ErrSerializationFailure, err)
	}
	return bm, true, nil
}

// Info reports HasIndexData true once a bases.json sidecar is present,
// meaning a prior build_index persisted its state to this directory.
func (d *DiskBackend[L]) Info() Info {
	_, hasIndex, _ := readBases(d.dir)

	d.mu.RLock()
	count := d.countOccupied()
	d.mu.RUnlock()

	return Info{
		Dimensions:       d.dimensions,
		NBasis:           0,
		VectorCount:      count,
		HasIndexData:     hasIndex,
		QuantizationName: d.quant.Name(),
	}
}

// countOccupied scans every mapped page for non-zeroed slots. Callers must
// hold d.mu for reading.
func (d *DiskBackend[L]) countOccupied() int {
	total := 0
	for _, p := range d.pages {
		for slot := 0; slot < d.vecsPerFile; slot++ {
			offset := slot * d.vecSize
			if !isZero(p.mmap[offset : offset+d.vecSize]) {
				total++
			}
		}
	}
	return total
}

// Sync flushes every mapped page concurrently, then atomically rewrites
// metadata.json with the current set of active pages. This mirrors the
// original's "flush all pages asynchronously, then rewrite metadata" order,
// realized here as parallel synchronous flushes rather than true async I/O.
func (d *DiskBackend[L]) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(d.pages))
	for _, p := range d.pages {
		wg.Add(1)
		go func(p *page) {
			defer wg.Done()
			if err := p.mmap.Flush(); err != nil {
				errCh <- err
			}
		}(p)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return fmt.Errorf("%w: %v", vecerr.ErrIoFailure, err)
		}
	}

	pageIDs := make([]uint32, 0, len(d.pages))
	for id := range d.pages {
		pageIDs = append(pageIDs, id)
	}
	sort.Slice(pageIDs, func(i, j int) bool { return pageIDs[i] < pageIDs[j] })

	return writeMetadataAtomic(d.dir, diskMetadata{
		Dimensions:   uint32(d.dimensions),
		Quantization: d.quant.Name(),
		VecsPerFile:  uint32(d.vecsPerFile),
		VecFiles:     pageIDs,
		Token:        d.token,
	})
}

// Close unmaps and closes every open page file without flushing. Callers
// that want durability must call Sync first.
func (d *DiskBackend[L]) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for _, p := range d.pages {
		if err := p.mmap.Unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := p.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
