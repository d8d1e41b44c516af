package blockfs

import (
	"os"
	"sync"

	"github.com/willf/bitset"
)

// FreeMap is the external collaborator contract: a bitmap allocating/
// freeing individual sectors. n=1 is the only case exercised by the
// inode store, whose resize algorithm only ever asks for single sectors.
type FreeMap interface {
	Allocate(n int) (first uint32, ok bool)
	Release(sector uint32, n int)
}

// BitmapFreeMap is the reference FreeMap: one bit per sector, sector 0
// pinned allocated forever (it belongs to the free-map itself), backed
// by github.com/willf/bitset and persisted to a sidecar file on
// Save/Load.
type BitmapFreeMap struct {
	mu   sync.Mutex
	bits *bitset.BitSet
	size uint32
}

// NewBitmapFreeMap creates a free-map over sectorCount sectors with
// sector 0 pre-allocated.
func NewBitmapFreeMap(sectorCount uint32) *BitmapFreeMap {
	fm := &BitmapFreeMap{
		bits: bitset.New(uint(sectorCount)),
		size: sectorCount,
	}
	fm.bits.Set(0)
	return fm
}

// LoadBitmapFreeMap restores a free-map previously written by Save.
func LoadBitmapFreeMap(path string, sectorCount uint32) (*BitmapFreeMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	bs := &bitset.BitSet{}
	if err := bs.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &BitmapFreeMap{bits: bs, size: sectorCount}, nil
}

// Save persists the free-map to its own file.
func (fm *BitmapFreeMap) Save(path string) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	data, err := fm.bits.MarshalBinary()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Allocate reserves n contiguous sectors (n=1 is the only case used by
// the inode store) and returns the first sector number.
func (fm *BitmapFreeMap) Allocate(n int) (uint32, bool) {
	if n != 1 {
		return fm.allocateRun(n)
	}
	fm.mu.Lock()
	defer fm.mu.Unlock()
	idx, ok := fm.bits.NextClear(0)
	if !ok || uint32(idx) >= fm.size {
		return 0, false
	}
	fm.bits.Set(idx)
	return uint32(idx), true
}

func (fm *BitmapFreeMap) allocateRun(n int) (uint32, bool) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	run := 0
	start := uint(0)
	for i := uint32(0); i < fm.size; i++ {
		if fm.bits.Test(uint(i)) {
			run = 0
			continue
		}
		if run == 0 {
			start = uint(i)
		}
		run++
		if run == n {
			for j := uint(0); j < uint(n); j++ {
				fm.bits.Set(start + j)
			}
			return uint32(start), true
		}
	}
	return 0, false
}

// Release frees n contiguous sectors starting at sector.
func (fm *BitmapFreeMap) Release(sector uint32, n int) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for i := 0; i < n; i++ {
		fm.bits.Clear(uint(sector) + uint(i))
	}
}

// allocated reports whether sector is currently marked allocated, used
// by tests asserting the invariant that every non-zero inode pointer
// refers to an allocated sector.
func (fm *BitmapFreeMap) allocated(sector uint32) bool {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.bits.Test(uint(sector))
}
