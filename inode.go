package blockfs

import (
	"encoding/binary"
	"sync"

	"github.com/coursefs/blockfs/internal/blog"
)

// Store is the process-wide open-inode table: it uniques in-memory
// Handles by sector so two Open calls on the same file share open-count,
// deny-write, and growth-mutex state instead of racing two independent
// copies.
type Store struct {
	cache   *Cache
	freemap FreeMap
	log     *blog.Logger

	mu   sync.Mutex // open-inode list lock; outranks every Handle.mu and growthMu
	open map[uint32]*Handle
}

// NewStore wires an inode store to its cache and free-map collaborators.
func NewStore(cache *Cache, freemap FreeMap) *Store {
	return &Store{
		cache:   cache,
		freemap: freemap,
		log:     blog.New("inode"),
		open:    make(map[uint32]*Handle),
	}
}

// Handle is the in-memory per-open-file state: an open-count, a removed
// flag consulted at last-close, a deny-write counter, and a dedicated
// growth mutex so only one writer at a time extends this file.
type Handle struct {
	store  *Store
	sector uint32
	isDir  bool // snapshotted at open time; a file never changes kind

	mu           sync.Mutex
	openCount    int
	removed      bool
	denyWriteCnt int

	growthMu sync.Mutex
}

// Create lays down a fresh on-disk inode of the given initial length at
// sector, growing it through the same resize path a later write-past-EOF
// would use.
func (s *Store) Create(sector uint32, length int64, isDir bool) error {
	id := &DiskInode{Magic: inodeMagic}
	if err := s.resize(id, length); err != nil {
		return err
	}
	id.Length = int32(length)
	id.IsDir = isDir
	s.writeDiskInode(sector, id)
	return nil
}

// Open returns the shared Handle for sector, creating the in-memory
// record on first open and bumping openCount on every subsequent one.
func (s *Store) Open(sector uint32) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.open[sector]; ok {
		h.mu.Lock()
		h.openCount++
		h.mu.Unlock()
		return h
	}

	id := s.readDiskInode(sector)
	h := &Handle{store: s, sector: sector, openCount: 1, isDir: id.IsDir}
	s.open[sector] = h
	return h
}

// Reopen increments the open-count on an already-held Handle (dup-style
// sharing across descriptor-table slots).
func (h *Handle) Reopen() *Handle {
	h.mu.Lock()
	h.openCount++
	h.mu.Unlock()
	return h
}

// Close decrements the open-count. At the last close of an inode marked
// Remove'd, its data and indirection sectors are released and its own
// sector returned to the free map.
func (h *Handle) Close() {
	s := h.store

	s.mu.Lock()
	h.mu.Lock()
	h.openCount--
	last := h.openCount == 0
	wasRemoved := h.removed
	h.mu.Unlock()
	if last {
		delete(s.open, h.sector)
	}
	s.mu.Unlock()

	if !last || !wasRemoved {
		return
	}

	id := s.readDiskInode(h.sector)
	h.growthMu.Lock()
	if err := s.resize(id, 0); err != nil {
		s.log.Warn("close: releasing sectors for removed inode %d: %v", h.sector, err)
	}
	h.growthMu.Unlock()
	s.freemap.Release(h.sector, 1)
}

// Remove marks the inode for deletion; the underlying sectors are only
// reclaimed once every open Handle has been Closed.
func (h *Handle) Remove() {
	h.mu.Lock()
	h.removed = true
	h.mu.Unlock()
}

// Removed reports whether Remove has been called on this handle.
func (h *Handle) Removed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removed
}

// DenyWrite increments the deny-write counter; executables use this to
// prevent writes to a running image.
func (h *Handle) DenyWrite() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.denyWriteCnt++
	if h.denyWriteCnt > h.openCount {
		fatalf("inode.DenyWrite", "deny-write count %d exceeds open count %d on sector %d", h.denyWriteCnt, h.openCount, h.sector)
	}
}

// AllowWrite reverses one DenyWrite.
func (h *Handle) AllowWrite() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.denyWriteCnt == 0 {
		fatalf("inode.AllowWrite", "unbalanced AllowWrite on sector %d", h.sector)
	}
	h.denyWriteCnt--
}

func (h *Handle) denyWriteCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.denyWriteCnt
}

// IsDir reports whether this inode is a directory.
func (h *Handle) IsDir() bool { return h.isDir }

// Sector is this inode's own on-disk sector number.
func (h *Handle) Sector() uint32 { return h.sector }

// Length is the inode's current byte length.
func (h *Handle) Length() int64 {
	id := h.store.readDiskInode(h.sector)
	return int64(id.Length)
}

// Parent returns the parent directory's sector, valid for directory
// inodes only.
func (h *Handle) Parent() uint32 {
	id := h.store.readDiskInode(h.sector)
	return id.Parent
}

// SetParent records the parent directory's sector, set once at
// directory-creation time.
func (h *Handle) SetParent(parent uint32) {
	id := h.store.readDiskInode(h.sector)
	id.Parent = parent
	h.store.writeDiskInode(h.sector, id)
}

// ReadAt copies up to len(dst) bytes starting at offset, clamped to the
// inode's current length, and returns the number of bytes copied. A read
// starting at or past EOF returns 0.
func (h *Handle) ReadAt(dst []byte, offset int64) int {
	id := h.store.readDiskInode(h.sector)
	avail := int64(id.Length) - offset
	if avail <= 0 || len(dst) == 0 {
		return 0
	}
	size := int64(len(dst))
	if size > avail {
		size = avail
	}

	read := int64(0)
	for read < size {
		idx := int((offset + read) / SectorSize)
		inSec := int((offset + read) % SectorSize)
		n := int64(SectorSize - inSec)
		if rem := size - read; n > rem {
			n = rem
		}
		physical := h.store.addr(id, idx)
		h.store.cache.Read(physical, dst[read:read+n], inSec, int(n))
		read += n
	}
	return int(read)
}

// WriteAt copies len(src) bytes starting at offset, growing the inode
// through resize when offset+len(src) exceeds the current length. A
// failed grow leaves the inode's length unchanged and returns
// (0, ErrNoSpace); a zero-length write always returns (0, nil) without
// consulting deny-write or growing anything.
func (h *Handle) WriteAt(src []byte, offset int64) (int, error) {
	if len(src) == 0 {
		return 0, nil
	}
	if h.denyWriteCount() > 0 {
		return 0, ErrWriteDenied
	}

	want := offset + int64(len(src))

	h.growthMu.Lock()
	id := h.store.readDiskInode(h.sector)
	if want > int64(id.Length) {
		if err := h.store.resize(id, want); err != nil {
			h.growthMu.Unlock()
			return 0, ErrNoSpace
		}
		id.Length = int32(want)
		h.store.writeDiskInode(h.sector, id)
	}
	h.growthMu.Unlock()

	written := int64(0)
	total := int64(len(src))
	for written < total {
		idx := int((offset + written) / SectorSize)
		inSec := int((offset + written) % SectorSize)
		n := int64(SectorSize - inSec)
		if rem := total - written; n > rem {
			n = rem
		}
		physical := h.store.addr(id, idx)
		h.store.cache.Write(physical, src[written:written+n], inSec, int(n))
		written += n
	}
	return int(written), nil
}

func (s *Store) readDiskInode(sector uint32) *DiskInode {
	raw := make([]byte, SectorSize)
	s.cache.Read(sector, raw, 0, SectorSize)
	id := &DiskInode{}
	if err := id.UnmarshalBinary(raw); err != nil {
		fatalf("inode.readDiskInode", "sector %d: %v", sector, err)
	}
	return id
}

func (s *Store) writeDiskInode(sector uint32, id *DiskInode) {
	s.cache.Write(sector, id.MarshalBinary(), 0, SectorSize)
}

func (s *Store) readPtrBlock(sector uint32, buf []uint32) {
	raw := make([]byte, SectorSize)
	s.cache.Read(sector, raw, 0, SectorSize)
	for i := range buf {
		buf[i] = binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
	}
}

func (s *Store) writePtrBlock(sector uint32, buf []uint32) {
	raw := make([]byte, SectorSize)
	for i, v := range buf {
		binary.LittleEndian.PutUint32(raw[i*4:i*4+4], v)
	}
	s.cache.Write(sector, raw, 0, SectorSize)
}

// addr resolves logical sector index i (0-based, within id.Length's
// addressable range) to a physical sector number, walking through the
// indirect/doubly-indirect blocks via the cache every time rather than
// memoizing across calls: a resize can move an indirection block between
// calls, so a cached pointer would go stale.
func (s *Store) addr(id *DiskInode, i int) uint32 {
	switch {
	case i < numDirect:
		return id.Direct[i]
	case i < numDirect+numIndirectPtrs:
		var buf [numIndirectPtrs]uint32
		s.readPtrBlock(id.Indirect, buf[:])
		return buf[i-numDirect]
	default:
		j := i - (numDirect + numIndirectPtrs)
		outer, inner := j/numIndirectPtrs, j%numIndirectPtrs
		var outerBuf [numIndirectPtrs]uint32
		s.readPtrBlock(id.DoublyIndirect, outerBuf[:])
		var innerBuf [numIndirectPtrs]uint32
		s.readPtrBlock(outerBuf[outer], innerBuf[:])
		return innerBuf[inner]
	}
}

// resize grows or shrinks id to newSize, allocating or releasing sectors
// as needed. On allocation failure it rolls back to the previous
// footprint by calling resizeTo a second time with oldSize — a plain
// inverse shrink, not a recursive call back into resize itself — which
// only releases sectors and so cannot itself fail, and returns
// ErrNoSpace with id.Length left untouched.
func (s *Store) resize(id *DiskInode, newSize int64) error {
	oldSize := int64(id.Length)
	if err := s.resizeTo(id, newSize); err != nil {
		_ = s.resizeTo(id, oldSize)
		id.Length = int32(oldSize)
		return err
	}
	id.Length = int32(newSize)
	return nil
}

func (s *Store) resizeTo(id *DiskInode, size int64) error {
	for i := 0; i < numDirect; i++ {
		if err := s.handleDirect(id.Direct[:], size, i, 0); err != nil {
			return err
		}
	}

	if id.Indirect == 0 && size <= int64(numDirect)*SectorSize {
		return nil
	}
	if err := s.handleIndirect(&id.Indirect, size, numDirect); err != nil {
		return err
	}

	if id.DoublyIndirect == 0 && size <= int64(numDirect+numIndirectPtrs)*SectorSize {
		return nil
	}
	return s.handleDoublyIndirect(&id.DoublyIndirect, size, numDirect+numIndirectPtrs)
}

// handleDirect allocates or releases the single pointer at buf[i], which
// addresses logical sector (base+i).
func (s *Store) handleDirect(buf []uint32, size int64, i, base int) error {
	needed := size > int64(SectorSize)*int64(base+i)
	switch {
	case !needed && buf[i] != 0:
		s.freemap.Release(buf[i], 1)
		buf[i] = 0
	case needed && buf[i] == 0:
		sec, ok := s.freemap.Allocate(1)
		if !ok {
			return ErrNoSpace
		}
		buf[i] = sec
	}
	return nil
}

// handleIndirect grows or shrinks the indirect block at *ptr, which
// addresses the 128 logical sectors [base, base+128).
func (s *Store) handleIndirect(ptr *uint32, size int64, base int) error {
	var buf [numIndirectPtrs]uint32
	if *ptr == 0 {
		if size <= int64(SectorSize)*int64(base) {
			return nil
		}
		sec, ok := s.freemap.Allocate(1)
		if !ok {
			return ErrNoSpace
		}
		*ptr = sec
		s.writePtrBlock(*ptr, buf[:]) // zero the new sector before any rollback can read it
	} else {
		s.readPtrBlock(*ptr, buf[:])
	}

	for i := 0; i < numIndirectPtrs; i++ {
		if err := s.handleDirect(buf[:], size, i, base); err != nil {
			s.writePtrBlock(*ptr, buf[:]) // record this pass's allocations so rollback releases them
			return err
		}
	}

	if size <= int64(SectorSize)*int64(base) {
		s.freemap.Release(*ptr, 1)
		*ptr = 0
	} else {
		s.writePtrBlock(*ptr, buf[:])
	}
	return nil
}

// handleDoublyIndirect grows or shrinks the doubly-indirect block at
// *ptr, which addresses the 128*128 logical sectors starting at base via
// 128 child indirect blocks.
func (s *Store) handleDoublyIndirect(ptr *uint32, size int64, base int) error {
	var buf [numIndirectPtrs]uint32
	if *ptr == 0 {
		if size <= int64(SectorSize)*int64(base) {
			return nil
		}
		sec, ok := s.freemap.Allocate(1)
		if !ok {
			return ErrNoSpace
		}
		*ptr = sec
		s.writePtrBlock(*ptr, buf[:]) // zero the new sector before any rollback can read it
	} else {
		s.readPtrBlock(*ptr, buf[:])
	}

	for i := 0; i < numIndirectPtrs; i++ {
		if err := s.handleIndirect(&buf[i], size, base+numIndirectPtrs*i); err != nil {
			s.writePtrBlock(*ptr, buf[:]) // record this pass's allocations so rollback releases them
			return err
		}
	}

	if size <= int64(SectorSize)*int64(base) {
		s.freemap.Release(*ptr, 1)
		*ptr = 0
	} else {
		s.writePtrBlock(*ptr, buf[:])
	}
	return nil
}
