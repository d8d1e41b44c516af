package blockfs

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// SectorSize is the fixed payload size of every sector.
const SectorSize = 512

// BlockDevice is the external collaborator contract: a fixed-size sector
// store. Sector 0 is reserved for the free-sector map, sector 1 by
// convention for the root directory's inode.
type BlockDevice interface {
	ReadSector(sector uint32, dst []byte) error
	WriteSector(sector uint32, src []byte) error
	SectorCount() uint32
	WriteCount() uint64
}

// FileDevice is the reference BlockDevice backed by a fixed-size OS file.
// The actual pread/pwrite plumbing is platform-specific; see
// device_unix.go and device_other.go.
type FileDevice struct {
	f       *os.File
	sectors uint32
	writes  uint64
}

// OpenFileDevice opens (creating if necessary) a backing file sized to
// hold sectors sectors, truncating or extending it to match.
func OpenFileDevice(path string, sectors uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	size := int64(sectors) * SectorSize
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	return &FileDevice{f: f, sectors: sectors}, nil
}

// Close releases the backing file. It does not flush any cache sitting on
// top of the device; callers must do that first.
func (d *FileDevice) Close() error { return d.f.Close() }

func (d *FileDevice) SectorCount() uint32 { return d.sectors }

func (d *FileDevice) WriteCount() uint64 { return atomic.LoadUint64(&d.writes) }

func (d *FileDevice) ReadSector(sector uint32, dst []byte) error {
	if sector >= d.sectors {
		return fmt.Errorf("blockfs: sector %d out of range (%d total)", sector, d.sectors)
	}
	if len(dst) != SectorSize {
		return fmt.Errorf("blockfs: short buffer for sector read: %d", len(dst))
	}
	return d.preadSector(sector, dst)
}

func (d *FileDevice) WriteSector(sector uint32, src []byte) error {
	if sector >= d.sectors {
		return fmt.Errorf("blockfs: sector %d out of range (%d total)", sector, d.sectors)
	}
	if len(src) != SectorSize {
		return fmt.Errorf("blockfs: short buffer for sector write: %d", len(src))
	}
	if err := d.pwriteSector(sector, src); err != nil {
		return err
	}
	atomic.AddUint64(&d.writes, 1)
	return nil
}

// MemDevice is an in-memory BlockDevice used by tests. It also supports
// injecting a read failure at a given sector, used to exercise the
// cache's read-error-surfaces-as-zero-filled-sector behavior.
type MemDevice struct {
	mu      sync.Mutex
	data    []byte
	sectors uint32
	writes  uint64

	failReadSector uint32
	failRead       bool
}

// NewMemDevice allocates an in-memory device of the given sector count,
// zero-initialized.
func NewMemDevice(sectors uint32) *MemDevice {
	return &MemDevice{
		data:    make([]byte, int64(sectors)*SectorSize),
		sectors: sectors,
	}
}

// FailReadAt makes the next read of sector return a zero-filled buffer as
// if the device had faulted.
func (d *MemDevice) FailReadAt(sector uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failRead = true
	d.failReadSector = sector
}

func (d *MemDevice) SectorCount() uint32 { return d.sectors }

func (d *MemDevice) WriteCount() uint64 { return atomic.LoadUint64(&d.writes) }

func (d *MemDevice) ReadSector(sector uint32, dst []byte) error {
	if sector >= d.sectors {
		return fmt.Errorf("blockfs: sector %d out of range (%d total)", sector, d.sectors)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failRead && sector == d.failReadSector {
		d.failRead = false
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}
	copy(dst, d.data[int64(sector)*SectorSize:int64(sector)*SectorSize+SectorSize])
	return nil
}

func (d *MemDevice) WriteSector(sector uint32, src []byte) error {
	if sector >= d.sectors {
		return fmt.Errorf("blockfs: sector %d out of range (%d total)", sector, d.sectors)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.data[int64(sector)*SectorSize:int64(sector)*SectorSize+SectorSize], src)
	atomic.AddUint64(&d.writes, 1)
	return nil
}
