package blockfs

import (
	"encoding/binary"
	"fmt"
)

// numDirect, numIndirectPtrs are the on-disk inode's addressing fan-out:
// 121 direct pointers, 128 pointers per indirection block (indirect and
// doubly-indirect each cover 128 of the next level).
const (
	numDirect       = 121
	numIndirectPtrs = 128

	// maxAddressableSectors = 121 + 128 + 128*128, giving a ~8.1MiB ceiling.
	maxAddressableSectors = numDirect + numIndirectPtrs + numIndirectPtrs*numIndirectPtrs

	inodeMagic uint32 = 0x494E4F44 // "DONI" little-endian
)

// DiskInode is the exact, little-endian, 512-byte on-disk inode layout.
type DiskInode struct {
	Length         int32
	Parent         uint32 // parent-dir sector; directories only, 0 otherwise
	Direct         [numDirect]uint32
	Indirect       uint32
	DoublyIndirect uint32
	IsDir          bool
	Magic          uint32
}

// Byte offsets within the 512-byte sector.
const (
	offLength   = 0
	offParent   = 4
	offDirect   = 8
	offIndirect = offDirect + numDirect*4 // 492
	offDoubly   = offIndirect + 4         // 496
	offIsDir    = offDoubly + 4           // 500
	offMagic    = offIsDir + 1            // 501
)

// MarshalBinary encodes the inode into a fresh SectorSize-byte sector.
func (d *DiskInode) MarshalBinary() []byte {
	buf := make([]byte, SectorSize)
	binary.LittleEndian.PutUint32(buf[offLength:], uint32(d.Length))
	binary.LittleEndian.PutUint32(buf[offParent:], d.Parent)
	for i, sector := range d.Direct {
		binary.LittleEndian.PutUint32(buf[offDirect+i*4:], sector)
	}
	binary.LittleEndian.PutUint32(buf[offIndirect:], d.Indirect)
	binary.LittleEndian.PutUint32(buf[offDoubly:], d.DoublyIndirect)
	if d.IsDir {
		buf[offIsDir] = 1
	}
	binary.LittleEndian.PutUint32(buf[offMagic:], d.Magic)
	return buf
}

// UnmarshalBinary decodes a SectorSize-byte sector into the inode. A
// magic mismatch is a Fatal condition: the caller is expected to have
// never handed us a sector that wasn't inode_create'd.
func (d *DiskInode) UnmarshalBinary(buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("blockfs: disk inode buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	d.Length = int32(binary.LittleEndian.Uint32(buf[offLength:]))
	d.Parent = binary.LittleEndian.Uint32(buf[offParent:])
	for i := range d.Direct {
		d.Direct[i] = binary.LittleEndian.Uint32(buf[offDirect+i*4:])
	}
	d.Indirect = binary.LittleEndian.Uint32(buf[offIndirect:])
	d.DoublyIndirect = binary.LittleEndian.Uint32(buf[offDoubly:])
	d.IsDir = buf[offIsDir] != 0
	d.Magic = binary.LittleEndian.Uint32(buf[offMagic:])
	if d.Magic != inodeMagic {
		return fmt.Errorf("blockfs: bad inode magic %#x, want %#x", d.Magic, inodeMagic)
	}
	return nil
}

// sectorsFor returns ceil(size / SectorSize): the addressed sector count
// for a file of the given byte length.
func sectorsFor(size int64) int64 {
	if size <= 0 {
		return 0
	}
	return (size + SectorSize - 1) / SectorSize
}
