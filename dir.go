package blockfs

import (
	"encoding/binary"
)

// Directory entries are fixed-size 20-byte records: a 4-byte inode
// sector, a 15-byte name field, and a 1-byte in-use flag. The name field
// holds at most 14 characters plus a mandatory null terminator, so
// dirNameMaxLen (the rejection bound) is one less than dirNameFieldLen
// (the storage width).
const (
	dirEntrySize    = 20
	dirNameFieldLen = 15
	dirNameMaxLen   = dirNameFieldLen - 1
	dirEntrySector  = 0  // offset of the sector field
	dirEntryName    = 4  // offset of the name field
	dirEntryInUse   = 19 // offset of the in-use byte
)

// ErrNameTooLong's bound is dirNameMaxLen; names are rejected outright,
// never truncated.

type dirEntry struct {
	sector uint32
	name   string
	inUse  bool
}

func decodeDirEntry(raw []byte) dirEntry {
	var e dirEntry
	e.sector = binary.LittleEndian.Uint32(raw[dirEntrySector:])
	e.inUse = raw[dirEntryInUse] != 0
	end := dirEntryName
	for end < dirEntryName+dirNameFieldLen && raw[end] != 0 {
		end++
	}
	e.name = string(raw[dirEntryName:end])
	return e
}

func encodeDirEntry(e dirEntry) []byte {
	raw := make([]byte, dirEntrySize)
	binary.LittleEndian.PutUint32(raw[dirEntrySector:], e.sector)
	copy(raw[dirEntryName:dirEntryName+dirNameFieldLen], e.name)
	if e.inUse {
		raw[dirEntryInUse] = 1
	}
	return raw
}

// Dir is a directory-as-regular-file view over an inode Handle: entries
// are fixed 20-byte records appended/linear-scanned like any other file
// content, through the same Handle.ReadAt/WriteAt the byte-oriented file
// layer uses.
type Dir struct {
	h *Handle
}

// OpenDir wraps an already-open directory inode Handle.
func OpenDir(h *Handle) *Dir { return &Dir{h: h} }

// CreateDir lays down a fresh directory inode at sector with "." and
// ".." entries populated, then opens it.
func (s *Store) CreateDir(sector, parent uint32) (*Dir, error) {
	if err := s.Create(sector, 0, true); err != nil {
		return nil, err
	}
	h := s.Open(sector)
	h.SetParent(parent)
	d := &Dir{h: h}
	if err := d.add(".", sector); err != nil {
		h.Close()
		return nil, err
	}
	if err := d.add("..", parent); err != nil {
		h.Close()
		return nil, err
	}
	return d, nil
}

func (d *Dir) Handle() *Handle { return d.h }

func (d *Dir) Close() { d.h.Close() }

func (d *Dir) entryCount() int64 {
	return d.h.Length() / dirEntrySize
}

func (d *Dir) readEntry(i int64) dirEntry {
	raw := make([]byte, dirEntrySize)
	d.h.ReadAt(raw, i*dirEntrySize)
	return decodeDirEntry(raw)
}

func (d *Dir) writeEntry(i int64, e dirEntry) error {
	_, err := d.h.WriteAt(encodeDirEntry(e), i*dirEntrySize)
	return err
}

// Lookup linear-scans for an in-use entry named name.
func (d *Dir) Lookup(name string) (sector uint32, ok bool) {
	n := d.entryCount()
	for i := int64(0); i < n; i++ {
		e := d.readEntry(i)
		if e.inUse && e.name == name {
			return e.sector, true
		}
	}
	return 0, false
}

// Add inserts a (name -> sector) entry, reusing the first free slot if
// one exists (a prior Remove left a hole), otherwise appending.
func (d *Dir) Add(name string, sector uint32) error {
	if len(name) > dirNameMaxLen {
		return ErrNameTooLong
	}
	if _, ok := d.Lookup(name); ok {
		return ErrExists
	}
	return d.add(name, sector)
}

func (d *Dir) add(name string, sector uint32) error {
	n := d.entryCount()
	for i := int64(0); i < n; i++ {
		if !d.readEntry(i).inUse {
			return d.writeEntry(i, dirEntry{sector: sector, name: name, inUse: true})
		}
	}
	return d.writeEntry(n, dirEntry{sector: sector, name: name, inUse: true})
}

// Remove clears the entry named name. Removing "." or ".." is always
// rejected.
func (d *Dir) Remove(name string) error {
	if name == "." || name == ".." {
		return ErrInvalidPath
	}
	n := d.entryCount()
	for i := int64(0); i < n; i++ {
		e := d.readEntry(i)
		if e.inUse && e.name == name {
			return d.writeEntry(i, dirEntry{inUse: false})
		}
	}
	return ErrNotFound
}

// IsEmpty reports whether the directory holds no entries besides "."
// and "..", the precondition for removing a directory.
func (d *Dir) IsEmpty() bool {
	n := d.entryCount()
	for i := int64(0); i < n; i++ {
		e := d.readEntry(i)
		if e.inUse && e.name != "." && e.name != ".." {
			return false
		}
	}
	return true
}

// Cursor is a sequential readdir position: each call to Next advances
// past one in-use, non-dot entry.
type Cursor struct {
	d   *Dir
	pos int64
}

// Readdir returns a fresh cursor over d starting at the first entry.
func (d *Dir) Readdir() *Cursor { return &Cursor{d: d} }

// Next returns the next entry name (skipping "." and ".." and holes),
// or ok=false once the directory is exhausted.
func (c *Cursor) Next() (name string, sector uint32, ok bool) {
	n := c.d.entryCount()
	for c.pos < n {
		e := c.d.readEntry(c.pos)
		c.pos++
		if e.inUse && e.name != "." && e.name != ".." {
			return e.name, e.sector, true
		}
	}
	return "", 0, false
}
