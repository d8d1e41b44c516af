package blockfs

import "github.com/coursefs/blockfs/internal/blog"

// rootDirSector is the fixed sector of the root directory. Sector 0 is
// reserved by the free map itself (BitmapFreeMap pins it), so a fresh
// free map's first Allocate(1) always returns 1.
const rootDirSector = 1

// FS is the system-call-level facade: path resolution, the open-inode
// store, the descriptor table, and the current-working-directory all
// live here. One FS value is constructed per mounted device, with
// explicit Format/Mount and Shutdown lifecycle calls rather than
// package-level init state.
type FS struct {
	dev     BlockDevice
	cache   *Cache
	freemap FreeMap
	store   *Store
	fds     *FDTable
	log     *blog.Logger

	freemapPath string
	root        uint32
	cwd         uint32
}

// New wires a fresh FS over dev/freemap without touching their content;
// call Format on a blank device or Mount to attach to an existing one.
func New(dev BlockDevice, freemap FreeMap) *FS {
	cache := NewCache(dev)
	return &FS{
		dev:     dev,
		cache:   cache,
		freemap: freemap,
		store:   NewStore(cache, freemap),
		fds:     NewFDTable(),
		log:     blog.New("fs"),
		root:    rootDirSector,
		cwd:     rootDirSector,
	}
}

// SetFreemapPath records where Shutdown should persist the free map, if
// it is a *BitmapFreeMap.
func (fs *FS) SetFreemapPath(path string) { fs.freemapPath = path }

// CacheStats reports the buffer cache's hit/miss counters since the last
// Flush.
func (fs *FS) CacheStats() (hits, misses uint64) {
	return fs.cache.HitCount(), fs.cache.MissCount()
}

// Format lays down a fresh root directory at rootDirSector. It must be
// called exactly once on a device whose free map has nothing allocated
// yet besides sector 0.
func (fs *FS) Format() error {
	sector, ok := fs.freemap.Allocate(1)
	if !ok {
		return ErrNoSpace
	}
	if sector != rootDirSector {
		fatalf("fs.Format", "free map allocated root at sector %d, want %d", sector, rootDirSector)
	}
	d, err := fs.store.CreateDir(sector, sector)
	if err != nil {
		fs.freemap.Release(sector, 1)
		return err
	}
	d.Close()
	fs.root = sector
	fs.cwd = sector
	return nil
}

// Mount attaches fs to an already-formatted device whose root directory
// lives at rootDirSector.
func (fs *FS) Mount() {
	fs.root = rootDirSector
	fs.cwd = rootDirSector
}

// Shutdown flushes the cache and, if the free map is a *BitmapFreeMap
// with a configured path, persists it.
func (fs *FS) Shutdown() error {
	fs.cache.Flush()
	if bm, ok := fs.freemap.(*BitmapFreeMap); ok && fs.freemapPath != "" {
		return bm.Save(fs.freemapPath)
	}
	return nil
}

func (fs *FS) openParentDir(sector uint32) (*Handle, *Dir, error) {
	h := fs.store.Open(sector)
	if !h.IsDir() {
		h.Close()
		return nil, nil, ErrNotDir
	}
	return h, OpenDir(h), nil
}

// Create makes a new regular file of initialSize bytes at path.
func (fs *FS) Create(path string, initialSize int64) error {
	parent, leaf, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if len(leaf) > dirNameMaxLen {
		return ErrNameTooLong
	}
	_, pd, err := fs.openParentDir(parent)
	if err != nil {
		return err
	}
	defer pd.Close()

	if _, ok := pd.Lookup(leaf); ok {
		return ErrExists
	}
	sector, ok := fs.freemap.Allocate(1)
	if !ok {
		return ErrNoSpace
	}
	if err := fs.store.Create(sector, initialSize, false); err != nil {
		fs.freemap.Release(sector, 1)
		return err
	}
	if err := pd.Add(leaf, sector); err != nil {
		rh := fs.store.Open(sector)
		rh.Remove()
		rh.Close()
		return err
	}
	return nil
}

// Mkdir creates a new, empty directory at path.
func (fs *FS) Mkdir(path string) error {
	parent, leaf, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if len(leaf) > dirNameMaxLen {
		return ErrNameTooLong
	}
	_, pd, err := fs.openParentDir(parent)
	if err != nil {
		return err
	}
	defer pd.Close()

	if _, ok := pd.Lookup(leaf); ok {
		return ErrExists
	}
	sector, ok := fs.freemap.Allocate(1)
	if !ok {
		return ErrNoSpace
	}
	child, err := fs.store.CreateDir(sector, parent)
	if err != nil {
		fs.freemap.Release(sector, 1)
		return err
	}
	if err := pd.Add(leaf, sector); err != nil {
		child.Close()
		rh := fs.store.Open(sector)
		rh.Remove()
		rh.Close()
		return err
	}
	child.Close()
	return nil
}

// Remove unlinks the file or empty directory at path. A non-empty
// directory is rejected with ErrNotEmpty. If the target is still open
// elsewhere, its sectors are released on the last Close.
func (fs *FS) Remove(path string) error {
	parent, leaf, err := fs.resolve(path)
	if err != nil {
		return err
	}
	_, pd, err := fs.openParentDir(parent)
	if err != nil {
		return err
	}
	defer pd.Close()

	sector, ok := pd.Lookup(leaf)
	if !ok {
		return ErrNotFound
	}

	h := fs.store.Open(sector)
	if h.IsDir() {
		d := OpenDir(h)
		empty := d.IsEmpty()
		d.Close()
		if !empty {
			return ErrNotEmpty
		}
	} else {
		h.Close()
	}

	if err := pd.Remove(leaf); err != nil {
		return err
	}

	rh := fs.store.Open(sector)
	rh.Remove()
	rh.Close()
	return nil
}

// Chdir changes the current working directory to path.
func (fs *FS) Chdir(path string) error {
	parent, leaf, err := fs.resolve(path)
	if err != nil {
		return err
	}
	_, pd, err := fs.openParentDir(parent)
	if err != nil {
		return err
	}
	defer pd.Close()

	sector, ok := pd.Lookup(leaf)
	if !ok {
		return ErrNotFound
	}
	h := fs.store.Open(sector)
	isDir := h.IsDir()
	h.Close()
	if !isDir {
		return ErrNotDir
	}
	fs.cwd = sector
	return nil
}

// Open opens path (file or directory) and returns a descriptor.
func (fs *FS) Open(path string) (int, error) {
	parent, leaf, err := fs.resolve(path)
	if err != nil {
		return 0, err
	}
	_, pd, err := fs.openParentDir(parent)
	if err != nil {
		return 0, err
	}
	sector, ok := pd.Lookup(leaf)
	pd.Close()
	if !ok {
		return 0, ErrNotFound
	}

	h := fs.store.Open(sector)
	if h.IsDir() {
		d := OpenDir(h)
		fd, err := fs.fds.alloc(&fdEntry{kind: fdDir, dir: d, cursor: d.Readdir()})
		if err != nil {
			d.Close()
			return 0, err
		}
		return fd, nil
	}
	fd, err := fs.fds.alloc(&fdEntry{kind: fdFile, h: h})
	if err != nil {
		h.Close()
		return 0, err
	}
	return fd, nil
}

// Close releases a descriptor and closes its underlying handle.
func (fs *FS) Close(fd int) error {
	e, err := fs.fds.release(fd)
	if err != nil {
		return err
	}
	switch e.kind {
	case fdFile:
		e.h.Close()
	case fdDir:
		e.dir.Close()
	}
	return nil
}

// Read reads into p from fd's current position, advancing it.
func (fs *FS) Read(fd int, p []byte) (int, error) {
	e, err := fs.fds.get(fd)
	if err != nil {
		return 0, err
	}
	switch e.kind {
	case fdFile:
		n := e.h.ReadAt(p, e.pos)
		e.pos += int64(n)
		return n, nil
	case fdConsoleIn:
		return 0, nil
	default:
		return 0, ErrIsDir
	}
}

// Write writes p to fd's current position, advancing it and growing the
// file if needed.
func (fs *FS) Write(fd int, p []byte) (int, error) {
	e, err := fs.fds.get(fd)
	if err != nil {
		return 0, err
	}
	switch e.kind {
	case fdFile:
		n, err := e.h.WriteAt(p, e.pos)
		e.pos += int64(n)
		return n, err
	case fdConsoleOut:
		return len(p), nil
	default:
		return 0, ErrIsDir
	}
}

// Seek repositions fd's read/write cursor.
func (fs *FS) Seek(fd int, pos int64) error {
	e, err := fs.fds.get(fd)
	if err != nil {
		return err
	}
	if e.kind != fdFile {
		return ErrIsDir
	}
	e.pos = pos
	return nil
}

// Tell reports fd's current read/write position.
func (fs *FS) Tell(fd int) (int64, error) {
	e, err := fs.fds.get(fd)
	if err != nil {
		return 0, err
	}
	return e.pos, nil
}

// Filesize reports fd's current byte length.
func (fs *FS) Filesize(fd int) (int64, error) {
	e, err := fs.fds.get(fd)
	if err != nil {
		return 0, err
	}
	switch e.kind {
	case fdFile:
		return e.h.Length(), nil
	case fdDir:
		return e.dir.Handle().Length(), nil
	default:
		return 0, nil
	}
}

// Readdir returns the next entry name from an open directory
// descriptor, or ok=false once exhausted.
func (fs *FS) Readdir(fd int) (name string, ok bool, err error) {
	e, err := fs.fds.get(fd)
	if err != nil {
		return "", false, err
	}
	if e.kind != fdDir {
		return "", false, ErrNotDir
	}
	name, _, ok = e.cursor.Next()
	return name, ok, nil
}

// Isdir reports whether fd refers to a directory.
func (fs *FS) Isdir(fd int) (bool, error) {
	e, err := fs.fds.get(fd)
	if err != nil {
		return false, err
	}
	return e.kind == fdDir, nil
}

// Inumber reports fd's underlying inode sector number.
func (fs *FS) Inumber(fd int) (uint32, error) {
	e, err := fs.fds.get(fd)
	if err != nil {
		return 0, err
	}
	switch e.kind {
	case fdFile:
		return e.h.Sector(), nil
	case fdDir:
		return e.dir.Handle().Sector(), nil
	default:
		return 0, ErrBadDescriptor
	}
}
