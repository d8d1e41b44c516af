package blockfs_test

import (
	"sync"
	"testing"

	"github.com/coursefs/blockfs"
)

func newTestFS(t *testing.T, sectors uint32) *blockfs.FS {
	t.Helper()
	dev := blockfs.NewMemDevice(sectors)
	fm := blockfs.NewBitmapFreeMap(sectors)
	fs := blockfs.New(dev, fm)
	if err := fs.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}
	return fs
}

func TestFSCreateOpenWriteReadClose(t *testing.T) {
	fs := newTestFS(t, 4096)

	if err := fs.Create("/hello.txt", 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	fd, err := fs.Open("/hello.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer fs.Close(fd)

	if _, err := fs.Write(fd, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fs.Seek(fd, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, 5)
	n, err := fs.Read(fd, buf)
	if err != nil || n != 5 || string(buf) != "hello" {
		t.Fatalf("Read() = (%q, %d, %v), want (\"hello\", 5, nil)", buf, n, err)
	}
}

func TestFSCreateDuplicateNameFails(t *testing.T) {
	fs := newTestFS(t, 1024)
	if err := fs.Create("/a", 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fs.Create("/a", 0); err != blockfs.ErrExists {
		t.Fatalf("Create duplicate = %v, want ErrExists", err)
	}
}

func TestFSMkdirAndNestedPaths(t *testing.T) {
	fs := newTestFS(t, 4096)
	if err := fs.Mkdir("/dir"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := fs.Create("/dir/file.txt", 0); err != nil {
		t.Fatalf("Create nested: %v", err)
	}
	if err := fs.Create("/missing/file.txt", 0); err != blockfs.ErrNotFound {
		t.Fatalf("Create under missing dir = %v, want ErrNotFound", err)
	}
	if err := fs.Mkdir("/dir/file.txt/sub"); err != blockfs.ErrNotDir {
		t.Fatalf("Mkdir under a file = %v, want ErrNotDir", err)
	}
}

// TestFSDirectorySemantics covers the directory-semantics scenario:
// non-empty directories reject removal and empty ones don't.
func TestFSDirectorySemantics(t *testing.T) {
	fs := newTestFS(t, 4096)
	if err := fs.Mkdir("/d"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := fs.Create("/d/f", 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := fs.Remove("/d"); err != blockfs.ErrNotEmpty {
		t.Fatalf("Remove non-empty dir = %v, want ErrNotEmpty", err)
	}
	if err := fs.Remove("/d/f"); err != nil {
		t.Fatalf("Remove file: %v", err)
	}
	if err := fs.Remove("/d"); err != nil {
		t.Fatalf("Remove now-empty dir: %v", err)
	}
}

func TestFSChdirRelativePaths(t *testing.T) {
	fs := newTestFS(t, 4096)
	if err := fs.Mkdir("/a"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := fs.Chdir("/a"); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	if err := fs.Create("b", 0); err != nil {
		t.Fatalf("Create relative: %v", err)
	}
	if err := fs.Chdir(".."); err != nil {
		t.Fatalf("Chdir ..: %v", err)
	}
	if _, err := fs.Open("/a/b"); err != nil {
		t.Fatalf("Open /a/b after relative create: %v", err)
	}
}

func TestFSReaddirListsEntries(t *testing.T) {
	fs := newTestFS(t, 4096)
	for _, name := range []string{"/x", "/y", "/z"} {
		if err := fs.Create(name, 0); err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
	}
	fd, err := fs.Open("/")
	if err != nil {
		t.Fatalf("Open /: %v", err)
	}
	defer fs.Close(fd)

	isDir, err := fs.Isdir(fd)
	if err != nil || !isDir {
		t.Fatalf("Isdir(/) = (%v, %v), want (true, nil)", isDir, err)
	}

	seen := map[string]bool{}
	for {
		name, ok, err := fs.Readdir(fd)
		if err != nil {
			t.Fatalf("Readdir: %v", err)
		}
		if !ok {
			break
		}
		seen[name] = true
	}
	for _, name := range []string{"x", "y", "z"} {
		if !seen[name] {
			t.Fatalf("root readdir missed %q", name)
		}
	}
}

func TestFSRemoveWhileOpenDefersReclaim(t *testing.T) {
	fs := newTestFS(t, 4096)
	if err := fs.Create("/f", 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	fd, err := fs.Open("/f")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := fs.Remove("/f"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := fs.Write(fd, []byte("still writable")); err != nil {
		t.Fatalf("Write to removed-but-open file: %v", err)
	}
	if err := fs.Create("/f", 0); err != nil {
		t.Fatalf("Create a fresh /f while the old one is still open: %v", err)
	}
	if err := fs.Close(fd); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// TestFSConcurrentExtenders covers the concurrent-extenders scenario:
// multiple writers growing the same file from different offsets must
// not corrupt its length or each other's data.
func TestFSConcurrentExtenders(t *testing.T) {
	fs := newTestFS(t, 8192)
	if err := fs.Create("/shared", 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const writers = 8
	const chunk = 64
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fd, err := fs.Open("/shared")
			if err != nil {
				t.Errorf("Open: %v", err)
				return
			}
			defer fs.Close(fd)
			buf := make([]byte, chunk)
			for j := range buf {
				buf[j] = byte(i)
			}
			if err := fs.Seek(fd, int64(i*chunk)); err != nil {
				t.Errorf("Seek: %v", err)
				return
			}
			if _, err := fs.Write(fd, buf); err != nil {
				t.Errorf("Write: %v", err)
			}
		}(i)
	}
	wg.Wait()

	fd, err := fs.Open("/shared")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer fs.Close(fd)
	size, err := fs.Filesize(fd)
	if err != nil {
		t.Fatalf("Filesize: %v", err)
	}
	if size != writers*chunk {
		t.Fatalf("Filesize() = %d, want %d", size, writers*chunk)
	}

	buf := make([]byte, writers*chunk)
	if _, err := fs.Read(fd, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i := 0; i < writers; i++ {
		for j := 0; j < chunk; j++ {
			if got := buf[i*chunk+j]; got != byte(i) {
				t.Fatalf("byte at writer %d offset %d = %d, want %d", i, j, got, i)
			}
		}
	}
}

func TestFSInumberStable(t *testing.T) {
	fs := newTestFS(t, 1024)
	if err := fs.Create("/f", 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	fd1, err := fs.Open("/f")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fd2, err := fs.Open("/f")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer fs.Close(fd1)
	defer fs.Close(fd2)

	n1, _ := fs.Inumber(fd1)
	n2, _ := fs.Inumber(fd2)
	if n1 != n2 {
		t.Fatalf("Inumber() mismatch across two opens of the same path: %d vs %d", n1, n2)
	}
}

func TestFSBadDescriptor(t *testing.T) {
	fs := newTestFS(t, 256)
	if _, err := fs.Read(99, make([]byte, 1)); err != blockfs.ErrBadDescriptor {
		t.Fatalf("Read(bad fd) = %v, want ErrBadDescriptor", err)
	}
}
