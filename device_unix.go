//go:build unix

package blockfs

import "golang.org/x/sys/unix"

// preadSector and pwriteSector use positioned reads/writes so concurrent
// sectors can be served without a shared file offset.
func (d *FileDevice) preadSector(sector uint32, dst []byte) error {
	off := int64(sector) * SectorSize
	fd := int(d.f.Fd())
	for got := 0; got < SectorSize; {
		n, err := unix.Pread(fd, dst[got:], off+int64(got))
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		got += n
	}
	return nil
}

func (d *FileDevice) pwriteSector(sector uint32, src []byte) error {
	off := int64(sector) * SectorSize
	fd := int(d.f.Fd())
	for put := 0; put < SectorSize; {
		n, err := unix.Pwrite(fd, src[put:], off+int64(put))
		if err != nil {
			return err
		}
		put += n
	}
	return nil
}
