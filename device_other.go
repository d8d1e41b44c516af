//go:build !unix

package blockfs

// Non-unix fallback: os.File's ReadAt/WriteAt already take an explicit
// offset, so there's no positioned-syscall plumbing needed here.
func (d *FileDevice) preadSector(sector uint32, dst []byte) error {
	off := int64(sector) * SectorSize
	_, err := d.f.ReadAt(dst, off)
	return err
}

func (d *FileDevice) pwriteSector(sector uint32, src []byte) error {
	off := int64(sector) * SectorSize
	_, err := d.f.WriteAt(src, off)
	return err
}
