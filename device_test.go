package blockfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursefs/blockfs"
)

func TestMemDeviceReadWriteRoundTrip(t *testing.T) {
	dev := blockfs.NewMemDevice(4)
	buf := make([]byte, blockfs.SectorSize)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.NoError(t, dev.WriteSector(2, buf))

	got := make([]byte, blockfs.SectorSize)
	require.NoError(t, dev.ReadSector(2, got))
	assert.Equal(t, buf, got)
}

func TestMemDeviceOutOfRange(t *testing.T) {
	dev := blockfs.NewMemDevice(2)
	buf := make([]byte, blockfs.SectorSize)
	assert.Error(t, dev.ReadSector(5, buf), "expected error reading out-of-range sector")
	assert.Error(t, dev.WriteSector(5, buf), "expected error writing out-of-range sector")
}

func TestMemDeviceWriteCount(t *testing.T) {
	dev := blockfs.NewMemDevice(4)
	buf := make([]byte, blockfs.SectorSize)
	for i := 0; i < 3; i++ {
		require.NoError(t, dev.WriteSector(0, buf))
	}
	assert.EqualValues(t, 3, dev.WriteCount())
}

func TestMemDeviceFailReadReturnsZeroFill(t *testing.T) {
	dev := blockfs.NewMemDevice(2)
	buf := make([]byte, blockfs.SectorSize)
	for i := range buf {
		buf[i] = 0xff
	}
	require.NoError(t, dev.WriteSector(0, buf))

	dev.FailReadAt(0)
	got := make([]byte, blockfs.SectorSize)
	require.NoError(t, dev.ReadSector(0, got))
	assert.Equal(t, make([]byte, blockfs.SectorSize), got, "read fault should surface as a zero-filled sector")

	// the fault is one-shot; a second read sees the real data again.
	got2 := make([]byte, blockfs.SectorSize)
	require.NoError(t, dev.ReadSector(0, got2))
	assert.Equal(t, byte(0xff), got2[0], "fault should have cleared after one read")
}

func TestFileDeviceRoundTrip(t *testing.T) {
	path := t.TempDir() + "/image.bin"
	dev, err := blockfs.OpenFileDevice(path, 4)
	require.NoError(t, err)
	defer dev.Close()

	buf := make([]byte, blockfs.SectorSize)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	require.NoError(t, dev.WriteSector(3, buf))

	got := make([]byte, blockfs.SectorSize)
	require.NoError(t, dev.ReadSector(3, got))
	assert.Equal(t, buf, got)
}
