package main

import (
	"fmt"

	"github.com/coursefs/blockfs"
)

// openExisting reopens an already-formatted image: the backing file plus
// its sidecar free-map, mounted at the fixed root directory sector.
func openExisting() (*blockfs.FS, *blockfs.FileDevice, error) {
	dev, err := blockfs.OpenFileDevice(imagePath, sectorsOpt)
	if err != nil {
		return nil, nil, fmt.Errorf("opening image: %w", err)
	}

	freemapPath := imagePath + ".freemap"
	freemap, err := blockfs.LoadBitmapFreeMap(freemapPath, sectorsOpt)
	if err != nil {
		dev.Close()
		return nil, nil, fmt.Errorf("loading free map %s: %w", freemapPath, err)
	}

	fs := blockfs.New(dev, freemap)
	fs.SetFreemapPath(freemapPath)
	fs.Mount()
	return fs, dev, nil
}
