package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coursefs/blockfs"
)

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Create a fresh blockfs image with an empty root directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := blockfs.OpenFileDevice(imagePath, sectorsOpt)
		if err != nil {
			return fmt.Errorf("opening image: %w", err)
		}
		defer dev.Close()

		freemap := blockfs.NewBitmapFreeMap(sectorsOpt)
		fs := blockfs.New(dev, freemap)
		fs.SetFreemapPath(imagePath + ".freemap")
		if err := fs.Format(); err != nil {
			return fmt.Errorf("formatting: %w", err)
		}
		if err := fs.Shutdown(); err != nil {
			return fmt.Errorf("flushing: %w", err)
		}
		fmt.Printf("formatted %s: %d sectors, root directory at sector 1\n", imagePath, sectorsOpt)
		return nil
	},
}
