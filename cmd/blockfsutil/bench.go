package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	benchFile  string
	benchBurst int
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Write a file in small bursts and report cache/device counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, dev, err := openExisting()
		if err != nil {
			return err
		}
		defer dev.Close()

		if err := fs.Create(benchFile, 0); err != nil {
			return fmt.Errorf("creating %s: %w", benchFile, err)
		}
		fd, err := fs.Open(benchFile)
		if err != nil {
			return err
		}
		defer fs.Close(fd)

		payload := []byte("x")
		for i := 0; i < benchBurst; i++ {
			if err := fs.Seek(fd, 0); err != nil {
				return err
			}
			if _, err := fs.Write(fd, payload); err != nil {
				return err
			}
		}

		hits, misses := fs.CacheStats()
		fmt.Printf("%d writes to the same sector: %d cache hits, %d cache misses, %d device writes\n",
			benchBurst, hits, misses, dev.WriteCount())
		return nil
	},
}

func init() {
	benchCmd.Flags().StringVar(&benchFile, "file", "/bench.dat", "path of the scratch file to hammer")
	benchCmd.Flags().IntVar(&benchBurst, "burst", 1000, "number of repeated single-byte writes")
}
