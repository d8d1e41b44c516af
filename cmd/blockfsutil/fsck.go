package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coursefs/blockfs"
)

type fsckReport struct {
	dirs, files int
	problems    []string
}

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "Walk the root directory tree and report structural problems",
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, dev, err := openExisting()
		if err != nil {
			return err
		}
		defer dev.Close()

		var rep fsckReport
		walkTree(fs, "/", &rep)

		fmt.Printf("%d directories, %d files\n", rep.dirs, rep.files)
		if len(rep.problems) == 0 {
			fmt.Println("no problems found")
			return nil
		}
		for _, p := range rep.problems {
			fmt.Println("problem:", p)
		}
		return fmt.Errorf("%d problems found", len(rep.problems))
	},
}

func walkTree(fs *blockfs.FS, path string, rep *fsckReport) {
	fd, err := fs.Open(path)
	if err != nil {
		rep.problems = append(rep.problems, fmt.Sprintf("open %s: %v", path, err))
		return
	}
	defer fs.Close(fd)

	isDir, _ := fs.Isdir(fd)
	if !isDir {
		rep.files++
		return
	}
	rep.dirs++

	for {
		name, ok, err := fs.Readdir(fd)
		if err != nil {
			rep.problems = append(rep.problems, fmt.Sprintf("readdir %s: %v", path, err))
			return
		}
		if !ok {
			return
		}
		child := strings.TrimSuffix(path, "/") + "/" + name
		walkTree(fs, child, rep)
	}
}
