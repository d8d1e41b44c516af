package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive ls/cd/mkdir/touch/cat/rm session over an image",
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, dev, err := openExisting()
		if err != nil {
			return err
		}
		defer dev.Close()
		defer fs.Shutdown()

		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("blockfs> ")
		for scanner.Scan() {
			runShellLine(fs, scanner.Text())
			fmt.Print("blockfs> ")
		}
		return scanner.Err()
	},
}

func runShellLine(fs shellFS, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd, rest := fields[0], fields[1:]

	switch cmd {
	case "exit", "quit":
		os.Exit(0)
	case "mkdir":
		requireArg(rest, func(path string) error { return fs.Mkdir(path) })
	case "touch":
		requireArg(rest, func(path string) error { return fs.Create(path, 0) })
	case "cd":
		requireArg(rest, func(path string) error { return fs.Chdir(path) })
	case "rm":
		requireArg(rest, func(path string) error { return fs.Remove(path) })
	case "ls":
		path := "."
		if len(rest) > 0 {
			path = rest[0]
		}
		listDir(fs, path)
	case "cat":
		requireArg(rest, func(path string) error { return catFile(fs, path) })
	default:
		fmt.Printf("unknown command %q\n", cmd)
	}
}

// shellFS is the subset of *blockfs.FS the shell drives; it exists so
// runShellLine can be exercised with a fake in tests.
type shellFS interface {
	Mkdir(path string) error
	Create(path string, size int64) error
	Chdir(path string) error
	Remove(path string) error
	Open(path string) (int, error)
	Close(fd int) error
	Read(fd int, p []byte) (int, error)
	Readdir(fd int) (string, bool, error)
	Isdir(fd int) (bool, error)
}

func requireArg(args []string, fn func(string) error) {
	if len(args) < 1 {
		fmt.Println("missing path argument")
		return
	}
	if err := fn(args[0]); err != nil {
		fmt.Println("error:", err)
	}
}

func listDir(fs shellFS, path string) {
	fd, err := fs.Open(path)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer fs.Close(fd)
	if isDir, _ := fs.Isdir(fd); !isDir {
		fmt.Println(path)
		return
	}
	for {
		name, ok, err := fs.Readdir(fd)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		if !ok {
			return
		}
		fmt.Println(name)
	}
}

func catFile(fs shellFS, path string) error {
	fd, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer fs.Close(fd)
	buf := make([]byte, 4096)
	for {
		n, err := fs.Read(fd, buf)
		if n == 0 || err != nil {
			return err
		}
		os.Stdout.Write(buf[:n])
	}
}
