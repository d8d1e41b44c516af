package blockfs

import "strings"

// splitPath tokenizes a slash-separated path, dropping empty components
// produced by repeated or trailing slashes, and reports whether the
// path was rooted.
func splitPath(path string) (absolute bool, parts []string) {
	absolute = strings.HasPrefix(path, "/")
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return absolute, parts
}

// resolve walks path down to its last component using a two-token
// lookahead state machine: it tracks a `cur` token and peeks one `next`
// token ahead so the final component is recognized and returned
// *unresolved* — resolve never looks the leaf up in its
// parent directory, leaving that to the caller (Create, Open, Remove,
// Mkdir, Chdir all need different failure behavior on a missing leaf).
func (fs *FS) resolve(path string) (parent uint32, leaf string, err error) {
	if path == "" {
		return 0, "", ErrInvalidPath
	}

	absolute, tokens := splitPath(path)

	dirSector := fs.cwd
	if absolute || dirSector == 0 {
		dirSector = fs.root
	}

	if len(tokens) == 0 {
		// "/" (or, relative, "."-equivalent empty path after an
		// absolute prefix) resolves as leaf "." of dirSector.
		return dirSector, ".", nil
	}

	cur := tokens[0]
	for i := 1; ; i++ {
		var next string
		if i < len(tokens) {
			next = tokens[i]
		}
		if next == "" {
			return dirSector, cur, nil
		}
		if len(cur) > dirNameMaxLen {
			return 0, "", ErrNameTooLong
		}

		h := fs.store.Open(dirSector)
		d := OpenDir(h)
		childSector, ok := d.Lookup(cur)
		d.Close()
		if !ok {
			return 0, "", ErrNotFound
		}

		childHandle := fs.store.Open(childSector)
		isDir := childHandle.IsDir()
		childHandle.Close()
		if !isDir {
			return 0, "", ErrNotDir
		}

		dirSector = childSector
		cur = next
	}
}
