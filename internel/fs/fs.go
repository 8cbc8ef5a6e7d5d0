package fs

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalEntry is one item of a local folder enumeration, addressed relative
// to the walked root with slash separators.
type LocalEntry struct {
	RelPath string
	Size    int64
	IsDir   bool
}

type el []LocalEntry

var _ sort.Interface = (*el)(nil)

func (e el) Len() int {
	return len(e)
}

// Directories sort before files so remote folders exist before anything is
// uploaded into them; within a class the order is lexical.
func (e el) Less(i, j int) bool {
	if e[i].IsDir != e[j].IsDir {
		return e[i].IsDir
	}
	return e[i].RelPath < e[j].RelPath
}

func (e el) Swap(i, j int) {
	e[i], e[j] = e[j], e[i]
}

// CollectEntries walks dir and returns every file and directory beneath it.
func CollectEntries(dir string) ([]LocalEntry, error) {
	var list []LocalEntry
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." || rel == ".." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		entry := LocalEntry{RelPath: rel, IsDir: info.IsDir()}
		if !info.IsDir() {
			entry.Size = info.Size()
		}
		list = append(list, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Sort(el(list))
	return list, nil
}

// Segments splits a slash-relative path into its components.
func Segments(rel string) []string {
	if rel == "" {
		return nil
	}
	return strings.Split(rel, "/")
}
