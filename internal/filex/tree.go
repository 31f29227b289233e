// Package filex provides the local file tree the executors operate on:
// enumeration and reads for backup, writes for restore. Paths exchanged
// with manifests are always slash-separated and relative to the root.
package filex

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalFile describes one file found under the tree root.
type LocalFile struct {
	RelativePath string
	Size         int64
	ModifiedAt   time.Time
}

// Tree is a rooted directory with a set of excluded subtrees. Exclusions
// are slash-relative prefixes from the root, which is how the backup
// engine keeps its own storage directories out of snapshots.
type Tree struct {
	root    string
	exclude []string
}

func NewTree(root string, exclude ...string) *Tree {
	return &Tree{root: root, exclude: exclude}
}

func (t *Tree) Root() string { return t.root }

func (t *Tree) excluded(rel string) bool {
	for _, ex := range t.exclude {
		if rel == ex || strings.HasPrefix(rel, ex+"/") {
			return true
		}
	}
	return false
}

// List walks the tree and returns every regular file not under an
// excluded prefix, ordered by relative path (WalkDir order).
func (t *Tree) List() ([]LocalFile, error) {
	var files []LocalFile

	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(t.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if t.excluded(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, LocalFile{
			RelativePath: rel,
			Size:         info.Size(),
			ModifiedAt:   info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", t.root, err)
	}
	return files, nil
}

// Read returns the contents of the file at the given relative path.
func (t *Tree) Read(rel string) ([]byte, error) {
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return nil, fmt.Errorf("non-local path %q", rel)
	}
	return os.ReadFile(filepath.Join(t.root, filepath.FromSlash(rel)))
}

// Write stores data at the given relative path, creating parent
// directories as needed. Paths escaping the root are rejected; a
// manifest is attacker-supplied data from the tree's point of view.
func (t *Tree) Write(rel string, data []byte) error {
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return fmt.Errorf("non-local path %q", rel)
	}
	dst := filepath.Join(t.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(dst), err)
	}
	return os.WriteFile(dst, data, 0o640)
}

// EnsureSubDir creates (if needed) and returns root/name.
func EnsureSubDir(root, name string) (string, error) {
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return dir, nil
}
