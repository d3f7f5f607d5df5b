// Package vfs provides the rooted, path-jailed filesystem the remofile
// server operates on.
//
// A Root exposes exactly one directory tree. Every path handed to it
// must be absolute with respect to that tree ("/" is the served root),
// and any path that would resolve outside the tree is rejected. The
// backing filesystem is an afero.Fs, so tests run against an in-memory
// filesystem and production against a base-path-jailed OS filesystem.
package vfs

import (
	"errors"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// ErrNotAbsolute indicates a path that is not absolute with respect to
// the served root.
var ErrNotAbsolute = errors.New("path is not absolute")

// ErrDirectoryTraversal indicates a path that would resolve outside
// the served root.
var ErrDirectoryTraversal = errors.New("path escapes the served root")

// invalidNameCharacters are the characters a file or directory name
// may not contain.
const invalidNameCharacters = `<>:"/\|?*`

// ValidName reports whether name is acceptable as a file or directory
// name. Empty names and the special entries "." and ".." are invalid,
// as is any name containing a forbidden character.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, invalidNameCharacters)
}

// Root is a single served directory tree.
type Root struct {
	fs afero.Fs
}

// NewRoot opens the directory at osPath as a served root. The
// directory must exist.
func NewRoot(osPath string) (*Root, error) {
	base := afero.NewOsFs()
	info, err := base.Stat(osPath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("served root must be an existing directory")
	}
	return &Root{fs: afero.NewBasePathFs(base, osPath)}, nil
}

// NewRootFrom wraps an existing filesystem, typically an
// afero.MemMapFs in tests. The filesystem's own root becomes the
// served root.
func NewRootFrom(fs afero.Fs) *Root {
	return &Root{fs: fs}
}

// Resolve validates p against the jail invariant and returns its
// cleaned form. p must be absolute; a path whose ".." segments would
// climb above the served root is rejected even though lexical cleaning
// would fold it back onto "/".
func (r *Root) Resolve(p string) (string, error) {
	if !path.IsAbs(p) {
		return "", ErrNotAbsolute
	}
	depth := 0
	for _, segment := range strings.Split(p, "/") {
		switch segment {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return "", ErrDirectoryTraversal
			}
		default:
			depth++
		}
	}
	return path.Clean(p), nil
}

// Stat returns metadata for the entry at p.
func (r *Root) Stat(p string) (os.FileInfo, error) {
	resolved, err := r.Resolve(p)
	if err != nil {
		return nil, err
	}
	return r.fs.Stat(resolved)
}

// ReadDir lists the directory at p with metadata.
func (r *Root) ReadDir(p string) ([]os.FileInfo, error) {
	resolved, err := r.Resolve(p)
	if err != nil {
		return nil, err
	}
	return afero.ReadDir(r.fs, resolved)
}

// CreateFile creates an empty file at p. It fails if an entry with
// that path already exists.
func (r *Root) CreateFile(p string) error {
	resolved, err := r.Resolve(p)
	if err != nil {
		return err
	}
	f, err := r.fs.OpenFile(resolved, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// MakeDirectory creates an empty directory at p.
func (r *Root) MakeDirectory(p string) error {
	resolved, err := r.Resolve(p)
	if err != nil {
		return err
	}
	return r.fs.Mkdir(resolved, 0o755)
}

// OpenAppend opens the file at p for sequential appending, creating it
// if needed.
func (r *Root) OpenAppend(p string) (afero.File, error) {
	resolved, err := r.Resolve(p)
	if err != nil {
		return nil, err
	}
	return r.fs.OpenFile(resolved, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// OpenRead opens the file at p for sequential reading.
func (r *Root) OpenRead(p string) (afero.File, error) {
	resolved, err := r.Resolve(p)
	if err != nil {
		return nil, err
	}
	return r.fs.Open(resolved)
}

// Remove deletes the entry at p; directories are removed recursively.
func (r *Root) Remove(p string) error {
	resolved, err := r.Resolve(p)
	if err != nil {
		return err
	}
	return r.fs.RemoveAll(resolved)
}

// Exists reports whether an entry exists at p.
func (r *Root) Exists(p string) (bool, error) {
	_, err := r.Stat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
