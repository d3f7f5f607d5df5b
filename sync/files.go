package sync

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"

	"github.com/intjelic/remofile/client"
	"github.com/intjelic/remofile/protocol"
)

// ConflictPolicy decides what happens when a transfer target already
// exists.
type ConflictPolicy uint8

const (
	// ConflictFail aborts the whole operation on the first collision.
	ConflictFail ConflictPolicy = iota
	// ConflictSkip leaves the existing entry untouched and moves on.
	ConflictSkip
	// ConflictOverwrite replaces the existing entry.
	ConflictOverwrite
)

// Options refine a batch transfer.
type Options struct {
	// ChunkSize is the requested transfer chunk size; zero selects the
	// client default.
	ChunkSize int64
	// Timeout bounds each individual request/response exchange.
	Timeout time.Duration
	// Conflict decides what to do when a target already exists.
	Conflict ConflictPolicy
}

func (o Options) transferOptions() client.TransferOptions {
	return client.TransferOptions{ChunkSize: o.ChunkSize, Timeout: o.Timeout}
}

// UploadFiles uploads the local files and directories matched by the
// source patterns into the remote directory at destination. Patterns
// use filepath.Match syntax; a pattern without metacharacters must name
// an existing entry. Directories are uploaded recursively.
func UploadFiles(c *client.Client, sources []string, destination string, opts Options) error {
	for _, pattern := range sources {
		matches, err := afero.Glob(fs, pattern)
		if err != nil {
			return fmt.Errorf("expand pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return fmt.Errorf("pattern %q matched nothing", pattern)
		}
		for _, match := range matches {
			info, err := fs.Stat(match)
			if err != nil {
				return fmt.Errorf("stat %q: %w", match, err)
			}
			if info.IsDir() {
				err = uploadTree(c, match, destination, opts)
			} else {
				err = uploadOne(c, match, destination, opts)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func uploadOne(c *client.Client, source, directory string, opts Options) error {
	err := c.UploadFile(source, directory, opts.transferOptions())
	if !errors.Is(err, client.ErrFileAlreadyExists) {
		return err
	}
	switch opts.Conflict {
	case ConflictSkip:
		return nil
	case ConflictOverwrite:
		target := path.Join(directory, filepath.Base(source))
		if err := c.RemoveFile(target, opts.Timeout); err != nil {
			return fmt.Errorf("replace %q: %w", target, err)
		}
		return c.UploadFile(source, directory, opts.transferOptions())
	default:
		return err
	}
}

// uploadTree recreates the directory rooted at source under the remote
// destination directory, then uploads its files.
func uploadTree(c *client.Client, source, destination string, opts Options) error {
	base := filepath.Base(source)
	return afero.Walk(fs, source, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(source, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if info.IsDir() {
			name, dir := base, destination
			if rel != "." {
				name = path.Base(rel)
				dir = path.Join(destination, base, path.Dir(rel))
			}
			err := c.MakeDirectory(name, dir, opts.Timeout)
			if errors.Is(err, client.ErrFileAlreadyExists) {
				// An existing directory is a valid target; an existing
				// file in its place is not, surfaced by the uploads
				// below.
				return nil
			}
			return err
		}
		return uploadOne(c, p, path.Join(destination, base, path.Dir(rel)), opts)
	})
}

// DownloadFiles downloads the remote files and directories matched by
// the source patterns into the local directory at destination. Patterns
// are absolute remote paths whose final segment may use path.Match
// syntax. Directories are downloaded recursively.
func DownloadFiles(c *client.Client, sources []string, destination string, opts Options) error {
	info, err := fs.Stat(destination)
	if err != nil {
		return fmt.Errorf("stat %q: %w", destination, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("destination %q is not a directory", destination)
	}
	for _, pattern := range sources {
		dir, base := path.Split(pattern)
		dir = path.Clean(dir)
		listing, err := c.ListFiles(dir, opts.Timeout)
		if err != nil {
			return fmt.Errorf("list %q: %w", dir, err)
		}
		matched := false
		for name, entry := range listing {
			ok, err := path.Match(base, name)
			if err != nil {
				return fmt.Errorf("expand pattern %q: %w", pattern, err)
			}
			if !ok {
				continue
			}
			matched = true
			if entry.IsDir {
				err = downloadTree(c, path.Join(dir, name), destination, opts)
			} else {
				err = downloadOne(c, path.Join(dir, name), destination, opts)
			}
			if err != nil {
				return err
			}
		}
		if !matched {
			return fmt.Errorf("pattern %q matched nothing", pattern)
		}
	}
	return nil
}

func downloadOne(c *client.Client, source, directory string, opts Options) error {
	target := filepath.Join(directory, path.Base(source))
	if _, err := fs.Stat(target); err == nil {
		switch opts.Conflict {
		case ConflictSkip:
			return nil
		case ConflictOverwrite:
			// The download replaces the file only on completion.
		default:
			return fmt.Errorf("%q: %w", target, os.ErrExist)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return c.DownloadFile(source, directory, opts.transferOptions())
}

// downloadTree recreates the remote directory at source under the local
// destination directory, then downloads its files.
func downloadTree(c *client.Client, source, destination string, opts Options) error {
	target := filepath.Join(destination, path.Base(source))
	if err := fs.MkdirAll(target, 0o755); err != nil {
		return err
	}
	listing, err := c.ListFiles(source, opts.Timeout)
	if err != nil {
		return fmt.Errorf("list %q: %w", source, err)
	}
	for _, name := range sortedNames(listing) {
		entry := listing[name]
		if entry.IsDir {
			err = downloadTree(c, path.Join(source, name), target, opts)
		} else {
			err = downloadOne(c, path.Join(source, name), target, opts)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// sortedNames keeps recursive walks deterministic.
func sortedNames(listing protocol.DirectoryListing) []string {
	names := make([]string, 0, len(listing))
	for name := range listing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
