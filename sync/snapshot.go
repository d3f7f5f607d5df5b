package sync

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"

	"github.com/intjelic/remofile/client"
)

// fs is the filesystem the local side of the algorithm operates on.
// Tests swap in an afero.MemMapFs.
var fs afero.Fs = afero.NewOsFs()

// Entry is one snapshotted file or directory.
type Entry struct {
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Snapshot maps root-relative, slash-separated paths to their
// metadata. The root itself is not part of the snapshot.
type Snapshot map[string]Entry

// Plan is the minimal set of operations turning the destination tree
// into a mirror of the source tree.
type Plan struct {
	// MakeDirs lists directories to create, parents before children.
	MakeDirs []string
	// Transfer lists files to copy because they are missing from the
	// destination or differ from it.
	Transfer []string
	// Remove lists destination-only entries to delete, children before
	// parents.
	Remove []string
}

// Empty reports whether the plan performs no work.
func (p Plan) Empty() bool {
	return len(p.MakeDirs) == 0 && len(p.Transfer) == 0 && len(p.Remove) == 0
}

// Diff partitions the two snapshots into a plan. A common file is
// re-transferred when its size differs or the source copy is newer
// than the destination copy; comparing for exact modification-time
// equality would re-copy everything, because transferring a file
// necessarily gives the destination a fresh timestamp.
func Diff(source, destination Snapshot) Plan {
	var plan Plan

	for p, src := range source {
		dst, ok := destination[p]
		switch {
		case src.IsDir:
			if !ok || !dst.IsDir {
				plan.MakeDirs = append(plan.MakeDirs, p)
			}
		case !ok:
			plan.Transfer = append(plan.Transfer, p)
		case dst.IsDir:
			// Type changed from directory to file; the removal of the
			// directory is emitted below, the transfer here.
			plan.Transfer = append(plan.Transfer, p)
		case src.Size != dst.Size || src.ModTime.Truncate(time.Second).After(dst.ModTime):
			plan.Transfer = append(plan.Transfer, p)
		}
	}

	for p, dst := range destination {
		src, ok := source[p]
		if !ok || (dst.IsDir != src.IsDir) {
			plan.Remove = append(plan.Remove, p)
		}
	}

	// Parents before children for creations, children before parents
	// for removals; deterministic order for everything.
	sort.Strings(plan.MakeDirs)
	sort.Strings(plan.Transfer)
	sort.Sort(sort.Reverse(sort.StringSlice(plan.Remove)))
	return plan
}

// LocalSnapshot walks the local directory at root and snapshots every
// entry under it.
func LocalSnapshot(root string) (Snapshot, error) {
	snapshot := Snapshot{}
	err := afero.Walk(fs, root, func(walked string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, walked)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		snapshot[filepath.ToSlash(rel)] = Entry{
			IsDir:   info.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// RemoteSnapshot lists the remote directory at root recursively and
// snapshots every entry under it. root must be absolute with respect
// to the served root.
func RemoteSnapshot(c *client.Client, root string, timeout time.Duration) (Snapshot, error) {
	snapshot := Snapshot{}
	var walk func(dir, rel string) error
	walk = func(dir, rel string) error {
		listing, err := c.ListFiles(dir, timeout)
		if err != nil {
			return err
		}
		for name, entry := range listing {
			entryRel := path.Join(rel, name)
			snapshot[entryRel] = Entry{
				IsDir:   entry.IsDir,
				Size:    entry.Size,
				ModTime: entry.ModTime,
			}
			if entry.IsDir {
				if err := walk(path.Join(dir, name), entryRel); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(root, ""); err != nil {
		return nil, err
	}
	return snapshot, nil
}
