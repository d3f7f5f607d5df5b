package sync

import (
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/intjelic/remofile/client"
)

// SyncOptions refine a synchronization run.
type SyncOptions struct {
	// ChunkSize is the requested transfer chunk size; zero selects the
	// client default.
	ChunkSize int64
	// Timeout bounds each individual request/response exchange.
	Timeout time.Duration
}

// SynchronizeUpload mirrors the local directory at source into the
// remote directory at destination. The local side is authoritative:
// remote-only entries are deleted. It returns the executed plan; an
// immediate second run with no local changes yields an empty plan.
func SynchronizeUpload(c *client.Client, source, destination string, opts SyncOptions) (Plan, error) {
	local, err := LocalSnapshot(source)
	if err != nil {
		return Plan{}, fmt.Errorf("snapshot local tree: %w", err)
	}
	remote, err := RemoteSnapshot(c, destination, opts.Timeout)
	if err != nil {
		return Plan{}, fmt.Errorf("snapshot remote tree: %w", err)
	}

	plan := Diff(local, remote)
	logrus.WithFields(logrus.Fields{
		"source":      source,
		"destination": destination,
		"mkdirs":      len(plan.MakeDirs),
		"transfers":   len(plan.Transfer),
		"removes":     len(plan.Remove),
	}).Info("Synchronizing upload")

	for _, p := range plan.Remove {
		if err := c.RemoveFile(path.Join(destination, p), opts.Timeout); err != nil {
			return plan, fmt.Errorf("remove remote %q: %w", p, err)
		}
	}
	for _, p := range plan.MakeDirs {
		if err := c.MakeDirectory(path.Base(p), path.Join(destination, path.Dir(p)), opts.Timeout); err != nil {
			return plan, fmt.Errorf("make remote directory %q: %w", p, err)
		}
	}
	for _, p := range plan.Transfer {
		// A changed file still occupies its remote path; uploads never
		// overwrite, so clear it first.
		if _, existed := remote[p]; existed {
			if err := c.RemoveFile(path.Join(destination, p), opts.Timeout); err != nil {
				return plan, fmt.Errorf("replace remote %q: %w", p, err)
			}
		}
		localPath := filepath.Join(source, filepath.FromSlash(p))
		remoteDir := path.Join(destination, path.Dir(p))
		err := c.UploadFile(localPath, remoteDir, client.TransferOptions{
			ChunkSize: opts.ChunkSize,
			Timeout:   opts.Timeout,
		})
		if err != nil {
			return plan, fmt.Errorf("upload %q: %w", p, err)
		}
	}
	return plan, nil
}

// SynchronizeDownload mirrors the remote directory at source into the
// local directory at destination. The remote side is authoritative:
// local-only entries are deleted.
func SynchronizeDownload(c *client.Client, source, destination string, opts SyncOptions) (Plan, error) {
	remote, err := RemoteSnapshot(c, source, opts.Timeout)
	if err != nil {
		return Plan{}, fmt.Errorf("snapshot remote tree: %w", err)
	}
	local, err := LocalSnapshot(destination)
	if err != nil {
		return Plan{}, fmt.Errorf("snapshot local tree: %w", err)
	}

	plan := Diff(remote, local)
	logrus.WithFields(logrus.Fields{
		"source":      source,
		"destination": destination,
		"mkdirs":      len(plan.MakeDirs),
		"transfers":   len(plan.Transfer),
		"removes":     len(plan.Remove),
	}).Info("Synchronizing download")

	for _, p := range plan.Remove {
		if err := fs.RemoveAll(filepath.Join(destination, filepath.FromSlash(p))); err != nil {
			return plan, fmt.Errorf("remove local %q: %w", p, err)
		}
	}
	for _, p := range plan.MakeDirs {
		if err := fs.MkdirAll(filepath.Join(destination, filepath.FromSlash(p)), 0o755); err != nil {
			return plan, fmt.Errorf("make local directory %q: %w", p, err)
		}
	}
	for _, p := range plan.Transfer {
		localDir := filepath.Join(destination, filepath.FromSlash(path.Dir(p)))
		err := c.DownloadFile(path.Join(source, p), localDir, client.TransferOptions{
			ChunkSize: opts.ChunkSize,
			Timeout:   opts.Timeout,
		})
		if err != nil {
			return plan, fmt.Errorf("download %q: %w", p, err)
		}
	}
	return plan, nil
}
