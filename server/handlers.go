package server

import (
	"errors"
	"os"
	"path"

	"github.com/sirupsen/logrus"

	"github.com/intjelic/remofile/protocol"
	"github.com/intjelic/remofile/vfs"
)

// badRequest answers a protocol violation. Violations are fail-closed:
// any transfer in progress is aborted and its artifacts discarded.
func (s *Session) badRequest() *protocol.Response {
	s.abortTransfer()
	return protocol.BadRequest()
}

// pathViolation reports whether err is a breach of the jail invariant,
// which the protocol treats as a client error rather than a refusal.
func pathViolation(err error) bool {
	return errors.Is(err, vfs.ErrNotAbsolute) || errors.Is(err, vfs.ErrDirectoryTraversal)
}

func (s *Session) handleListFiles(req *protocol.Request) *protocol.Response {
	var p protocol.ListFilesPayload
	if err := req.DecodePayload(&p); err != nil {
		return s.badRequest()
	}

	entries, err := s.cfg.Root.ReadDir(p.Directory)
	if err != nil {
		switch {
		case pathViolation(err):
			return s.badRequest()
		case os.IsNotExist(err):
			return protocol.Refused(protocol.ReasonNotADirectory)
		default:
			// Listing a file reads as "not a directory" rather than an
			// internal failure.
			if info, statErr := s.cfg.Root.Stat(p.Directory); statErr == nil && !info.IsDir() {
				return protocol.Refused(protocol.ReasonNotADirectory)
			}
			return s.fail(err)
		}
	}

	listing := make(protocol.DirectoryListing, len(entries))
	for _, entry := range entries {
		listing[entry.Name()] = protocol.FileEntry{
			IsDir:   entry.IsDir(),
			Size:    entry.Size(),
			ModTime: entry.ModTime(),
		}
	}

	raw, err := protocol.EncodePayload(listing)
	if err != nil {
		return s.fail(err)
	}
	return protocol.Accepted(protocol.ReasonFileListed, raw)
}

func (s *Session) handleCreateFile(req *protocol.Request) *protocol.Response {
	var p protocol.CreateFilePayload
	if err := req.DecodePayload(&p); err != nil {
		return s.badRequest()
	}

	if resp := s.checkEntryCreation(p.Name, p.Directory); resp != nil {
		return resp
	}

	target := path.Join(p.Directory, p.Name)
	if err := s.cfg.Root.CreateFile(target); err != nil {
		return s.fail(err)
	}

	s.log.WithFields(logrus.Fields{
		"path": target,
	}).Info("File created")
	return protocol.Accepted(protocol.ReasonFileCreated, nil)
}

func (s *Session) handleMakeDirectory(req *protocol.Request) *protocol.Response {
	var p protocol.MakeDirectoryPayload
	if err := req.DecodePayload(&p); err != nil {
		return s.badRequest()
	}

	if resp := s.checkEntryCreation(p.Name, p.Directory); resp != nil {
		return resp
	}

	target := path.Join(p.Directory, p.Name)
	if err := s.cfg.Root.MakeDirectory(target); err != nil {
		return s.fail(err)
	}

	s.log.WithFields(logrus.Fields{
		"path": target,
	}).Info("Directory created")
	return protocol.Accepted(protocol.ReasonDirectoryCreated, nil)
}

// checkEntryCreation runs the shared validation sequence for creating
// a named entry inside a destination directory: name validity, then
// destination existence, then collision. It returns nil when the
// creation may proceed.
func (s *Session) checkEntryCreation(name, directory string) *protocol.Response {
	if !vfs.ValidName(name) {
		return protocol.Refused(protocol.ReasonInvalidFileName)
	}

	info, err := s.cfg.Root.Stat(directory)
	switch {
	case pathViolation(err):
		return s.badRequest()
	case os.IsNotExist(err):
		return protocol.Refused(protocol.ReasonNotADirectory)
	case err != nil:
		return s.fail(err)
	case !info.IsDir():
		return protocol.Refused(protocol.ReasonNotADirectory)
	}

	exists, err := s.cfg.Root.Exists(path.Join(directory, name))
	if err != nil {
		return s.fail(err)
	}
	if exists {
		return protocol.Refused(protocol.ReasonFileAlreadyExists)
	}
	return nil
}

func (s *Session) handleRemoveFile(req *protocol.Request) *protocol.Response {
	var p protocol.RemoveFilePayload
	if err := req.DecodePayload(&p); err != nil {
		return s.badRequest()
	}

	// The delete state is a transient guard: it exists only for the
	// duration of the removal, so no other operation can observe the
	// tree mid-removal.
	s.state = StateDelete
	defer func() { s.state = StateIdle }()

	_, err := s.cfg.Root.Stat(p.Path)
	switch {
	case pathViolation(err):
		return s.badRequest()
	case os.IsNotExist(err):
		return protocol.Refused(protocol.ReasonFileNotFound)
	case err != nil:
		return s.fail(err)
	}

	if err := s.cfg.Root.Remove(p.Path); err != nil {
		return s.fail(err)
	}

	s.log.WithFields(logrus.Fields{
		"path": p.Path,
	}).Info("Entry removed")
	return protocol.Accepted(protocol.ReasonTransferCompleted, nil)
}
