package server

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intjelic/remofile/protocol"
	"github.com/intjelic/remofile/transport"
	"github.com/intjelic/remofile/vfs"
)

// newTestSession builds a session over an in-memory tree with a small
// negotiable chunk range, convenient for multi-chunk transfers of tiny
// files.
func newTestSession(t *testing.T) (*Session, *vfs.Root) {
	t.Helper()
	root := vfs.NewRootFrom(afero.NewMemMapFs())
	cfg := Config{
		Root:          root,
		FileSizeLimit: 1000,
		MinChunkSize:  2,
		MaxChunkSize:  8,
	}.withDefaults()
	require.NoError(t, cfg.validate())
	return NewSession(cfg), root
}

func request(t *testing.T, typ protocol.RequestType, payload any) *protocol.Request {
	t.Helper()
	req, err := protocol.NewRequest(typ, payload)
	require.NoError(t, err)
	return req
}

func assertAccepted(t *testing.T, resp *protocol.Response, reason protocol.Reason) {
	t.Helper()
	require.Equal(t, protocol.StatusAccepted, resp.Status, "reason was %s", resp.Reason)
	assert.Equal(t, reason, resp.Reason)
}

func assertRefused(t *testing.T, resp *protocol.Response, reason protocol.Reason) {
	t.Helper()
	require.Equal(t, protocol.StatusRefused, resp.Status, "reason was %s", resp.Reason)
	assert.Equal(t, reason, resp.Reason)
}

func assertBadRequest(t *testing.T, resp *protocol.Response) {
	t.Helper()
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, protocol.ReasonBadRequest, resp.Reason)
}

// beginUpload drives the session into the upload state for a file of
// the given size and chunk size.
func beginUpload(t *testing.T, s *Session, name string, fileSize, chunkSize int64) {
	t.Helper()
	resp := s.Handle(request(t, protocol.RequestUploadFile, &protocol.UploadFilePayload{
		Name:      name,
		Directory: "/",
		FileSize:  fileSize,
		ChunkSize: chunkSize,
	}))
	assertAccepted(t, resp, protocol.ReasonTransferAccepted)
	require.Equal(t, StateUpload, s.State())
}

func sendChunk(t *testing.T, s *Session, data []byte) *protocol.Response {
	t.Helper()
	return s.Handle(request(t, protocol.RequestSendChunk, &protocol.SendChunkPayload{Data: data}))
}

func readAll(t *testing.T, root *vfs.Root, p string) []byte {
	t.Helper()
	f, err := root.OpenRead(p)
	require.NoError(t, err)
	defer f.Close()
	data, err := afero.ReadAll(f)
	require.NoError(t, err)
	return data
}

func TestListFilesEmptyRoot(t *testing.T) {
	s, _ := newTestSession(t)

	resp := s.Handle(request(t, protocol.RequestListFiles, &protocol.ListFilesPayload{Directory: "/"}))
	assertAccepted(t, resp, protocol.ReasonFileListed)

	var listing protocol.DirectoryListing
	require.NoError(t, resp.DecodePayload(&listing))
	assert.Empty(t, listing)
}

func TestListFilesWithMetadata(t *testing.T) {
	s, root := newTestSession(t)
	require.NoError(t, root.MakeDirectory("/photos"))
	require.NoError(t, root.CreateFile("/notes.txt"))

	resp := s.Handle(request(t, protocol.RequestListFiles, &protocol.ListFilesPayload{Directory: "/"}))
	assertAccepted(t, resp, protocol.ReasonFileListed)

	var listing protocol.DirectoryListing
	require.NoError(t, resp.DecodePayload(&listing))
	require.Len(t, listing, 2)
	assert.True(t, listing["photos"].IsDir)
	assert.False(t, listing["notes.txt"].IsDir)
}

func TestListFilesRefusals(t *testing.T) {
	s, root := newTestSession(t)
	require.NoError(t, root.CreateFile("/file.txt"))

	resp := s.Handle(request(t, protocol.RequestListFiles, &protocol.ListFilesPayload{Directory: "/missing"}))
	assertRefused(t, resp, protocol.ReasonNotADirectory)

	resp = s.Handle(request(t, protocol.RequestListFiles, &protocol.ListFilesPayload{Directory: "/file.txt"}))
	assertRefused(t, resp, protocol.ReasonNotADirectory)
}

func TestListFilesRejectsEscapingPath(t *testing.T) {
	s, _ := newTestSession(t)

	resp := s.Handle(request(t, protocol.RequestListFiles, &protocol.ListFilesPayload{Directory: "/../outside"}))
	assertBadRequest(t, resp)

	resp = s.Handle(request(t, protocol.RequestListFiles, &protocol.ListFilesPayload{Directory: "relative"}))
	assertBadRequest(t, resp)
}

func TestCreateFile(t *testing.T) {
	s, root := newTestSession(t)

	resp := s.Handle(request(t, protocol.RequestCreateFile, &protocol.CreateFilePayload{
		Name:      "notes.txt",
		Directory: "/",
	}))
	assertAccepted(t, resp, protocol.ReasonFileCreated)

	exists, err := root.Exists("/notes.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateFileValidationOrder(t *testing.T) {
	s, root := newTestSession(t)
	require.NoError(t, root.CreateFile("/taken.txt"))

	// An invalid name wins over a missing destination directory.
	resp := s.Handle(request(t, protocol.RequestCreateFile, &protocol.CreateFilePayload{
		Name:      "bad*name",
		Directory: "/missing",
	}))
	assertRefused(t, resp, protocol.ReasonInvalidFileName)

	resp = s.Handle(request(t, protocol.RequestCreateFile, &protocol.CreateFilePayload{
		Name:      "notes.txt",
		Directory: "/missing",
	}))
	assertRefused(t, resp, protocol.ReasonNotADirectory)

	resp = s.Handle(request(t, protocol.RequestCreateFile, &protocol.CreateFilePayload{
		Name:      "taken.txt",
		Directory: "/",
	}))
	assertRefused(t, resp, protocol.ReasonFileAlreadyExists)
}

func TestMakeDirectory(t *testing.T) {
	s, root := newTestSession(t)

	resp := s.Handle(request(t, protocol.RequestMakeDirectory, &protocol.MakeDirectoryPayload{
		Name:      "photos",
		Directory: "/",
	}))
	assertAccepted(t, resp, protocol.ReasonDirectoryCreated)

	info, err := root.Stat("/photos")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// A second creation collides, whether the occupant is a directory
	// or a file.
	resp = s.Handle(request(t, protocol.RequestMakeDirectory, &protocol.MakeDirectoryPayload{
		Name:      "photos",
		Directory: "/",
	}))
	assertRefused(t, resp, protocol.ReasonFileAlreadyExists)
}

func TestRemoveFile(t *testing.T) {
	s, root := newTestSession(t)
	require.NoError(t, root.MakeDirectory("/dir"))
	require.NoError(t, root.CreateFile("/dir/file.txt"))

	resp := s.Handle(request(t, protocol.RequestRemoveFile, &protocol.RemoveFilePayload{Path: "/dir"}))
	assertAccepted(t, resp, protocol.ReasonTransferCompleted)
	assert.Equal(t, StateIdle, s.State())

	exists, err := root.Exists("/dir")
	require.NoError(t, err)
	assert.False(t, exists)

	resp = s.Handle(request(t, protocol.RequestRemoveFile, &protocol.RemoveFilePayload{Path: "/dir"}))
	assertRefused(t, resp, protocol.ReasonFileNotFound)
}

func TestUploadHappyPath(t *testing.T) {
	s, root := newTestSession(t)

	beginUpload(t, s, "data.bin", 10, 4)

	resp := sendChunk(t, s, []byte("abcd"))
	assertAccepted(t, resp, protocol.ReasonChunkAccepted)
	assert.Equal(t, StateUpload, s.State())

	resp = sendChunk(t, s, []byte("efgh"))
	assertAccepted(t, resp, protocol.ReasonChunkAccepted)

	// The final chunk carries exactly the remainder.
	resp = sendChunk(t, s, []byte("ij"))
	assertAccepted(t, resp, protocol.ReasonTransferCompleted)
	assert.Equal(t, StateIdle, s.State())

	assert.Equal(t, []byte("abcdefghij"), readAll(t, root, "/data.bin"))
}

func TestUploadSingleChunk(t *testing.T) {
	s, root := newTestSession(t)

	beginUpload(t, s, "tiny.bin", 3, 4)
	resp := sendChunk(t, s, []byte("abc"))
	assertAccepted(t, resp, protocol.ReasonTransferCompleted)
	assert.Equal(t, []byte("abc"), readAll(t, root, "/tiny.bin"))
}

func TestUploadRefusals(t *testing.T) {
	s, root := newTestSession(t)
	require.NoError(t, root.CreateFile("/taken.txt"))

	cases := []struct {
		name    string
		payload protocol.UploadFilePayload
		reason  protocol.Reason
	}{
		{"zero file size", protocol.UploadFilePayload{Name: "a", Directory: "/", FileSize: 0, ChunkSize: 4}, protocol.ReasonIncorrectFileSize},
		{"negative file size", protocol.UploadFilePayload{Name: "a", Directory: "/", FileSize: -1, ChunkSize: 4}, protocol.ReasonIncorrectFileSize},
		{"file size above limit", protocol.UploadFilePayload{Name: "a", Directory: "/", FileSize: 1001, ChunkSize: 4}, protocol.ReasonIncorrectFileSize},
		{"chunk below minimum", protocol.UploadFilePayload{Name: "a", Directory: "/", FileSize: 10, ChunkSize: 1}, protocol.ReasonIncorrectChunkSize},
		{"chunk above maximum", protocol.UploadFilePayload{Name: "a", Directory: "/", FileSize: 10, ChunkSize: 9}, protocol.ReasonIncorrectChunkSize},
		{"invalid name", protocol.UploadFilePayload{Name: "a|b", Directory: "/", FileSize: 10, ChunkSize: 4}, protocol.ReasonInvalidFileName},
		{"missing directory", protocol.UploadFilePayload{Name: "a", Directory: "/missing", FileSize: 10, ChunkSize: 4}, protocol.ReasonNotADirectory},
		{"existing target", protocol.UploadFilePayload{Name: "taken.txt", Directory: "/", FileSize: 10, ChunkSize: 4}, protocol.ReasonFileAlreadyExists},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := s.Handle(request(t, protocol.RequestUploadFile, &tc.payload))
			assertRefused(t, resp, tc.reason)
			assert.Equal(t, StateIdle, s.State())
		})
	}
}

func TestUploadAtExactFileSizeLimit(t *testing.T) {
	root := vfs.NewRootFrom(afero.NewMemMapFs())
	cfg := Config{
		Root:          root,
		FileSizeLimit: 16,
		MinChunkSize:  2,
		MaxChunkSize:  8,
	}.withDefaults()
	require.NoError(t, cfg.validate())
	s := NewSession(cfg)

	// The limit is inclusive: a declared size equal to it is accepted
	// and the transfer runs to completion.
	beginUpload(t, s, "full.bin", 16, 8)
	resp := sendChunk(t, s, []byte("abcdefgh"))
	assertAccepted(t, resp, protocol.ReasonChunkAccepted)
	resp = sendChunk(t, s, []byte("ijklmnop"))
	assertAccepted(t, resp, protocol.ReasonTransferCompleted)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, []byte("abcdefghijklmnop"), readAll(t, root, "/full.bin"))

	// One byte more is refused.
	resp = s.Handle(request(t, protocol.RequestUploadFile, &protocol.UploadFilePayload{
		Name:      "over.bin",
		Directory: "/",
		FileSize:  17,
		ChunkSize: 8,
	}))
	assertRefused(t, resp, protocol.ReasonIncorrectFileSize)
}

func TestUploadChunkLengthMismatchAborts(t *testing.T) {
	s, root := newTestSession(t)

	beginUpload(t, s, "data.bin", 10, 4)
	resp := sendChunk(t, s, []byte("abc"))
	assertBadRequest(t, resp)
	assert.Equal(t, StateIdle, s.State())

	// The partial upload never survives an abort.
	exists, err := root.Exists("/data.bin")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUploadIllegalRequestAborts(t *testing.T) {
	s, root := newTestSession(t)

	beginUpload(t, s, "data.bin", 10, 4)
	resp := sendChunk(t, s, []byte("abcd"))
	assertAccepted(t, resp, protocol.ReasonChunkAccepted)

	resp = s.Handle(request(t, protocol.RequestMakeDirectory, &protocol.MakeDirectoryPayload{
		Name:      "photos",
		Directory: "/",
	}))
	assertBadRequest(t, resp)
	assert.Equal(t, StateIdle, s.State())

	exists, err := root.Exists("/data.bin")
	require.NoError(t, err)
	assert.False(t, exists)

	// The session is reusable after the abort.
	resp = s.Handle(request(t, protocol.RequestListFiles, &protocol.ListFilesPayload{Directory: "/"}))
	assertAccepted(t, resp, protocol.ReasonFileListed)
}

func TestListFilesLegalDuringUpload(t *testing.T) {
	s, root := newTestSession(t)
	require.NoError(t, root.MakeDirectory("/photos"))

	beginUpload(t, s, "data.bin", 6, 4)

	resp := s.Handle(request(t, protocol.RequestListFiles, &protocol.ListFilesPayload{Directory: "/photos"}))
	assertAccepted(t, resp, protocol.ReasonFileListed)
	assert.Equal(t, StateUpload, s.State(), "listing must not disturb the transfer")

	resp = sendChunk(t, s, []byte("abcd"))
	assertAccepted(t, resp, protocol.ReasonChunkAccepted)
	resp = sendChunk(t, s, []byte("ef"))
	assertAccepted(t, resp, protocol.ReasonTransferCompleted)
	assert.Equal(t, []byte("abcdef"), readAll(t, root, "/data.bin"))
}

func TestCancelUploadDiscardsPartialFile(t *testing.T) {
	s, root := newTestSession(t)

	beginUpload(t, s, "data.bin", 10, 4)
	resp := sendChunk(t, s, []byte("abcd"))
	assertAccepted(t, resp, protocol.ReasonChunkAccepted)

	resp = s.Handle(request(t, protocol.RequestCancelTransfer, nil))
	assertAccepted(t, resp, protocol.ReasonTransferCancelled)
	assert.Equal(t, StateIdle, s.State())

	exists, err := root.Exists("/data.bin")
	require.NoError(t, err)
	assert.False(t, exists)
}

func writeFile(t *testing.T, root *vfs.Root, p string, content []byte) {
	t.Helper()
	require.NoError(t, root.CreateFile(p))
	f, err := root.OpenAppend(p)
	require.NoError(t, err)
	_, err = f.Write(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func beginDownload(t *testing.T, s *Session, name string, chunkSize int64) protocol.TransferAcceptedPayload {
	t.Helper()
	resp := s.Handle(request(t, protocol.RequestDownloadFile, &protocol.DownloadFilePayload{
		Name:      name,
		Directory: "/",
		ChunkSize: chunkSize,
	}))
	assertAccepted(t, resp, protocol.ReasonTransferAccepted)
	require.Equal(t, StateDownload, s.State())

	var accepted protocol.TransferAcceptedPayload
	require.NoError(t, resp.DecodePayload(&accepted))
	return accepted
}

func TestDownloadHappyPath(t *testing.T) {
	s, root := newTestSession(t)
	writeFile(t, root, "/data.bin", []byte("abcdefghij"))

	accepted := beginDownload(t, s, "data.bin", 4)
	assert.Equal(t, int64(10), accepted.FileSize)
	assert.Equal(t, int64(4), accepted.ChunkSize)

	var received []byte
	for _, want := range []struct {
		reason protocol.Reason
		length int
	}{
		{protocol.ReasonChunkSent, 4},
		{protocol.ReasonChunkSent, 4},
		{protocol.ReasonTransferCompleted, 2},
	} {
		resp := s.Handle(request(t, protocol.RequestReceiveChunk, nil))
		assertAccepted(t, resp, want.reason)

		var chunk protocol.ChunkPayload
		require.NoError(t, resp.DecodePayload(&chunk))
		assert.Len(t, chunk.Data, want.length)
		received = append(received, chunk.Data...)
	}

	assert.Equal(t, []byte("abcdefghij"), received)
	assert.Equal(t, StateIdle, s.State())
}

func TestDownloadClampsChunkSize(t *testing.T) {
	s, root := newTestSession(t)
	writeFile(t, root, "/data.bin", []byte("abcd"))

	accepted := beginDownload(t, s, "data.bin", 100)
	assert.Equal(t, int64(8), accepted.ChunkSize, "chunk size above the maximum is clamped down")

	resp := s.Handle(request(t, protocol.RequestCancelTransfer, nil))
	assertAccepted(t, resp, protocol.ReasonTransferCancelled)

	accepted = beginDownload(t, s, "data.bin", 1)
	assert.Equal(t, int64(2), accepted.ChunkSize, "chunk size below the minimum is clamped up")
}

func TestDownloadRefusals(t *testing.T) {
	s, root := newTestSession(t)
	require.NoError(t, root.MakeDirectory("/photos"))

	resp := s.Handle(request(t, protocol.RequestDownloadFile, &protocol.DownloadFilePayload{
		Name: "data.bin", Directory: "/", ChunkSize: 0,
	}))
	assertRefused(t, resp, protocol.ReasonIncorrectChunkSize)

	resp = s.Handle(request(t, protocol.RequestDownloadFile, &protocol.DownloadFilePayload{
		Name: "missing.bin", Directory: "/", ChunkSize: 4,
	}))
	assertRefused(t, resp, protocol.ReasonFileNotFound)

	resp = s.Handle(request(t, protocol.RequestDownloadFile, &protocol.DownloadFilePayload{
		Name: "photos", Directory: "/", ChunkSize: 4,
	}))
	assertRefused(t, resp, protocol.ReasonNotAFile)

	resp = s.Handle(request(t, protocol.RequestDownloadFile, &protocol.DownloadFilePayload{
		Name: "data.bin", Directory: "/missing", ChunkSize: 4,
	}))
	assertRefused(t, resp, protocol.ReasonNotADirectory)

	assert.Equal(t, StateIdle, s.State())
}

func TestDownloadIllegalRequestAborts(t *testing.T) {
	s, root := newTestSession(t)
	writeFile(t, root, "/data.bin", []byte("abcdefghij"))

	beginDownload(t, s, "data.bin", 4)

	resp := s.Handle(request(t, protocol.RequestSendChunk, &protocol.SendChunkPayload{Data: []byte("abcd")}))
	assertBadRequest(t, resp)
	assert.Equal(t, StateIdle, s.State())

	// The source file is untouched by the aborted download.
	assert.Equal(t, []byte("abcdefghij"), readAll(t, root, "/data.bin"))
}

func TestChunkRequestsIllegalWhenIdle(t *testing.T) {
	s, _ := newTestSession(t)

	assertBadRequest(t, s.Handle(request(t, protocol.RequestSendChunk, &protocol.SendChunkPayload{Data: []byte("abcd")})))
	assertBadRequest(t, s.Handle(request(t, protocol.RequestReceiveChunk, nil)))
	assertBadRequest(t, s.Handle(request(t, protocol.RequestCancelTransfer, nil)))
	assert.Equal(t, StateIdle, s.State())
}

func TestHandleFrameRejectsMalformedFrames(t *testing.T) {
	s, root := newTestSession(t)

	resp := s.HandleFrame([]byte{0xde, 0xad, 0xbe, 0xef})
	assertBadRequest(t, resp)

	// Mid-transfer, an undecodable frame is fail-closed like any other
	// protocol violation.
	beginUpload(t, s, "data.bin", 10, 4)
	resp = s.HandleFrame([]byte("not cbor"))
	assertBadRequest(t, resp)
	assert.Equal(t, StateIdle, s.State())

	exists, err := root.Exists("/data.bin")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHandleFrameRejectsVersionMismatch(t *testing.T) {
	s, _ := newTestSession(t)

	req := &protocol.Request{Version: protocol.Version + 1, Type: protocol.RequestListFiles}
	data, err := protocol.EncodeRequest(req)
	require.NoError(t, err)

	resp := s.HandleFrame(data)
	assertBadRequest(t, resp)
}

func TestSessionCloseDiscardsTransfer(t *testing.T) {
	s, root := newTestSession(t)

	beginUpload(t, s, "data.bin", 10, 4)
	sendChunk(t, s, []byte("abcd"))

	s.Close()

	exists, err := root.Exists("/data.bin")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	root := vfs.NewRootFrom(afero.NewMemMapFs())
	_, err = New(Config{Root: root})
	assert.NoError(t, err)

	_, err = New(Config{Root: root, MinChunkSize: 10, MaxChunkSize: 5})
	assert.Error(t, err)

	// A maximum chunk size whose frames could never cross the wire is
	// rejected up front instead of failing mid-transfer.
	_, err = New(Config{Root: root, MinChunkSize: 1, MaxChunkSize: transport.MaxFrameSize})
	assert.Error(t, err)

	_, err = New(Config{Root: root, MinChunkSize: 1, MaxChunkSize: chunkSizeCeiling})
	assert.NoError(t, err)
}
