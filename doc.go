// Package remofile implements a minimalist file transfer protocol.
//
// Remofile serves a single directory over a length-prefixed binary
// protocol and lets clients browse it, create files and directories,
// upload and download files in chunks, and delete entries. It is meant
// for quick, ad-hoc transfers between two machines rather than as a
// general purpose file server: one client is served at a time and the
// whole exchange is a strict request/response cycle.
//
// The module is organized as a set of focused packages:
//
//   - protocol: the wire vocabulary (requests, responses, reasons) and
//     its deterministic CBOR codec
//   - transport: length-prefixed framing over TCP, optionally wrapped
//     in a Noise-IK encrypted channel with token authentication
//   - vfs: the served directory jail with path and name validation
//   - server: the per-connection session state machine and handlers
//   - client: typed operations and chunked transfers with progress
//     callbacks
//   - sync: recursive batch transfers and one-way directory mirroring
//   - token: shared secret generation for the encrypted transport
//
// # Serving a directory
//
//	root, err := vfs.NewRoot("/srv/files")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv, err := server.New(server.Config{Root: root})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(srv.ListenAndServe("127.0.0.1:6768"))
//
// # Talking to it
//
//	c, err := client.Dial("127.0.0.1:6768")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	err = c.UploadFile("report.pdf", "/", client.TransferOptions{})
//
// All remote paths are absolute with respect to the served directory,
// so "/" names the root itself.
package remofile
