// Package server implements the remofile server: a per-connection
// protocol state machine governing single-client access to one served
// directory tree.
//
// The server is deliberately sequential. Each accepted connection is
// driven by a blocking decode-handle-respond loop, and connections are
// serviced one at a time: the protocol's exclusive transferring state
// makes concurrent clients an unsupported configuration rather than a
// race to defend against.
//
//	root, err := vfs.NewRoot("/srv/files")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	srv, err := server.New(server.Config{Root: root})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := srv.ListenAndServe("0.0.0.0:6768"); err != nil {
//	    log.Fatal(err)
//	}
package server
