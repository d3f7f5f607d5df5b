// Package sync implements the directory synchronization algorithm on
// top of the client primitive library.
//
// The algorithm never touches the wire protocol directly: it builds
// snapshots of the local and remote trees keyed by root-relative path,
// diffs them into a minimal operation plan, and executes the plan with
// client primitives. The source side is authoritative: entries missing
// from the source are deleted from the destination (mirror semantics).
//
// Synchronization is resumable at whole-file granularity only: a run
// interrupted halfway leaves completed files in place, and re-running
// it transfers only what is still missing or different.
package sync
