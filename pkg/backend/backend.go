// Package backend defines the history backend contract: an external
// git-compatible object/commit log that is the system of record for
// config content and write ordering. Implementations live in
// subpackages; the rest of the service depends only on this interface.
package backend

import (
	"context"
	"errors"
	"time"
)

// VersionID is a backend-assigned identifier for one immutable snapshot
// of a path's content (for git substrates, a commit SHA).
type VersionID string

// Commit describes one entry in a path's history.
type Commit struct {
	ID        VersionID
	Message   string
	Author    string
	Timestamp time.Time

	// Tombstone is true when this commit removed the path.
	Tombstone bool
}

// Sentinel errors every Adapter implementation must map its substrate's
// failures onto. The engine classifies exclusively through errors.Is.
var (
	// ErrNotFound means the path (or the requested version of it) does
	// not exist in the backend.
	ErrNotFound = errors.New("backend: not found")

	// ErrAlreadyExists means an append targeted a path that already has
	// live content where the substrate requires a fresh path.
	ErrAlreadyExists = errors.New("backend: already exists")

	// ErrConflict means the substrate rejected a write because another
	// writer committed first. The caller must re-read and retry.
	ErrConflict = errors.New("backend: write conflict")

	// ErrTimeout means the substrate did not answer within the
	// caller-supplied deadline. The write may or may not have landed;
	// callers confirm by re-listing history.
	ErrTimeout = errors.New("backend: timeout")
)

// Adapter is the append-only history substrate.
//
// All methods honor ctx cancellation and deadlines. History ordering is
// the substrate's commit order, oldest first, and is authoritative:
// consumers never reorder by timestamp.
type Adapter interface {
	// Append commits new content for path and returns the new version id.
	// Creating and updating use the same call; the substrate decides
	// whether the write is a create or an update.
	Append(ctx context.Context, path string, content []byte, message string) (VersionID, error)

	// Read returns the content of path at the given version, or at the
	// current tip when version is empty. Reading the tip of a deleted
	// path, or a version in which the path did not exist, fails with
	// ErrNotFound.
	Read(ctx context.Context, path string, version VersionID) ([]byte, error)

	// ListVersions returns the full history of path, oldest to newest,
	// including tombstone commits. An unknown path fails with ErrNotFound.
	ListVersions(ctx context.Context, path string) ([]Commit, error)

	// Delete commits a tombstone for path and returns its version id.
	// History before the tombstone remains readable by explicit version.
	Delete(ctx context.Context, path string, message string) (VersionID, error)

	// ListPaths returns the live (non-deleted) paths under prefix.
	ListPaths(ctx context.Context, prefix string) ([]string, error)
}
