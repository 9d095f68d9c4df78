// Package ledger maintains the per-config version index: an ordered,
// append-only record of every version the backend holds for a
// (project, name) pair.
//
// The ledger is a derived index, never a source of truth. The backend's
// commit log is authoritative for both content and ordering, and any
// ledger implementation can be reconstructed at any time from
// backend.Adapter.ListVersions alone via Rebuild.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/txn2/config-store/pkg/backend"
)

var (
	// ErrNotFound means the config has no recorded history.
	ErrNotFound = errors.New("ledger: config not found")

	// ErrDuplicateVersion means a version id was recorded twice for one
	// config. This signals a ledger/backend desync and is never ignored.
	ErrDuplicateVersion = errors.New("ledger: duplicate version")
)

// VersionRecord is one entry in a config's history.
type VersionRecord struct {
	ID backend.VersionID `json:"version_id"`

	// Number is the sequential version number parsed from the commit
	// message tag, or 0 when the commit carries none (tombstones and
	// commits made outside this service).
	Number int `json:"version,omitempty"`

	Message   string    `json:"message"`
	Author    string    `json:"author,omitempty"`
	Timestamp time.Time `json:"date"`
	Tombstone bool      `json:"tombstone,omitempty"`
}

// Ledger indexes version records per config.
//
// Ordering is backend order: records are kept in the sequence they were
// appended, oldest first. Implementations never reorder by timestamp,
// since timestamps come from a shared external system and are not
// monotonic across writers.
type Ledger interface {
	// Record appends a version entry for the config. Recording an id
	// that already exists for the config fails with ErrDuplicateVersion.
	Record(ctx context.Context, project, name string, rec VersionRecord) error

	// List returns all versions oldest to newest. A config with no
	// history fails with ErrNotFound.
	List(ctx context.Context, project, name string) ([]VersionRecord, error)

	// Latest returns the newest record, tombstone or not. Fails with
	// ErrNotFound if the config has never been created.
	Latest(ctx context.Context, project, name string) (VersionRecord, error)

	// Exists reports whether the config has any recorded history.
	Exists(ctx context.Context, project, name string) (bool, error)

	// Rebuild replaces the config's index with records derived from the
	// backend's history, in backend order.
	Rebuild(ctx context.Context, project, name string, commits []backend.Commit) error
}

// FromCommit derives a version record from a backend commit.
func FromCommit(c backend.Commit) VersionRecord {
	n, _ := ParseVersionNumber(c.Message)
	return VersionRecord{
		ID:        c.ID,
		Number:    n,
		Message:   c.Message,
		Author:    c.Author,
		Timestamp: c.Timestamp,
		Tombstone: c.Tombstone,
	}
}

// versionTag is the commit-message marker carrying the sequential
// version number, e.g. "Update configuration 'db' [Version 3]".
const (
	versionTagOpen  = "[Version "
	versionTagClose = "]"
)

// VersionMessage appends the version tag to a commit message.
func VersionMessage(base string, number int) string {
	return fmt.Sprintf("%s %s%d%s", base, versionTagOpen, number, versionTagClose)
}

// ParseVersionNumber extracts the version number from a tagged commit
// message. The second return is false when the message carries no tag.
func ParseVersionNumber(message string) (int, bool) {
	_, rest, ok := strings.Cut(message, versionTagOpen)
	if !ok {
		return 0, false
	}
	numStr, _, ok := strings.Cut(rest, versionTagClose)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// NextNumber returns the version number the next mutation should carry,
// given the config's existing records: one past the highest tagged
// number, and 1 for a fresh history.
func NextNumber(records []VersionRecord) int {
	max := 0
	for _, r := range records {
		if r.Number > max {
			max = r.Number
		}
	}
	return max + 1
}
