// Package store implements the config store engine: the seven operations
// over versioned configuration documents, orchestrating the format codec,
// the version ledger, and the history backend.
//
// The backend is the sole arbiter of write ordering. Every mutation is a
// read-then-write against it, and the ledger is kept as a derived index
// that the engine rebuilds from backend history whenever it touches a
// config's version list.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/txn2/config-store/pkg/backend"
	"github.com/txn2/config-store/pkg/format"
	"github.com/txn2/config-store/pkg/ledger"
)

// confirmTimeout bounds the history re-read that decides whether a
// timed-out write actually landed.
const confirmTimeout = 10 * time.Second

// Document is the result of a Read: the raw body plus the version it
// came from.
type Document struct {
	Project string              `json:"project"`
	Name    string              `json:"name"`
	Format  format.Format       `json:"format"`
	Body    []byte              `json:"-"`
	Version ledger.VersionRecord `json:"version"`
}

// ConfigInfo describes one live config in a project listing.
type ConfigInfo struct {
	Name   string        `json:"name"`
	Format format.Format `json:"format"`
	Path   string        `json:"path"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithAuthor sets the author recorded on ledger entries for mutations
// made through this engine instance.
func WithAuthor(author string) Option {
	return func(e *Engine) { e.author = author }
}

// Engine orchestrates the config store operations. It holds no document
// state of its own: content always comes from the backend, and the
// ledger it maintains is rebuildable from backend history.
type Engine struct {
	backend backend.Adapter
	ledger  ledger.Ledger
	author  string
}

// New creates an Engine over the given backend and ledger. Both are
// injected; the engine owns no process-wide state.
func New(b backend.Adapter, l ledger.Ledger, opts ...Option) *Engine {
	e := &Engine{backend: b, ledger: l, author: "config-store"}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create stores a new config as version 1. It fails with
// ErrAlreadyExists when (project, name) already has history, even
// tombstoned history: a deleted config comes back through Recover, not
// Create.
func (e *Engine) Create(ctx context.Context, project, name string, f format.Format, body []byte, message string) (ledger.VersionRecord, error) {
	var zero ledger.VersionRecord
	if err := validateKeys(project, name); err != nil {
		return zero, err
	}
	if !f.Valid() {
		return zero, fmt.Errorf("%w: %q", format.ErrUnsupported, string(f))
	}
	// Codec first: a body that fails validation never touches the backend.
	if err := format.Validate(f, body); err != nil {
		return zero, err
	}

	// Any prior history under any format path blocks creation, live or
	// tombstoned: a deleted yaml config must not be shadowed by a fresh
	// json one, or its pre-delete versions become unreachable.
	if _, _, err := e.findAny(ctx, project, name); err == nil {
		return zero, fmt.Errorf("%w: %s/%s", ErrAlreadyExists, project, name)
	} else if !errors.Is(err, ErrNotFound) {
		return zero, err
	}

	p := docPath(project, name, f)
	msg := ledger.VersionMessage(orDefault(message, defaultMessage("create", name)), 1)
	id, err := e.backend.Append(ctx, p, body, msg)
	if err != nil {
		return zero, e.mapWriteErr(ctx, p, "", err)
	}
	return e.recordVersion(ctx, project, name, ledger.VersionRecord{
		ID:        id,
		Number:    1,
		Message:   msg,
		Author:    e.author,
		Timestamp: time.Now().UTC(),
	})
}

// Read returns the body of the given version, or of the latest live
// version when version is empty. Reading a deleted config without an
// explicit version fails with ErrNotFound; reading a pre-delete version
// by id still succeeds.
func (e *Engine) Read(ctx context.Context, project, name string, version backend.VersionID) (Document, error) {
	var zero Document
	if err := validateKeys(project, name); err != nil {
		return zero, err
	}

	if version == "" {
		p, f, err := e.findLive(ctx, project, name)
		if err != nil {
			return zero, err
		}
		body, err := e.backend.Read(ctx, p, "")
		if err != nil {
			return zero, e.mapReadErr(err)
		}
		tip, err := e.latestRecord(ctx, project, name, p)
		if err != nil {
			return zero, err
		}
		return Document{Project: project, Name: name, Format: f, Body: body, Version: tip}, nil
	}

	p, f, err := e.findAny(ctx, project, name)
	if err != nil {
		return zero, err
	}
	recs, err := e.history(ctx, project, name, p)
	if err != nil {
		return zero, err
	}
	rec, ok := findRecord(recs, version)
	if !ok || rec.Tombstone {
		return zero, fmt.Errorf("%w: version %s of %s/%s", ErrNotFound, version, project, name)
	}
	body, err := e.backend.Read(ctx, p, version)
	if err != nil {
		return zero, e.mapReadErr(err)
	}
	return Document{Project: project, Name: name, Format: f, Body: body, Version: rec}, nil
}

// Update validates body against the config's stored format (never a
// caller-supplied one) and appends a new version.
func (e *Engine) Update(ctx context.Context, project, name string, body []byte, message string) (ledger.VersionRecord, error) {
	var zero ledger.VersionRecord
	if err := validateKeys(project, name); err != nil {
		return zero, err
	}
	p, f, err := e.findLive(ctx, project, name)
	if err != nil {
		return zero, err
	}
	// Format is immutable post-creation: the declared format comes from
	// the stored path, and a failing body records no version.
	if err := format.Validate(f, body); err != nil {
		return zero, err
	}
	recs, err := e.history(ctx, project, name, p)
	if err != nil {
		return zero, err
	}
	next := ledger.NextNumber(recs)
	msg := ledger.VersionMessage(orDefault(message, defaultMessage("update", name)), next)

	id, err := e.backend.Append(ctx, p, body, msg)
	if err != nil {
		return zero, e.mapWriteErr(ctx, p, tipID(recs), err)
	}
	return e.recordVersion(ctx, project, name, ledger.VersionRecord{
		ID:        id,
		Number:    next,
		Message:   msg,
		Author:    e.author,
		Timestamp: time.Now().UTC(),
	})
}

// Delete appends a tombstone version. History is never erased: prior
// versions stay readable by explicit id. Deleting an already-deleted
// config fails with ErrNotFound.
func (e *Engine) Delete(ctx context.Context, project, name string, message string) (ledger.VersionRecord, error) {
	var zero ledger.VersionRecord
	if err := validateKeys(project, name); err != nil {
		return zero, err
	}
	p, _, err := e.findLive(ctx, project, name)
	if err != nil {
		return zero, err
	}
	recs, err := e.history(ctx, project, name, p)
	if err != nil {
		return zero, err
	}
	msg := orDefault(message, defaultMessage("delete", name))
	id, err := e.backend.Delete(ctx, p, msg)
	if err != nil {
		return zero, e.mapWriteErr(ctx, p, tipID(recs), err)
	}
	return e.recordVersion(ctx, project, name, ledger.VersionRecord{
		ID:        id,
		Message:   msg,
		Author:    e.author,
		Timestamp: time.Now().UTC(),
		Tombstone: true,
	})
}

// List returns the live configs under project, sorted by name. The
// listing always comes from the backend so it reflects writers outside
// this instance.
func (e *Engine) List(ctx context.Context, project string) ([]ConfigInfo, error) {
	if err := validateKey(project); err != nil {
		return nil, err
	}
	paths, err := e.backend.ListPaths(ctx, project+"/")
	if err != nil {
		return nil, e.mapReadErr(err)
	}
	var out []ConfigInfo
	for _, p := range paths {
		name, f, ok := splitDocPath(project, p)
		if !ok {
			continue
		}
		out = append(out, ConfigInfo{Name: name, Format: f, Path: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListVersions returns the config's full history, oldest to newest,
// rebuilt from the backend.
func (e *Engine) ListVersions(ctx context.Context, project, name string) ([]ledger.VersionRecord, error) {
	if err := validateKeys(project, name); err != nil {
		return nil, err
	}
	p, _, err := e.findAny(ctx, project, name)
	if err != nil {
		return nil, err
	}
	return e.history(ctx, project, name, p)
}

// Recover re-validates a historical version's body and appends it as a
// fresh version. Recovering a deleted config revives it
// (Deleted -> Active); history is never rewritten.
func (e *Engine) Recover(ctx context.Context, project, name string, version backend.VersionID, message string) (ledger.VersionRecord, error) {
	var zero ledger.VersionRecord
	if err := validateKeys(project, name); err != nil {
		return zero, err
	}
	p, f, err := e.findAny(ctx, project, name)
	if err != nil {
		return zero, err
	}
	recs, err := e.history(ctx, project, name, p)
	if err != nil {
		return zero, err
	}
	target, ok := findRecord(recs, version)
	if !ok || target.Tombstone {
		return zero, fmt.Errorf("%w: version %s of %s/%s", ErrNotFound, version, project, name)
	}
	body, err := e.backend.Read(ctx, p, version)
	if err != nil {
		return zero, e.mapReadErr(err)
	}
	// The codec's rules may have changed since the version was written;
	// recovered content passes through validation like any other write.
	if err := format.Validate(f, body); err != nil {
		return zero, err
	}

	next := ledger.NextNumber(recs)
	base := message
	if base == "" {
		if target.Number > 0 {
			base = fmt.Sprintf("Restore configuration '%s' to version %d", name, target.Number)
		} else {
			base = fmt.Sprintf("Restore configuration '%s' to %s", name, version)
		}
	}
	msg := ledger.VersionMessage(base, next)

	id, err := e.backend.Append(ctx, p, body, msg)
	if err != nil {
		return zero, e.mapWriteErr(ctx, p, tipID(recs), err)
	}
	return e.recordVersion(ctx, project, name, ledger.VersionRecord{
		ID:        id,
		Number:    next,
		Message:   msg,
		Author:    e.author,
		Timestamp: time.Now().UTC(),
	})
}

// findLive locates the live backend path for (project, name) by listing
// the project's paths, and derives the format from the extension.
func (e *Engine) findLive(ctx context.Context, project, name string) (string, format.Format, error) {
	paths, err := e.backend.ListPaths(ctx, project+"/")
	if err != nil {
		return "", "", e.mapReadErr(err)
	}
	for _, p := range paths {
		n, f, ok := splitDocPath(project, p)
		if ok && n == name {
			return p, f, nil
		}
	}
	return "", "", fmt.Errorf("%w: %s/%s", ErrNotFound, project, name)
}

// findAny locates the backend path for (project, name), live or
// tombstoned, probing each format's path history when no live file
// exists.
func (e *Engine) findAny(ctx context.Context, project, name string) (string, format.Format, error) {
	p, f, err := e.findLive(ctx, project, name)
	if err == nil {
		return p, f, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", "", err
	}
	for _, f := range format.All() {
		candidate := docPath(project, name, f)
		if _, err := e.history(ctx, project, name, candidate); err == nil {
			return candidate, f, nil
		} else if !errors.Is(err, ErrNotFound) {
			return "", "", err
		}
	}
	return "", "", fmt.Errorf("%w: %s/%s", ErrNotFound, project, name)
}

// history lists backend history for the path and refreshes the derived
// ledger index from it. The backend's ordering is returned untouched.
func (e *Engine) history(ctx context.Context, project, name, p string) ([]ledger.VersionRecord, error) {
	commits, err := e.backend.ListVersions(ctx, p)
	if err != nil {
		return nil, e.mapReadErr(err)
	}
	if err := e.ledger.Rebuild(ctx, project, name, commits); err != nil {
		// The index is a convenience; backend history still answers.
		slog.Warn("ledger rebuild failed", "project", project, "name", name, "error", err)
	}
	recs := make([]ledger.VersionRecord, 0, len(commits))
	for _, c := range commits {
		recs = append(recs, ledger.FromCommit(c))
	}
	return recs, nil
}

// latestRecord returns the newest ledger record, rebuilding the index
// from the backend when the ledger has no history for the config.
func (e *Engine) latestRecord(ctx context.Context, project, name, p string) (ledger.VersionRecord, error) {
	rec, err := e.ledger.Latest(ctx, project, name)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return ledger.VersionRecord{}, err
	}
	recs, err := e.history(ctx, project, name, p)
	if err != nil {
		return ledger.VersionRecord{}, err
	}
	return recs[len(recs)-1], nil
}

// recordVersion appends the record to the ledger. A duplicate id is a
// ledger/backend desync and is surfaced, never swallowed.
func (e *Engine) recordVersion(ctx context.Context, project, name string, rec ledger.VersionRecord) (ledger.VersionRecord, error) {
	if err := e.ledger.Record(ctx, project, name, rec); err != nil {
		return ledger.VersionRecord{}, err
	}
	return rec, nil
}

// mapReadErr translates backend read failures to engine error kinds.
func (e *Engine) mapReadErr(err error) error {
	switch {
	case errors.Is(err, backend.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, backend.ErrTimeout):
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	case errors.Is(err, backend.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}

// mapWriteErr translates backend write failures. On timeout the engine
// re-reads history on a fresh, bounded context: an unchanged tip proves
// no partial version was committed (ErrBackendTimeout); a moved tip
// cannot be attributed to our write, so the caller must re-read and
// retry (ErrConflict).
func (e *Engine) mapWriteErr(ctx context.Context, p string, preTip backend.VersionID, err error) error {
	switch {
	case errors.Is(err, backend.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, backend.ErrAlreadyExists):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	case errors.Is(err, backend.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, backend.ErrTimeout):
		confirmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), confirmTimeout)
		defer cancel()
		commits, listErr := e.backend.ListVersions(confirmCtx, p)
		if listErr != nil {
			if preTip == "" && errors.Is(listErr, backend.ErrNotFound) {
				// Still no history: the create never landed.
				return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
			}
			slog.Warn("could not confirm write state after timeout", "path", p, "error", listErr)
			return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
		}
		if tip := commits[len(commits)-1].ID; tip != preTip {
			return fmt.Errorf("%w: history advanced to %s during timeout", ErrConflict, tip)
		}
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	default:
		return err
	}
}

// docPath builds the backend path for a config: {project}/{name}.{ext},
// with the extension fixed by format at creation.
func docPath(project, name string, f format.Format) string {
	return project + "/" + name + "." + f.Ext()
}

// splitDocPath inverts docPath for entries under project, rejecting
// paths whose extension is not a supported format.
func splitDocPath(project, p string) (string, format.Format, bool) {
	rest, ok := strings.CutPrefix(p, project+"/")
	if !ok || strings.Contains(rest, "/") {
		return "", "", false
	}
	ext := path.Ext(rest)
	f, err := format.FromExtension(ext)
	if err != nil {
		return "", "", false
	}
	name := strings.TrimSuffix(rest, ext)
	if name == "" {
		return "", "", false
	}
	return name, f, true
}

func tipID(recs []ledger.VersionRecord) backend.VersionID {
	if len(recs) == 0 {
		return ""
	}
	return recs[len(recs)-1].ID
}

func findRecord(recs []ledger.VersionRecord, id backend.VersionID) (ledger.VersionRecord, bool) {
	for _, r := range recs {
		if r.ID == id {
			return r, true
		}
	}
	return ledger.VersionRecord{}, false
}

func orDefault(message, fallback string) string {
	if strings.TrimSpace(message) == "" {
		return fallback
	}
	return message
}

// defaultMessage mirrors the commit messages the service has always
// written for unannotated mutations.
func defaultMessage(op, name string) string {
	switch op {
	case "create":
		return fmt.Sprintf("Create configuration '%s'", name)
	case "update":
		return fmt.Sprintf("Update configuration '%s'", name)
	case "delete":
		return fmt.Sprintf("Delete configuration '%s'", name)
	default:
		return fmt.Sprintf("Modify configuration '%s'", name)
	}
}

func validateKeys(project, name string) error {
	if err := validateKey(project); err != nil {
		return err
	}
	return validateKey(name)
}

// validateKey rejects names that cannot form a single backend path
// segment.
func validateKey(s string) error {
	if s == "" || s == "." || s == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, s)
	}
	if strings.ContainsAny(s, "/\\") {
		return fmt.Errorf("%w: %q", ErrInvalidName, s)
	}
	return nil
}
