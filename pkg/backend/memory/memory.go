// Package memory provides an in-memory history backend. It is the
// substrate for tests and for running the service without a remote git
// host ("dev mode"); it implements the same append-only semantics a git
// contents API provides.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/txn2/config-store/pkg/backend"
)

// Option configures a Backend.
type Option func(*Backend)

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithAuthor sets the author recorded on commits.
func WithAuthor(author string) Option {
	return func(b *Backend) { b.author = author }
}

type entry struct {
	commit  backend.Commit
	content []byte
}

// Backend is an in-memory backend.Adapter. Version ids are sequential
// ("v1", "v2", ...) across the whole store, mirroring a single linear
// commit log. Safe for concurrent use.
type Backend struct {
	mu     sync.Mutex
	seq    int
	logs   map[string][]entry
	now    func() time.Time
	author string

	failNext []error
}

// New creates an empty Backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		logs:   make(map[string][]entry),
		now:    time.Now,
		author: "config-store",
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// FailNext queues an error to be returned by the next mutating call.
// Test hook for conflict and timeout paths.
func (b *Backend) FailNext(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = append(b.failNext, err)
}

func (b *Backend) takeInjected() error {
	if len(b.failNext) == 0 {
		return nil
	}
	err := b.failNext[0]
	b.failNext = b.failNext[1:]
	return err
}

func ctxErr(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", backend.ErrTimeout, err)
	}
	return err
}

// Append commits content for path, creating the path if needed and
// reviving it if the tip is a tombstone.
func (b *Backend) Append(ctx context.Context, path string, content []byte, message string) (backend.VersionID, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeInjected(); err != nil {
		return "", err
	}
	c := b.nextCommit(message, false)
	b.logs[path] = append(b.logs[path], entry{commit: c, content: append([]byte(nil), content...)})
	return c.ID, nil
}

// Read returns path content at version, or at the tip when version is empty.
func (b *Backend) Read(ctx context.Context, path string, version backend.VersionID) ([]byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	log, ok := b.logs[path]
	if !ok || len(log) == 0 {
		return nil, fmt.Errorf("%w: %s", backend.ErrNotFound, path)
	}
	var e *entry
	if version == "" {
		e = &log[len(log)-1]
	} else {
		for i := range log {
			if log[i].commit.ID == version {
				e = &log[i]
				break
			}
		}
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s@%s", backend.ErrNotFound, path, version)
	}
	if e.commit.Tombstone {
		return nil, fmt.Errorf("%w: %s", backend.ErrNotFound, path)
	}
	return append([]byte(nil), e.content...), nil
}

// ListVersions returns the full history of path, oldest first.
func (b *Backend) ListVersions(ctx context.Context, path string) ([]backend.Commit, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	log, ok := b.logs[path]
	if !ok || len(log) == 0 {
		return nil, fmt.Errorf("%w: %s", backend.ErrNotFound, path)
	}
	out := make([]backend.Commit, len(log))
	for i := range log {
		out[i] = log[i].commit
	}
	return out, nil
}

// Delete commits a tombstone for path.
func (b *Backend) Delete(ctx context.Context, path string, message string) (backend.VersionID, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeInjected(); err != nil {
		return "", err
	}
	log := b.logs[path]
	if len(log) == 0 || log[len(log)-1].commit.Tombstone {
		return "", fmt.Errorf("%w: %s", backend.ErrNotFound, path)
	}
	c := b.nextCommit(message, true)
	b.logs[path] = append(log, entry{commit: c})
	return c.ID, nil
}

// ListPaths returns live paths under prefix, sorted.
func (b *Backend) ListPaths(ctx context.Context, prefix string) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for path, log := range b.logs {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		if len(log) == 0 || log[len(log)-1].commit.Tombstone {
			continue
		}
		out = append(out, path)
	}
	sort.Strings(out)
	return out, nil
}

// nextCommit allocates the next version id. Caller holds b.mu.
func (b *Backend) nextCommit(message string, tombstone bool) backend.Commit {
	b.seq++
	return backend.Commit{
		ID:        backend.VersionID(fmt.Sprintf("v%d", b.seq)),
		Message:   message,
		Author:    b.author,
		Timestamp: b.now(),
		Tombstone: tombstone,
	}
}

var _ backend.Adapter = (*Backend)(nil)
