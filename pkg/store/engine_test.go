package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/config-store/pkg/backend"
	"github.com/txn2/config-store/pkg/backend/memory"
	"github.com/txn2/config-store/pkg/format"
	"github.com/txn2/config-store/pkg/ledger"
)

func newTestEngine(t *testing.T) (*Engine, *memory.Backend) {
	t.Helper()
	b := memory.New()
	return New(b, ledger.NewMemory(), WithAuthor("tester")), b
}

func TestCreateThenRead(t *testing.T) {
	tests := []struct {
		format format.Format
		body   string
	}{
		{format.JSON, `{"a": 1}`},
		{format.YAML, "a: 1\n"},
		{format.TOML, "a = 1\n"},
		{format.XML, `<config><a>1</a></config>`},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			e, _ := newTestEngine(t)
			ctx := context.Background()

			rec, err := e.Create(ctx, "acme", "db", tt.format, []byte(tt.body), "")
			require.NoError(t, err)
			assert.Equal(t, 1, rec.Number)
			assert.NotEmpty(t, rec.ID)

			doc, err := e.Read(ctx, "acme", "db", "")
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(doc.Body))
			assert.Equal(t, tt.format, doc.Format)
			assert.Equal(t, rec.ID, doc.Version.ID)
		})
	}
}

func TestCreate_InvalidBody(t *testing.T) {
	e, b := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "acme", "db", format.JSON, []byte(`{"a":`), "")
	assert.ErrorIs(t, err, format.ErrInvalid)

	// The codec rejected before the backend was touched.
	_, err = b.ListVersions(ctx, "acme/db.json")
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestCreate_AlreadyExists(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "acme", "db", format.JSON, []byte(`{}`), "")
	require.NoError(t, err)

	_, err = e.Create(ctx, "acme", "db", format.JSON, []byte(`{}`), "")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// Same name under a different format is still the same config.
	_, err = e.Create(ctx, "acme", "db", format.YAML, []byte("a: 1"), "")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreate_RejectedAfterDelete(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "acme", "db", format.JSON, []byte(`{}`), "")
	require.NoError(t, err)
	_, err = e.Delete(ctx, "acme", "db", "")
	require.NoError(t, err)

	// History survives the delete; the config comes back via Recover.
	_, err = e.Create(ctx, "acme", "db", format.JSON, []byte(`{}`), "")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreate_RejectedAfterDeleteAcrossFormats(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	rec, err := e.Create(ctx, "acme", "db", format.YAML, []byte("a: 1\n"), "")
	require.NoError(t, err)
	_, err = e.Delete(ctx, "acme", "db", "")
	require.NoError(t, err)

	// A different format must not shadow the tombstoned history: the
	// identity is (project, name), not the stored path.
	_, err = e.Create(ctx, "acme", "db", format.JSON, []byte(`{}`), "")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// The pre-delete version stays readable by explicit id.
	doc, err := e.Read(ctx, "acme", "db", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, format.YAML, doc.Format)
	assert.Equal(t, "a: 1\n", string(doc.Body))
}

func TestUpdateSequence(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	const n = 5
	bodies := make([]string, 0, n+1)
	body := `{"step": 0}`
	bodies = append(bodies, body)
	_, err := e.Create(ctx, "acme", "db", format.JSON, []byte(body), "")
	require.NoError(t, err)

	for i := 1; i <= n; i++ {
		body = fmt.Sprintf(`{"step": %d}`, i)
		bodies = append(bodies, body)
		rec, err := e.Update(ctx, "acme", "db", []byte(body), "")
		require.NoError(t, err)
		assert.Equal(t, i+1, rec.Number)
	}

	recs, err := e.ListVersions(ctx, "acme", "db")
	require.NoError(t, err)
	require.Len(t, recs, n+1)

	for i, rec := range recs {
		assert.Equal(t, i+1, rec.Number)
		doc, err := e.Read(ctx, "acme", "db", rec.ID)
		require.NoError(t, err)
		assert.Equal(t, bodies[i], string(doc.Body), "version %d body", i+1)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Update(context.Background(), "acme", "ghost", []byte(`{}`), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_FormatImmutable(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "acme", "db", format.JSON, []byte(`{"a":1}`), "")
	require.NoError(t, err)

	// YAML-but-not-JSON content fails against the stored format, and no
	// spurious version is recorded.
	_, err = e.Update(ctx, "acme", "db", []byte("a: [1, 2\n"), "")
	assert.ErrorIs(t, err, format.ErrInvalid)

	recs, err := e.ListVersions(ctx, "acme", "db")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestDelete(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := e.Create(ctx, "acme", "db", format.JSON, []byte(`{"a":1}`), "")
	require.NoError(t, err)

	tomb, err := e.Delete(ctx, "acme", "db", "")
	require.NoError(t, err)
	assert.True(t, tomb.Tombstone)

	// Default read fails; explicit pre-delete read succeeds.
	_, err = e.Read(ctx, "acme", "db", "")
	assert.ErrorIs(t, err, ErrNotFound)

	doc, err := e.Read(ctx, "acme", "db", created.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(doc.Body))

	// No Deleted -> Deleted transition.
	_, err = e.Delete(ctx, "acme", "db", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_NeverCreated(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Delete(context.Background(), "acme", "ghost", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecover(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	v1, err := e.Create(ctx, "acme", "db", format.JSON, []byte(`{"a":1}`), "")
	require.NoError(t, err)
	_, err = e.Update(ctx, "acme", "db", []byte(`{"a":2}`), "")
	require.NoError(t, err)

	recovered, err := e.Recover(ctx, "acme", "db", v1.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 3, recovered.Number)

	// Recover(v) then Read() equals Read(version=v).
	doc, err := e.Read(ctx, "acme", "db", "")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(doc.Body))

	old, err := e.Read(ctx, "acme", "db", v1.ID)
	require.NoError(t, err)
	assert.Equal(t, string(old.Body), string(doc.Body))

	// History grew by exactly one entry; nothing was rewritten.
	recs, err := e.ListVersions(ctx, "acme", "db")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, v1.ID, recs[0].ID)
}

func TestRecover_RevivesDeletedConfig(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	v1, err := e.Create(ctx, "acme", "db", format.JSON, []byte(`{"a":1}`), "")
	require.NoError(t, err)
	_, err = e.Delete(ctx, "acme", "db", "")
	require.NoError(t, err)

	_, err = e.Recover(ctx, "acme", "db", v1.ID, "")
	require.NoError(t, err)

	// Deleted -> Active: default reads work again.
	doc, err := e.Read(ctx, "acme", "db", "")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(doc.Body))

	infos, err := e.List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "db", infos[0].Name)
}

func TestRecover_UnknownVersion(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "acme", "db", format.JSON, []byte(`{}`), "")
	require.NoError(t, err)

	_, err = e.Recover(ctx, "acme", "db", "v999", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecover_TombstoneVersionRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "acme", "db", format.JSON, []byte(`{}`), "")
	require.NoError(t, err)
	tomb, err := e.Delete(ctx, "acme", "db", "")
	require.NoError(t, err)

	_, err = e.Recover(ctx, "acme", "db", tomb.ID, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "acme", "db", format.JSON, []byte(`{}`), "")
	require.NoError(t, err)
	_, err = e.Create(ctx, "acme", "cache", format.YAML, []byte("ttl: 60"), "")
	require.NoError(t, err)
	_, err = e.Create(ctx, "other", "db", format.JSON, []byte(`{}`), "")
	require.NoError(t, err)

	infos, err := e.List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "cache", infos[0].Name)
	assert.Equal(t, format.YAML, infos[0].Format)
	assert.Equal(t, "acme/cache.yaml", infos[0].Path)
	assert.Equal(t, "db", infos[1].Name)

	// Idempotence of listing: no writes, identical result.
	again, err := e.List(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, infos, again)

	empty, err := e.List(ctx, "nothing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestListVersions_NotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.ListVersions(context.Background(), "acme", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScenario_CreateUpdateRecover(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	v1, err := e.Create(ctx, "acme", "db", format.JSON, []byte(`{"a":1}`), "")
	require.NoError(t, err)
	assert.Equal(t, backend.VersionID("v1"), v1.ID)

	v2, err := e.Update(ctx, "acme", "db", []byte(`{"a":2}`), "")
	require.NoError(t, err)
	assert.Equal(t, backend.VersionID("v2"), v2.ID)

	v3, err := e.Recover(ctx, "acme", "db", "v1", "")
	require.NoError(t, err)
	assert.Equal(t, backend.VersionID("v3"), v3.ID)

	doc, err := e.Read(ctx, "acme", "db", "")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(doc.Body))

	recs, err := e.ListVersions(ctx, "acme", "db")
	require.NoError(t, err)
	ids := make([]backend.VersionID, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []backend.VersionID{"v1", "v2", "v3"}, ids)
}

func TestConflictSurfaced(t *testing.T) {
	e, b := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "acme", "db", format.JSON, []byte(`{}`), "")
	require.NoError(t, err)

	b.FailNext(backend.ErrConflict)
	_, err = e.Update(ctx, "acme", "db", []byte(`{"a":1}`), "")
	assert.ErrorIs(t, err, ErrConflict)

	// No version was recorded for the failed write.
	recs, err := e.ListVersions(ctx, "acme", "db")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestTimeout_NoPartialWrite(t *testing.T) {
	e, b := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "acme", "db", format.JSON, []byte(`{}`), "")
	require.NoError(t, err)

	// The backend times out and the tip did not move: the engine proves
	// no partial write and reports a retryable timeout.
	b.FailNext(backend.ErrTimeout)
	_, err = e.Update(ctx, "acme", "db", []byte(`{"a":1}`), "")
	assert.ErrorIs(t, err, ErrBackendTimeout)

	recs, err := e.ListVersions(ctx, "acme", "db")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestInvalidNames(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	for _, bad := range []string{"", ".", "..", "a/b", `a\b`} {
		_, err := e.Create(ctx, bad, "db", format.JSON, []byte(`{}`), "")
		assert.ErrorIs(t, err, ErrInvalidName, "project %q", bad)

		_, err = e.Read(ctx, "acme", bad, "")
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", bad)
	}
}

func TestCustomMessages(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	rec, err := e.Create(ctx, "acme", "db", format.JSON, []byte(`{}`), "initial import")
	require.NoError(t, err)
	assert.Equal(t, "initial import [Version 1]", rec.Message)

	rec, err = e.Update(ctx, "acme", "db", []byte(`{"a":1}`), "")
	require.NoError(t, err)
	assert.Equal(t, "Update configuration 'db' [Version 2]", rec.Message)

	tomb, err := e.Delete(ctx, "acme", "db", "")
	require.NoError(t, err)
	assert.Equal(t, "Delete configuration 'db'", tomb.Message)
}
