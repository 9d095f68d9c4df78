package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/txn2/config-store/docs" // register swagger docs

	"github.com/txn2/config-store/pkg/backend"
	"github.com/txn2/config-store/pkg/backend/memory"
	"github.com/txn2/config-store/pkg/ledger"
	"github.com/txn2/config-store/pkg/store"
)

func newTestHandler(t *testing.T) (*Handler, *memory.Backend) {
	t.Helper()
	b := memory.New()
	engine := store.New(b, ledger.NewMemory())
	return NewHandler(Deps{Engine: engine}), b
}

func doRequest(t *testing.T, h *Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func createTestConfig(t *testing.T, h *Handler, project, name, f, content string) {
	t.Helper()
	w := doRequest(t, h, http.MethodPost,
		fmt.Sprintf("/api/v1/configs/%s/%s?format=%s", project, name, f),
		configRequest{Content: content})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestCreateConfig(t *testing.T) {
	h, _ := newTestHandler(t)

	w := doRequest(t, h, http.MethodPost, "/api/v1/configs/acme/db?format=json",
		configRequest{Content: `{"host": "localhost"}`})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp mutationResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Version.Number)
	assert.NotEmpty(t, resp.Version.ID)
	assert.Contains(t, resp.Version.Message, "[Version 1]")
}

func TestCreateConfig_Errors(t *testing.T) {
	h, _ := newTestHandler(t)
	createTestConfig(t, h, "acme", "db", "json", `{"a": 1}`)

	t.Run("unsupported format", func(t *testing.T) {
		w := doRequest(t, h, http.MethodPost, "/api/v1/configs/acme/other?format=ini",
			configRequest{Content: "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		w := doRequest(t, h, http.MethodPost, "/api/v1/configs/acme/other?format=json",
			configRequest{Content: "{not json"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("already exists", func(t *testing.T) {
		w := doRequest(t, h, http.MethodPost, "/api/v1/configs/acme/db?format=json",
			configRequest{Content: `{"a": 2}`})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("malformed envelope", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/configs/acme/x?format=json",
			bytes.NewReader([]byte("not json at all")))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestReadConfig(t *testing.T) {
	h, _ := newTestHandler(t)
	createTestConfig(t, h, "acme", "db", "yaml", "host: localhost\n")

	t.Run("latest", func(t *testing.T) {
		w := doRequest(t, h, http.MethodGet, "/api/v1/configs/acme/db", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp configResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "acme", resp.Project)
		assert.Equal(t, "yaml", string(resp.Format))
		assert.Equal(t, "host: localhost\n", resp.Content)
		assert.Equal(t, 1, resp.Version.Number)
	})

	t.Run("explicit version", func(t *testing.T) {
		w := doRequest(t, h, http.MethodPut, "/api/v1/configs/acme/db",
			configRequest{Content: "host: db.prod\n"})
		require.Equal(t, http.StatusOK, w.Code)
		var upd mutationResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&upd))

		// first version still readable by id
		var first configResponse
		w = doRequest(t, h, http.MethodGet, "/api/v1/configs/acme/db", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.NewDecoder(w.Body).Decode(&first))
		assert.Equal(t, "host: db.prod\n", first.Content)

		w = doRequest(t, h, http.MethodGet, "/api/v1/configs/acme/db?version=v1", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var old configResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&old))
		assert.Equal(t, "host: localhost\n", old.Content)
	})

	t.Run("unknown config", func(t *testing.T) {
		w := doRequest(t, h, http.MethodGet, "/api/v1/configs/acme/missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown version", func(t *testing.T) {
		w := doRequest(t, h, http.MethodGet, "/api/v1/configs/acme/db?version=v999", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestUpdateConfig(t *testing.T) {
	h, _ := newTestHandler(t)
	createTestConfig(t, h, "acme", "db", "json", `{"a": 1}`)

	w := doRequest(t, h, http.MethodPut, "/api/v1/configs/acme/db",
		configRequest{Content: `{"a": 2}`, Message: "bump a"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp mutationResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Version.Number)
	assert.Equal(t, "bump a [Version 2]", resp.Version.Message)

	t.Run("not found", func(t *testing.T) {
		w := doRequest(t, h, http.MethodPut, "/api/v1/configs/acme/missing",
			configRequest{Content: `{}`})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("body must match stored format", func(t *testing.T) {
		w := doRequest(t, h, http.MethodPut, "/api/v1/configs/acme/db",
			configRequest{Content: "definitely: [not, json"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDeleteConfig(t *testing.T) {
	h, _ := newTestHandler(t)
	createTestConfig(t, h, "acme", "db", "json", `{"a": 1}`)

	w := doRequest(t, h, http.MethodDelete, "/api/v1/configs/acme/db", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	t.Run("read after delete fails", func(t *testing.T) {
		w := doRequest(t, h, http.MethodGet, "/api/v1/configs/acme/db", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("double delete fails", func(t *testing.T) {
		w := doRequest(t, h, http.MethodDelete, "/api/v1/configs/acme/db", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestListConfigs(t *testing.T) {
	h, _ := newTestHandler(t)

	t.Run("empty project", func(t *testing.T) {
		w := doRequest(t, h, http.MethodGet, "/api/v1/configs/acme", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var configs []store.ConfigInfo
		require.NoError(t, json.NewDecoder(w.Body).Decode(&configs))
		assert.Empty(t, configs)
	})

	createTestConfig(t, h, "acme", "db", "json", `{"a": 1}`)
	createTestConfig(t, h, "acme", "cache", "yaml", "ttl: 60\n")

	w := doRequest(t, h, http.MethodGet, "/api/v1/configs/acme", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var configs []store.ConfigInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&configs))
	require.Len(t, configs, 2)
	assert.Equal(t, "cache", configs[0].Name)
	assert.Equal(t, "db", configs[1].Name)
}

func TestListVersions(t *testing.T) {
	h, _ := newTestHandler(t)
	createTestConfig(t, h, "acme", "db", "json", `{"rev": 1}`)
	for i := 2; i <= 5; i++ {
		w := doRequest(t, h, http.MethodPut, "/api/v1/configs/acme/db",
			configRequest{Content: fmt.Sprintf(`{"rev": %d}`, i)})
		require.Equal(t, http.StatusOK, w.Code)
	}

	t.Run("newest first with content", func(t *testing.T) {
		w := doRequest(t, h, http.MethodGet, "/api/v1/configs/acme/db/versions", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp versionListResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, 5, resp.Total)
		require.Len(t, resp.Versions, 5)
		assert.Equal(t, 5, resp.Versions[0].Number)
		assert.Equal(t, `{"rev": 5}`, resp.Versions[0].Content)
		assert.Equal(t, 1, resp.Versions[4].Number)
	})

	t.Run("pagination", func(t *testing.T) {
		w := doRequest(t, h, http.MethodGet, "/api/v1/configs/acme/db/versions?skip=1&limit=2", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp versionListResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, 5, resp.Total)
		require.Len(t, resp.Versions, 2)
		assert.Equal(t, 4, resp.Versions[0].Number)
		assert.Equal(t, 3, resp.Versions[1].Number)
	})

	t.Run("skip beyond history", func(t *testing.T) {
		w := doRequest(t, h, http.MethodGet, "/api/v1/configs/acme/db/versions?skip=50", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp versionListResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Empty(t, resp.Versions)
	})

	t.Run("unknown config", func(t *testing.T) {
		w := doRequest(t, h, http.MethodGet, "/api/v1/configs/acme/missing/versions", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRecoverConfig(t *testing.T) {
	h, _ := newTestHandler(t)
	createTestConfig(t, h, "acme", "db", "json", `{"rev": 1}`)
	w := doRequest(t, h, http.MethodPut, "/api/v1/configs/acme/db",
		configRequest{Content: `{"rev": 2}`})
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("recover to version 1", func(t *testing.T) {
		w := doRequest(t, h, http.MethodPost, "/api/v1/configs/acme/db/recover/1", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp recoverResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, 1, resp.OriginalVersion)
		assert.Equal(t, 3, resp.Version.Number)

		r := doRequest(t, h, http.MethodGet, "/api/v1/configs/acme/db", nil)
		var read configResponse
		require.NoError(t, json.NewDecoder(r.Body).Decode(&read))
		assert.Equal(t, `{"rev": 1}`, read.Content)
	})

	t.Run("revives deleted config", func(t *testing.T) {
		w := doRequest(t, h, http.MethodDelete, "/api/v1/configs/acme/db", nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = doRequest(t, h, http.MethodPost, "/api/v1/configs/acme/db/recover/2", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		r := doRequest(t, h, http.MethodGet, "/api/v1/configs/acme/db", nil)
		require.Equal(t, http.StatusOK, r.Code)
	})

	t.Run("unknown version number", func(t *testing.T) {
		w := doRequest(t, h, http.MethodPost, "/api/v1/configs/acme/db/recover/99", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("non-numeric version", func(t *testing.T) {
		w := doRequest(t, h, http.MethodPost, "/api/v1/configs/acme/db/recover/abc", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestBackendTimeoutMapsTo504(t *testing.T) {
	h, b := newTestHandler(t)
	createTestConfig(t, h, "acme", "db", "json", `{"a": 1}`)

	b.FailNext(fmt.Errorf("append: %w", backend.ErrTimeout))
	w := doRequest(t, h, http.MethodPut, "/api/v1/configs/acme/db",
		configRequest{Content: `{"a": 2}`})
	assert.Equal(t, http.StatusGatewayTimeout, w.Code, w.Body.String())
}

func TestSwaggerEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/docs/index.html", http.NoBody)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
}
