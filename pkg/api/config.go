package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/txn2/config-store/pkg/audit"
	"github.com/txn2/config-store/pkg/auth"
	"github.com/txn2/config-store/pkg/backend"
	"github.com/txn2/config-store/pkg/format"
	"github.com/txn2/config-store/pkg/ledger"
	"github.com/txn2/config-store/pkg/middleware"
	"github.com/txn2/config-store/pkg/store"
)

const (
	defaultVersionLimit = 10
	maxVersionLimit     = 100
)

// configRequest is the body of create and update requests.
type configRequest struct {
	Content string `json:"content"`
	Message string `json:"message,omitempty"`
}

// mutationResponse reports the version produced by a mutation.
type mutationResponse struct {
	Message string               `json:"message"`
	Version ledger.VersionRecord `json:"version"`
}

// configResponse is the body of a read.
type configResponse struct {
	Project string               `json:"project"`
	Name    string               `json:"name"`
	Format  format.Format        `json:"format"`
	Content string               `json:"content"`
	Version ledger.VersionRecord `json:"version"`
}

// versionEntry is one element of a version listing. Content is omitted
// for tombstones and versions whose body could not be loaded.
type versionEntry struct {
	ledger.VersionRecord
	Content string `json:"content,omitempty"`
}

// versionListResponse wraps a paginated version listing, newest first.
type versionListResponse struct {
	Total    int            `json:"total"`
	Skip     int            `json:"skip"`
	Limit    int            `json:"limit"`
	Versions []versionEntry `json:"versions"`
}

// recoverResponse reports the outcome of a recover.
type recoverResponse struct {
	Message         string               `json:"message"`
	OriginalVersion int                  `json:"original_version"`
	Version         ledger.VersionRecord `json:"version"`
}

// recordAudit emits an audit event for a mutating operation.
func (h *Handler) recordAudit(r *http.Request, op, project, name string, rec ledger.VersionRecord, start time.Time, opErr error) {
	event := audit.NewEvent(op, project, name).
		WithRequestID(middleware.RequestIDFrom(r.Context())).
		WithVersion(string(rec.ID)).
		WithMessage(rec.Message)
	if id := auth.IdentityFrom(r.Context()); id != nil {
		event.WithActor(id.Subject)
	}
	errMsg := ""
	if opErr != nil {
		errMsg = opErr.Error()
	}
	event.WithResult(opErr == nil, errMsg, time.Since(start).Milliseconds())

	if err := h.deps.Audit.Log(r.Context(), *event); err != nil {
		h.deps.Logger.Warn("audit log failed", "error", err)
	}
}

// decodeRequest reads the {content, message} envelope.
func decodeRequest(r *http.Request) (configRequest, error) {
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("decoding request body: %w", err)
	}
	return req, nil
}

// createConfig handles POST /api/v1/configs/{project}/{name}.
//
// @Summary      Create config
// @Description  Creates a new configuration as version 1. The format comes from the "format" query parameter.
// @Tags         Configs
// @Accept       json
// @Produce      json
// @Param        project  path   string         true  "Project identifier"
// @Param        name     path   string         true  "Configuration name"
// @Param        format   query  string         true  "File format (json, yaml, toml or xml)"
// @Param        body     body   configRequest  true  "Content and optional commit message"
// @Success      201  {object}  mutationResponse
// @Failure      400  {object}  problemDetail
// @Failure      409  {object}  problemDetail
// @Failure      504  {object}  problemDetail
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /configs/{project}/{name} [post]
func (h *Handler) createConfig(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	project, name := r.PathValue("project"), r.PathValue("name")

	f, err := format.Parse(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.deps.Engine.Create(r.Context(), project, name, f, []byte(req.Content), req.Message)
	h.recordAudit(r, "create", project, name, rec, start, err)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mutationResponse{
		Message: fmt.Sprintf("Config %s created successfully as version %d", name, rec.Number),
		Version: rec,
	})
}

// readConfig handles GET /api/v1/configs/{project}/{name}.
//
// @Summary      Read config
// @Description  Returns the latest live content, or a specific version when the "version" query parameter carries a version id.
// @Tags         Configs
// @Produce      json
// @Param        project  path   string  true   "Project identifier"
// @Param        name     path   string  true   "Configuration name"
// @Param        version  query  string  false  "Version id to read"
// @Success      200  {object}  configResponse
// @Failure      404  {object}  problemDetail
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /configs/{project}/{name} [get]
func (h *Handler) readConfig(w http.ResponseWriter, r *http.Request) {
	project, name := r.PathValue("project"), r.PathValue("name")

	doc, err := h.deps.Engine.Read(r.Context(), project, name, backendVersion(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configResponse{
		Project: doc.Project,
		Name:    doc.Name,
		Format:  doc.Format,
		Content: string(doc.Body),
		Version: doc.Version,
	})
}

// updateConfig handles PUT /api/v1/configs/{project}/{name}.
//
// @Summary      Update config
// @Description  Validates the body against the stored format and appends a new version.
// @Tags         Configs
// @Accept       json
// @Produce      json
// @Param        project  path  string         true  "Project identifier"
// @Param        name     path  string         true  "Configuration name"
// @Param        body     body  configRequest  true  "Content and optional commit message"
// @Success      200  {object}  mutationResponse
// @Failure      400  {object}  problemDetail
// @Failure      404  {object}  problemDetail
// @Failure      409  {object}  problemDetail
// @Failure      504  {object}  problemDetail
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /configs/{project}/{name} [put]
func (h *Handler) updateConfig(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	project, name := r.PathValue("project"), r.PathValue("name")

	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.deps.Engine.Update(r.Context(), project, name, []byte(req.Content), req.Message)
	h.recordAudit(r, "update", project, name, rec, start, err)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{
		Message: fmt.Sprintf("Config %s updated successfully", name),
		Version: rec,
	})
}

// deleteConfig handles DELETE /api/v1/configs/{project}/{name}.
//
// @Summary      Delete config
// @Description  Appends a tombstone version. Prior versions stay readable by explicit id.
// @Tags         Configs
// @Produce      json
// @Param        project  path   string  true   "Project identifier"
// @Param        name     path   string  true   "Configuration name"
// @Param        message  query  string  false  "Optional commit message"
// @Success      200  {object}  mutationResponse
// @Failure      404  {object}  problemDetail
// @Failure      409  {object}  problemDetail
// @Failure      504  {object}  problemDetail
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /configs/{project}/{name} [delete]
func (h *Handler) deleteConfig(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	project, name := r.PathValue("project"), r.PathValue("name")

	rec, err := h.deps.Engine.Delete(r.Context(), project, name, r.URL.Query().Get("message"))
	h.recordAudit(r, "delete", project, name, rec, start, err)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{
		Message: fmt.Sprintf("Config %s deleted successfully", name),
		Version: rec,
	})
}

// listConfigs handles GET /api/v1/configs/{project}.
//
// @Summary      List configs
// @Description  Lists the live configurations of a project, sorted by name.
// @Tags         Configs
// @Produce      json
// @Param        project  path  string  true  "Project identifier"
// @Success      200  {array}   store.ConfigInfo
// @Failure      400  {object}  problemDetail
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /configs/{project} [get]
func (h *Handler) listConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.deps.Engine.List(r.Context(), r.PathValue("project"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if configs == nil {
		configs = []store.ConfigInfo{}
	}
	writeJSON(w, http.StatusOK, configs)
}

// listVersions handles GET /api/v1/configs/{project}/{name}/versions.
//
// @Summary      List config versions
// @Description  Returns the configuration's history newest first, with skip/limit pagination. Each non-tombstone entry carries its content.
// @Tags         Configs
// @Produce      json
// @Param        project  path   string   true   "Project identifier"
// @Param        name     path   string   true   "Configuration name"
// @Param        skip     query  integer  false  "Number of versions to skip (default 0)"
// @Param        limit    query  integer  false  "Maximum number of versions to return (default 10, max 100)"
// @Success      200  {object}  versionListResponse
// @Failure      404  {object}  problemDetail
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /configs/{project}/{name}/versions [get]
func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request) {
	project, name := r.PathValue("project"), r.PathValue("name")

	skip := parseIntParam(r, "skip", 0)
	if skip < 0 {
		skip = 0
	}
	limit := parseIntParam(r, "limit", defaultVersionLimit)
	if limit < 1 {
		limit = defaultVersionLimit
	}
	if limit > maxVersionLimit {
		limit = maxVersionLimit
	}

	recs, err := h.deps.Engine.ListVersions(r.Context(), project, name)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// History comes oldest first; the listing pages newest first.
	total := len(recs)
	entries := []versionEntry{}
	for i := total - 1 - skip; i >= 0 && len(entries) < limit; i-- {
		rec := recs[i]
		entry := versionEntry{VersionRecord: rec}
		if !rec.Tombstone {
			doc, err := h.deps.Engine.Read(r.Context(), project, name, rec.ID)
			if err != nil {
				h.deps.Logger.Warn("loading version content failed",
					"project", project, "config", name, "version", rec.ID, "error", err)
			} else {
				entry.Content = string(doc.Body)
			}
		}
		entries = append(entries, entry)
	}

	writeJSON(w, http.StatusOK, versionListResponse{
		Total:    total,
		Skip:     skip,
		Limit:    limit,
		Versions: entries,
	})
}

// recoverConfig handles POST /api/v1/configs/{project}/{name}/recover/{version}.
//
// @Summary      Recover config version
// @Description  Re-appends the content of the given version number as a fresh version. Recovering a deleted configuration revives it.
// @Tags         Configs
// @Produce      json
// @Param        project  path   string   true   "Project identifier"
// @Param        name     path   string   true   "Configuration name"
// @Param        version  path   integer  true   "Version number to recover"
// @Param        message  query  string   false  "Optional commit message"
// @Success      200  {object}  recoverResponse
// @Failure      400  {object}  problemDetail
// @Failure      404  {object}  problemDetail
// @Failure      409  {object}  problemDetail
// @Failure      504  {object}  problemDetail
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /configs/{project}/{name}/recover/{version} [post]
func (h *Handler) recoverConfig(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	project, name := r.PathValue("project"), r.PathValue("name")

	number, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || number < 1 {
		writeError(w, http.StatusBadRequest, "version must be a positive integer")
		return
	}

	recs, err := h.deps.Engine.ListVersions(r.Context(), project, name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	var target *ledger.VersionRecord
	for i := range recs {
		if recs[i].Number == number && !recs[i].Tombstone {
			target = &recs[i]
			break
		}
	}
	if target == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Version %d not found", number))
		return
	}

	rec, err := h.deps.Engine.Recover(r.Context(), project, name, target.ID, r.URL.Query().Get("message"))
	h.recordAudit(r, "recover", project, name, rec, start, err)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recoverResponse{
		Message:         fmt.Sprintf("Config %s restored to version %d", name, number),
		OriginalVersion: number,
		Version:         rec,
	})
}

// backendVersion reads the optional version query parameter.
func backendVersion(r *http.Request) backend.VersionID {
	return backend.VersionID(r.URL.Query().Get("version"))
}

// parseIntParam reads an integer query parameter with a default.
func parseIntParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
