// Package api provides the REST endpoints of the config store.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/txn2/config-store/pkg/audit"
	"github.com/txn2/config-store/pkg/format"
	"github.com/txn2/config-store/pkg/ledger"
	"github.com/txn2/config-store/pkg/store"
)

// Deps holds the handler's dependencies.
type Deps struct {
	Engine *store.Engine
	Audit  audit.Logger
	Logger *slog.Logger
}

// Handler provides the config store REST API.
type Handler struct {
	mux  *http.ServeMux
	deps Deps
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewSlogLogger(deps.Logger)
	}
	h := &Handler{
		mux:  http.NewServeMux(),
		deps: deps,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all API routes.
func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("POST /api/v1/configs/{project}/{name}", h.createConfig)
	h.mux.HandleFunc("GET /api/v1/configs/{project}/{name}", h.readConfig)
	h.mux.HandleFunc("PUT /api/v1/configs/{project}/{name}", h.updateConfig)
	h.mux.HandleFunc("DELETE /api/v1/configs/{project}/{name}", h.deleteConfig)
	h.mux.HandleFunc("GET /api/v1/configs/{project}", h.listConfigs)
	h.mux.HandleFunc("GET /api/v1/configs/{project}/{name}/versions", h.listVersions)
	h.mux.HandleFunc("POST /api/v1/configs/{project}/{name}/recover/{version}", h.recoverConfig)
	h.mux.Handle("GET /api/v1/docs/", httpSwagger.Handler(
		httpSwagger.URL("/api/v1/docs/doc.json"),
	))
}

// problemDetail is the JSON error body.
type problemDetail struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, problemDetail{Error: msg})
}

// writeStoreError maps a store error to its HTTP status. The mapping is
// deterministic: the same failure kind always yields the same status.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, format.ErrInvalid),
		errors.Is(err, format.ErrUnsupported),
		errors.Is(err, store.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrBackendTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, ledger.ErrDuplicateVersion):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
