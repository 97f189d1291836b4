package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/tfgate/pkg/auth"
	"github.com/platinummonkey/tfgate/pkg/httputil"
	"github.com/platinummonkey/tfgate/pkg/rbac"
	"github.com/platinummonkey/tfgate/pkg/registry"
)

// ModuleHandlers proxies module registry reads with the caller's token and
// namespace restrictions applied
type ModuleHandlers struct {
	registry *registry.Client
	checker  *rbac.Checker
}

// NewModuleHandlers creates module handlers
func NewModuleHandlers(client *registry.Client, checker *rbac.Checker) *ModuleHandlers {
	return &ModuleHandlers{
		registry: client,
		checker:  checker,
	}
}

// RegisterPublicRoutes registers routes that need no session
func (h *ModuleHandlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/.well-known/terraform.json", h.discovery).Methods("GET")
}

// RegisterRoutes registers the module routes on a router mounted at /v1/modules
func (h *ModuleHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/search", h.search).Methods("GET")
	router.HandleFunc("/{namespace}/{name}/{provider}/versions", h.versions).Methods("GET")
	router.HandleFunc("/{namespace}/{name}/{provider}/{version}/download", h.download).Methods("GET")
	router.HandleFunc("/{namespace}/{name}/{provider}/{version}/source", h.source).Methods("GET")
	router.HandleFunc("/{namespace}/{name}/{provider}/{version}", h.module).Methods("GET")
}

// client returns the registry client bound to the caller's token
func (h *ModuleHandlers) client(r *http.Request) *registry.Client {
	ac := auth.FromContext(r.Context())
	if ac == nil {
		return h.registry
	}
	return h.registry.WithToken(ac.Token)
}

// discovery handles GET /.well-known/terraform.json
func (h *ModuleHandlers) discovery(w http.ResponseWriter, r *http.Request) {
	doc, err := h.registry.DiscoverEndpoints(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, doc)
}

// search handles GET /v1/modules/search
func (h *ModuleHandlers) search(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", registry.DefaultSearchLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	params := registry.SearchParams{
		Query:     httputil.FirstQueryValue(r, "q", "query"),
		Provider:  httputil.FirstQueryValue(r, "provider"),
		Namespace: httputil.FirstQueryValue(r, "namespace"),
		Limit:     limit,
		Offset:    offset,
	}
	if err := h.checker.Authorize(r.Context(), params.Namespace); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.client(r).SearchModules(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result.Modules = h.checker.FilterModules(r.Context(), result.Modules)
	httputil.WriteSuccess(w, result)
}

// versions handles GET /v1/modules/{namespace}/{name}/{provider}/versions
func (h *ModuleHandlers) versions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.checker.Authorize(r.Context(), vars["namespace"]); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.client(r).ListVersions(r.Context(), vars["namespace"], vars["name"], vars["provider"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if result.Modules == nil {
		result.Modules = []registry.ModuleVersions{}
	}
	httputil.WriteSuccess(w, result)
}

// module handles GET /v1/modules/{namespace}/{name}/{provider}/{version}
func (h *ModuleHandlers) module(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.checker.Authorize(r.Context(), vars["namespace"]); err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := h.client(r).GetModule(r.Context(), vars["namespace"], vars["name"], vars["provider"], vars["version"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteRawJSON(w, http.StatusOK, doc)
}

// download handles GET .../{version}/download
func (h *ModuleHandlers) download(w http.ResponseWriter, r *http.Request) {
	h.writeLocation(w, r, h.client(r).GetDownloadURL)
}

// source handles GET .../{version}/source
func (h *ModuleHandlers) source(w http.ResponseWriter, r *http.Request) {
	h.writeLocation(w, r, h.client(r).GetModuleSource)
}

type locator func(ctx context.Context, namespace, name, provider, version string) (*registry.DownloadLocation, error)

// writeLocation answers 204 with the location in X-Terraform-Get, the way
// the Terraform CLI expects
func (h *ModuleHandlers) writeLocation(w http.ResponseWriter, r *http.Request, locate locator) {
	vars := mux.Vars(r)
	if err := h.checker.Authorize(r.Context(), vars["namespace"]); err != nil {
		writeError(w, r, err)
		return
	}

	loc, err := locate(r.Context(), vars["namespace"], vars["name"], vars["provider"], vars["version"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set(registry.TerraformGetHeader, loc.DownloadURL)
	w.WriteHeader(http.StatusNoContent)
}
