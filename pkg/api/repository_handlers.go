package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/tfgate/pkg/auth"
	"github.com/platinummonkey/tfgate/pkg/httputil"
	"github.com/platinummonkey/tfgate/pkg/repositories"
)

// RegisterRepositoryRequest is the body of POST /repositories
type RegisterRepositoryRequest struct {
	URL string `json:"url"`
}

// RepositoryResponse wraps a registered repository. Warning is set when the
// repository already existed.
type RepositoryResponse struct {
	Repository *auth.Repository `json:"repository"`
	Warning    string           `json:"warning,omitempty"`
}

// RepositoryHandlers serves repository registration
type RepositoryHandlers struct {
	service *repositories.Service
}

// NewRepositoryHandlers creates repository handlers
func NewRepositoryHandlers(service *repositories.Service) *RepositoryHandlers {
	return &RepositoryHandlers{service: service}
}

// RegisterRoutes registers the repository routes
func (h *RepositoryHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/repositories", h.list).Methods("GET")
	router.HandleFunc("/repositories", h.register).Methods("POST")
}

// list handles GET /repositories
func (h *RepositoryHandlers) list(w http.ResponseWriter, r *http.Request) {
	repos, err := h.service.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if repos == nil {
		repos = []*auth.Repository{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"repositories": repos})
}

// register handles POST /repositories
func (h *RepositoryHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRepositoryRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.URL, "url") {
		return
	}

	repo, err := h.service.Register(r.Context(), req.URL)
	if errors.Is(err, auth.ErrDuplicateRepository) && repo != nil {
		httputil.WriteSuccess(w, RepositoryResponse{
			Repository: repo,
			Warning:    auth.ErrDuplicateRepository.Error(),
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, RepositoryResponse{Repository: repo})
}
