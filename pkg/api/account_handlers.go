package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/tfgate/pkg/accounts"
	"github.com/platinummonkey/tfgate/pkg/auth"
	"github.com/platinummonkey/tfgate/pkg/httputil"
)

// IndexResponse is the answer to GET /
type IndexResponse struct {
	User       *auth.User `json:"user"`
	Namespaces []string   `json:"namespaces"`
	Providers  []string   `json:"providers"`
}

// AccountHandlers serves the caller's profile and the admin user views
type AccountHandlers struct {
	accounts  *accounts.Service
	providers []string
}

// NewAccountHandlers creates account handlers. providers is the provider
// list offered on the index document.
func NewAccountHandlers(accts *accounts.Service, providers []string) *AccountHandlers {
	return &AccountHandlers{
		accounts:  accts,
		providers: providers,
	}
}

// RegisterRoutes registers the session-protected account routes
func (h *AccountHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/", h.index).Methods("GET")
	router.HandleFunc("/profile", h.getProfile).Methods("GET")
	router.HandleFunc("/profile", h.updateProfile).Methods("PUT")
}

// RegisterAdminRoutes registers user management routes on a router that
// already enforces manage:users
func (h *AccountHandlers) RegisterAdminRoutes(router *mux.Router) {
	router.HandleFunc("/users", h.listUsers).Methods("GET")
	router.HandleFunc("/users/{id}", h.updateUser).Methods("PUT")
}

// index handles GET /
func (h *AccountHandlers) index(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())
	providers := h.providers
	if providers == nil {
		providers = []string{}
	}
	httputil.WriteSuccess(w, IndexResponse{
		User:       ac.User,
		Namespaces: ac.Namespaces,
		Providers:  providers,
	})
}

// getProfile handles GET /profile
func (h *AccountHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.Profile(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"user": user})
}

// updateProfile handles PUT /profile
func (h *AccountHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req accounts.ProfileUpdate
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.accounts.UpdateProfile(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"user": user})
}

// listUsers handles GET /admin/users
func (h *AccountHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.accounts.ListUsers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if users == nil {
		users = []*auth.User{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"users": users})
}

// updateUser handles PUT /admin/users/{id}
func (h *AccountHandlers) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req accounts.UserUpdate
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.accounts.UpdateUser(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"user": user})
}
