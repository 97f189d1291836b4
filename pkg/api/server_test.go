package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/tfgate/pkg/accounts"
	"github.com/platinummonkey/tfgate/pkg/auth"
	"github.com/platinummonkey/tfgate/pkg/observability"
	"github.com/platinummonkey/tfgate/pkg/rbac"
	"github.com/platinummonkey/tfgate/pkg/registry"
	"github.com/platinummonkey/tfgate/pkg/repositories"
	"github.com/platinummonkey/tfgate/pkg/session"
	"github.com/platinummonkey/tfgate/pkg/storage/sqlstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "hunter22"

var memoryDBCounter int64

// registryStub answers the backend routes the proxy calls. Tokens named
// "expired" fail verification; refreshing "dead" is rejected.
func registryStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/terraform.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"modules.v1":"/v1/modules/"}`)
	})
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token":"issued"}`)
	})
	mux.HandleFunc("/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		switch bearer(r) {
		case "expired", "dead":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		if bearer(r) == "dead" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"token":"refreshed"}`)
	})
	mux.HandleFunc("/v1/modules/search", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, bearer(r))
		fmt.Fprint(w, `{"modules":[
			{"namespace":"hashicorp","name":"consul","provider":"aws"},
			{"namespace":"acme","name":"vpc","provider":"aws"},
			{"namespace":"hashicorp","name":"vault","provider":"aws"}
		]}`)
	})
	mux.HandleFunc("/v1/modules/hashicorp/consul/aws/1.0.0/download", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(registry.TerraformGetHeader, "git::https://example.com/consul?ref=v1.0.0")
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/v1/modules/hashicorp/missing/aws/1.0.0", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

type testEnv struct {
	server *Server
	store  *sqlstore.Store
	codec  *auth.SessionCodec
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	dsn := fmt.Sprintf("file:tfgate_api_%d?mode=memory&cache=shared", atomic.AddInt64(&memoryDBCounter, 1))
	store, err := sqlstore.Open(ctx, sqlstore.ConnectionConfig{Driver: sqlstore.DialectSQLite, URL: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))

	backend := registryStub(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	codec := auth.NewSessionCodec("0123456789abcdef-test", time.Hour)
	client := registry.NewClient(backend.URL, registry.WithTimeout(2*time.Second), registry.WithMetrics(metrics))
	checker := rbac.NewChecker([]string{"hashicorp"}, metrics)

	server := NewServer(Dependencies{
		Authorizer:   session.NewAuthorizer(store, client, checker, codec, session.WithMetrics(metrics)),
		Registry:     client,
		Checker:      checker,
		Accounts:     accounts.NewService(store, checker, "admin@example.com"),
		Repositories: repositories.NewService(store, checker, metrics),
		Providers:    []string{"aws", "google"},
		Metrics:      metrics,
		Logger:       observability.NewLogger(observability.ErrorLevel, io.Discard),
	})
	return &testEnv{server: server, store: store, codec: codec}
}

// createUser stores a user holding token and returns its session cookie
func (e *testEnv) createUser(t *testing.T, email string, role auth.Role, token string) *http.Cookie {
	t.Helper()
	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	user := &auth.User{Email: email, PasswordHash: hash, Role: role, Token: token}
	require.NoError(t, e.store.CreateUser(context.Background(), user))
	value, _, err := e.codec.Encode(user.ID)
	require.NoError(t, err)
	return &http.Cookie{Name: session.CookieName, Value: value}
}

func (e *testEnv) do(method, target string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestRegisterThenLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("POST", "/register", LoginRequest{Email: "admin@example.com", Password: testPassword})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var registered struct {
		User auth.User `json:"user"`
	}
	decode(t, rec, &registered)
	assert.Equal(t, auth.RoleAdmin, registered.User.Role)

	rec = env.do("POST", "/login?next=/profile", LoginRequest{Email: "admin@example.com", Password: testPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var login LoginResponse
	decode(t, rec, &login)
	assert.Equal(t, "/profile", login.Next)

	cookie := responseCookie(rec, session.CookieName)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	rec = env.do("GET", "/", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var index IndexResponse
	decode(t, rec, &index)
	assert.Equal(t, "admin@example.com", index.User.Email)
	assert.Equal(t, []string{"hashicorp"}, index.Namespaces)
	assert.Equal(t, []string{"aws", "google"}, index.Providers)
}

func TestLogin_BadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "dev@example.com", auth.RolePublisher, "")

	rec := env.do("POST", "/login", LoginRequest{Email: "dev@example.com", Password: "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, responseCookie(rec, session.CookieName))
}

func TestLogin_OpenRedirectIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "dev@example.com", auth.RolePublisher, "")

	rec := env.do("POST", "/login?next=//evil.example.com", LoginRequest{Email: "dev@example.com", Password: testPassword})
	require.Equal(t, http.StatusOK, rec.Code)
	var login LoginResponse
	decode(t, rec, &login)
	assert.Empty(t, login.Next)
}

func TestProtectedRoute_RedirectsWithoutSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/profile", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?next=%2Fprofile", rec.Header().Get("Location"))
}

func TestForcedLogout_RedirectsWithNotice(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.createUser(t, "dev@example.com", auth.RolePublisher, "dead")

	rec := env.do("GET", "/v1/modules/search", nil, cookie)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/login?next="))

	cleared := responseCookie(rec, session.CookieName)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)

	notice := responseCookie(rec, session.NoticeCookieName)
	require.NotNil(t, notice)

	rec = env.do("GET", "/login", nil, notice)
	require.Equal(t, http.StatusOK, rec.Code)
	var page LoginPage
	decode(t, rec, &page)
	assert.Equal(t, auth.ErrRefreshFailed.Error(), page.Notice)
}

func TestExpiredToken_RefreshedTransparently(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.createUser(t, "dev@example.com", auth.RolePublisher, "expired")

	rec := env.do("GET", "/profile", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	user, err := env.store.GetUserByEmail(context.Background(), "dev@example.com")
	require.NoError(t, err)
	assert.Equal(t, "refreshed", user.Token)
}

func TestSearch_FiltersInaccessibleNamespaces(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.createUser(t, "dev@example.com", auth.RoleReader, "good")

	rec := env.do("GET", "/v1/modules/search?q=consul", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result registry.SearchResult
	decode(t, rec, &result)
	require.Len(t, result.Modules, 2)
	assert.Equal(t, "consul", result.Modules[0].Name)
	assert.Equal(t, "vault", result.Modules[1].Name)
}

func TestSearch_DeniedNamespace(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.createUser(t, "dev@example.com", auth.RoleReader, "good")

	rec := env.do("GET", "/v1/modules/search?namespace=acme", nil, cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "acme")

	rec = env.do("GET", "/v1/modules/search?limit=abc", nil, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownload_ForwardsLocation(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.createUser(t, "dev@example.com", auth.RoleReader, "good")

	rec := env.do("GET", "/v1/modules/hashicorp/consul/aws/1.0.0/download", nil, cookie)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Equal(t, "git::https://example.com/consul?ref=v1.0.0", rec.Header().Get(registry.TerraformGetHeader))

	rec = env.do("GET", "/v1/modules/acme/vpc/aws/1.0.0/download", nil, cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestModule_NotFound(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.createUser(t, "dev@example.com", auth.RoleReader, "good")

	rec := env.do("GET", "/v1/modules/hashicorp/missing/aws/1.0.0", nil, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDiscovery_IsPublic(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/.well-known/terraform.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "modules.v1")
}

func TestRepositories_RegisterAndDuplicate(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.createUser(t, "dev@example.com", auth.RolePublisher, "good")

	body := RegisterRepositoryRequest{URL: "https://github.com/hashicorp/terraform-aws-consul"}
	rec := env.do("POST", "/repositories", body, cookie)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do("POST", "/repositories", body, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var dup RepositoryResponse
	decode(t, rec, &dup)
	assert.Equal(t, auth.ErrDuplicateRepository.Error(), dup.Warning)
	assert.Equal(t, "terraform-aws-consul", dup.Repository.Name)

	rec = env.do("POST", "/repositories", RegisterRepositoryRequest{URL: "https://gitlab.com/a/b"}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do("POST", "/repositories", RegisterRepositoryRequest{URL: "https://github.com/acme/vpc"}, cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do("GET", "/repositories", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Repositories []auth.Repository `json:"repositories"`
	}
	decode(t, rec, &list)
	assert.Len(t, list.Repositories, 1)
}

func TestAdminRoutes_RequireManageUsers(t *testing.T) {
	env := newTestEnv(t)
	reader := env.createUser(t, "dev@example.com", auth.RoleReader, "good")
	admin := env.createUser(t, "admin@example.com", auth.RoleAdmin, "good")

	rec := env.do("GET", "/admin/users", nil, reader)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do("GET", "/admin/users", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list struct {
		Users []auth.User `json:"users"`
	}
	decode(t, rec, &list)
	assert.Len(t, list.Users, 2)
}

func TestLogout_ClearsCookie(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.createUser(t, "dev@example.com", auth.RolePublisher, "good")

	rec := env.do("POST", "/logout", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	cleared := responseCookie(rec, session.CookieName)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)
	assert.NotNil(t, responseCookie(rec, session.NoticeCookieName))
}

func TestUnknownRoute_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/no/such/route", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
