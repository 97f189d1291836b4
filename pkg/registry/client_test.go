package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/tfgate/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, NewClient(server.URL + "/")
}

func TestClient_IssueToken(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/token", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var creds Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "alice@example.com", creds.Username)
		assert.Equal(t, GrantTypePassword, creds.GrantType)
		assert.Equal(t, "read:module", creds.Scope)

		json.NewEncoder(w).Encode(TokenResponse{Token: "t1", Permissions: []string{"read:module"}})
	})

	resp, err := client.IssueToken(context.Background(), Credentials{
		Username: "alice@example.com",
		Password: "secret",
		Scope:    "read:module",
		Role:     "reader",
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", resp.Token)
	assert.Equal(t, []string{"read:module"}, resp.Permissions)
}

func TestClient_IssueTokenRejected(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad credentials"}`, http.StatusUnauthorized)
	})

	_, err := client.IssueToken(context.Background(), Credentials{Username: "a", Password: "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
	assert.False(t, IsTransient(err))
}

func TestClient_VerifyToken(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{
			name:   "valid",
			status: http.StatusOK,
			check:  func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			name:   "expired",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrUnauthorized)
				assert.False(t, IsTransient(err))
			},
		},
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrForbidden)
				assert.NotErrorIs(t, err, ErrUnauthorized)
			},
		},
		{
			name:   "server error is transient",
			status: http.StatusBadGateway,
			check: func(t *testing.T, err error) {
				assert.True(t, IsServerError(err))
				assert.True(t, IsTransient(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/auth/verify", r.URL.Path)
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
			})
			tt.check(t, client.VerifyToken(context.Background(), "tok"))
		})
	}
}

func TestClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(url, WithTimeout(time.Second))
	err := client.VerifyToken(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.True(t, IsTransient(err))
	assert.Zero(t, StatusCode(err))
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	defer close(release)

	client = client.WithToken("tok")
	client.httpClient.Timeout = 50 * time.Millisecond

	_, err := client.SearchModules(context.Background(), SearchParams{Query: "vpc"})
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestClient_RefreshToken(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/refresh", r.URL.Path)
		assert.Equal(t, "Bearer stale", r.Header.Get("Authorization"))
		w.Write([]byte(`{"token":"fresh"}`))
	})

	resp, err := client.RefreshToken(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, "fresh", resp.Token)
}

func TestClient_MalformedResponse(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"invalid json": func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html>")) },
		"empty body":   func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
		"no content":   func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) },
	}

	for name, handler := range tests {
		t.Run(name, func(t *testing.T) {
			_, client := newTestServer(t, handler)
			_, err := client.RefreshToken(context.Background(), "stale")
			assert.ErrorIs(t, err, ErrMalformedResponse)
			assert.False(t, IsTransient(err))
		})
	}
}

func TestClient_WithTokenIsolation(t *testing.T) {
	seen := make(chan string, 2)
	_, base := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("Authorization")
		w.Write([]byte(`{"modules":[]}`))
	})

	alice := base.WithToken("alice-token")
	bob := base.WithToken("bob-token")

	assert.Empty(t, base.Token())
	assert.Equal(t, "alice-token", alice.Token())
	assert.Equal(t, "bob-token", bob.Token())

	_, err := alice.SearchModules(context.Background(), SearchParams{})
	require.NoError(t, err)
	_, err = bob.SearchModules(context.Background(), SearchParams{})
	require.NoError(t, err)

	assert.Equal(t, "Bearer alice-token", <-seen)
	assert.Equal(t, "Bearer bob-token", <-seen)
}

func TestModule_MirrorsBackendDocument(t *testing.T) {
	doc := `{"namespace":"hashicorp","name":"consul","provider":"aws","downloads":0,"verified":false,"tags":["network"]}`
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"modules":[` + doc + `]}`))
	})

	result, err := client.SearchModules(context.Background(), SearchParams{})
	require.NoError(t, err)
	require.Len(t, result.Modules, 1)
	assert.Equal(t, "hashicorp", result.Modules[0].Namespace)

	out, err := json.Marshal(result.Modules)
	require.NoError(t, err)
	assert.JSONEq(t, "["+doc+"]", string(out))

	built, err := json.Marshal(Module{Namespace: "acme", Name: "vpc", Provider: "aws"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"namespace":"acme","name":"vpc","provider":"aws","downloads":0,"verified":false}`, string(built))
}

func TestClient_SearchModulesQuery(t *testing.T) {
	t.Run("defaults and omitted filters", func(t *testing.T) {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "/v1/modules/search", r.URL.Path)
			assert.True(t, q.Has("query"))
			assert.Equal(t, "", q.Get("query"))
			assert.False(t, q.Has("provider"))
			assert.False(t, q.Has("namespace"))
			assert.Equal(t, "10", q.Get("limit"))
			assert.Equal(t, "0", q.Get("offset"))
			w.Write([]byte(`{"modules":[{"namespace":"hashicorp","name":"consul","provider":"aws"}]}`))
		})

		result, err := client.SearchModules(context.Background(), SearchParams{})
		require.NoError(t, err)
		require.Len(t, result.Modules, 1)
		assert.Equal(t, "hashicorp", result.Modules[0].Namespace)
	})

	t.Run("all filters", func(t *testing.T) {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "vpc", q.Get("query"))
			assert.Equal(t, "aws", q.Get("provider"))
			assert.Equal(t, "acme", q.Get("namespace"))
			assert.Equal(t, "25", q.Get("limit"))
			assert.Equal(t, "50", q.Get("offset"))
			w.Write([]byte(`{"meta":{"limit":25},"modules":[]}`))
		})

		result, err := client.SearchModules(context.Background(), SearchParams{
			Query: "vpc", Provider: "aws", Namespace: "acme", Limit: 25, Offset: 50,
		})
		require.NoError(t, err)
		assert.Empty(t, result.Modules)
		assert.Equal(t, float64(25), result.Meta["limit"])
	})
}

func TestClient_ListVersionsAndGetModule(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/modules/hashicorp/consul/aws/versions":
			w.Write([]byte(`{"modules":[{"source":"hashicorp/consul/aws","versions":[{"version":"1.0.0"},{"version":"1.1.0"}]}]}`))
		case "/v1/modules/hashicorp/consul/aws/1.1.0":
			w.Write([]byte(`{"id":"hashicorp/consul/aws/1.1.0","version":"1.1.0"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	client = client.WithToken("tok")

	versions, err := client.ListVersions(context.Background(), "hashicorp", "consul", "aws")
	require.NoError(t, err)
	require.Len(t, versions.Modules, 1)
	assert.Len(t, versions.Modules[0].Versions, 2)

	detail, err := client.GetModule(context.Background(), "hashicorp", "consul", "aws", "1.1.0")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"hashicorp/consul/aws/1.1.0","version":"1.1.0"}`, string(detail))

	_, err = client.GetModule(context.Background(), "hashicorp", "consul", "aws", "9.9.9")
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
}

func TestClient_DownloadLocation(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/modules/hashicorp/consul/aws/1.0.0/download":
			w.Header().Set("x-terraform-get", "git::https://github.com/hashicorp/terraform-aws-consul?ref=v1.0.0")
			w.WriteHeader(http.StatusNoContent)
		case "/v1/modules/hashicorp/consul/aws/1.0.0/source":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	loc, err := client.GetDownloadURL(context.Background(), "hashicorp", "consul", "aws", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "git::https://github.com/hashicorp/terraform-aws-consul?ref=v1.0.0", loc.DownloadURL)

	_, err = client.GetModuleSource(context.Background(), "hashicorp", "consul", "aws", "1.0.0")
	assert.ErrorIs(t, err, ErrNoDownloadLocation)
}

func TestClient_ModulePathEscaping(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/modules/a%2Fb/name/aws/versions", r.URL.RawPath)
		w.Write([]byte(`{"modules":[]}`))
	})

	_, err := client.ListVersions(context.Background(), "a/b", "name", "aws")
	require.NoError(t, err)
}

func TestClient_DiscoveryCache(t *testing.T) {
	var calls int32
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/.well-known/terraform.json", r.URL.Path)
		w.Write([]byte(`{"modules.v1":"/v1/modules/"}`))
	})

	for i := 0; i < 3; i++ {
		doc, err := client.DiscoverEndpoints(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "/v1/modules/", doc["modules.v1"])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// copies share the cache
	_, err := client.WithToken("tok").DiscoverEndpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	require.NoError(t, client.Ping(context.Background()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_DiscoveryCacheExpires(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"modules.v1":"/v1/modules/"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, WithDiscoveryTTL(20*time.Millisecond))
	_, err := client.DiscoverEndpoints(context.Background())
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	_, err = client.DiscoverEndpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_RecordsMetrics(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithMetrics(metrics))
	err := client.VerifyToken(context.Background(), "tok")
	require.True(t, errors.Is(err, ErrUnauthorized))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RegistryRequestsTotal.WithLabelValues("verify_token", "401")))
}
