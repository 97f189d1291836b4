package registry

import "encoding/json"

// GrantTypePassword is the grant used when exchanging user credentials
const GrantTypePassword = "password"

// Credentials is the body of POST /auth/token
type Credentials struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	GrantType string `json:"grant_type"`
	Scope     string `json:"scope"`
	Role      string `json:"role"`
}

// TokenResponse is returned by the token issue and refresh endpoints
type TokenResponse struct {
	Token       string   `json:"token"`
	Permissions []string `json:"permissions,omitempty"`
}

// SearchParams holds the module search filters. Empty strings are omitted
// from the outbound query.
type SearchParams struct {
	Query     string
	Provider  string
	Namespace string
	Limit     int
	Offset    int
}

// DefaultSearchLimit is used when SearchParams.Limit is not positive
const DefaultSearchLimit = 10

// Module is a registry module as returned by search. A decoded module
// encodes back to the backend's document unchanged.
type Module struct {
	ID          string `json:"id,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Namespace   string `json:"namespace"`
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
	Downloads   int64  `json:"downloads"`
	Verified    bool   `json:"verified"`

	raw json.RawMessage
}

type plainModule Module

// UnmarshalJSON decodes the known fields and keeps the original document
func (m *Module) UnmarshalJSON(data []byte) error {
	var p plainModule
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = Module(p)
	m.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON writes the original document when the module was decoded
func (m Module) MarshalJSON() ([]byte, error) {
	if len(m.raw) > 0 {
		return m.raw, nil
	}
	return json.Marshal(plainModule(m))
}

// SearchResult is the body of GET /v1/modules/search
type SearchResult struct {
	Meta    map[string]interface{} `json:"meta,omitempty"`
	Modules []Module               `json:"modules"`
}

// Version is one published module version
type Version struct {
	Version    string          `json:"version"`
	Root       json.RawMessage `json:"root,omitempty"`
	Submodules json.RawMessage `json:"submodules,omitempty"`
}

// ModuleVersions groups the versions of one module
type ModuleVersions struct {
	Source   string    `json:"source,omitempty"`
	Versions []Version `json:"versions"`
}

// VersionsResult is the body of GET .../versions
type VersionsResult struct {
	Modules []ModuleVersions `json:"modules"`
}

// DownloadLocation is the structured form of a 204 + X-Terraform-Get answer
type DownloadLocation struct {
	DownloadURL string `json:"downloadUrl"`
}

// Discovery is the service discovery document
type Discovery map[string]interface{}
