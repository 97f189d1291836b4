package session

import (
	"encoding/base64"
	"net/http"
	"time"
)

const (
	// CookieName carries the signed local session
	CookieName = "tfgate_session"
	// NoticeCookieName carries a one-shot flash notice for the login page
	NoticeCookieName = "tfgate_notice"
)

// Cookies writes and reads the session and notice cookies
type Cookies struct {
	Secure bool
}

// Value returns the session cookie value, or "" when absent
func (c Cookies) Value(r *http.Request) string {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Set issues the session cookie
func (c Cookies) Set(w http.ResponseWriter, value string, expiresAt time.Time) {
	http.SetCookie(w, c.cookie(CookieName, value, expiresAt))
}

// Clear expires the session cookie
func (c Cookies) Clear(w http.ResponseWriter) {
	cookie := c.cookie(CookieName, "", time.Unix(0, 0))
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
}

// SetNotice stores a flash notice shown on the next login page view
func (c Cookies) SetNotice(w http.ResponseWriter, notice string) {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(notice))
	http.SetCookie(w, c.cookie(NoticeCookieName, encoded, time.Now().Add(5*time.Minute)))
}

// PopNotice returns the pending flash notice and clears it
func (c Cookies) PopNotice(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(NoticeCookieName)
	if err != nil {
		return ""
	}
	expired := c.cookie(NoticeCookieName, "", time.Unix(0, 0))
	expired.MaxAge = -1
	http.SetCookie(w, expired)

	decoded, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return ""
	}
	return string(decoded)
}

func (c Cookies) cookie(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
