package session

import (
	"net/http"
	"time"
)

// AccessCookieName name of the access token cookie
func (a *Authority) AccessCookieName() string {
	return a.config.AccessCookie
}

// RefreshCookieName name of the refresh token cookie
func (a *Authority) RefreshCookieName() string {
	return a.config.RefreshCookie
}

func (a *Authority) cookie(name string, token Token) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    token.Value,
		Path:     "/",
		Expires:  token.ExpiresAt.UTC(),
		MaxAge:   int(token.Window / time.Second),
		HttpOnly: true,
		Secure:   a.config.Production,
		SameSite: http.SameSiteStrictMode,
	}
}

// SetSessionCookies write the access and refresh cookies of a token pair
func (a *Authority) SetSessionCookies(w http.ResponseWriter, issued Issued) {
	http.SetCookie(w, a.cookie(a.config.AccessCookie, issued.Access))
	http.SetCookie(w, a.cookie(a.config.RefreshCookie, issued.Refresh))
}

// ClearSessionCookies expire both session cookies on the client
func (a *Authority) ClearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{a.config.AccessCookie, a.config.RefreshCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0).UTC(),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   a.config.Production,
			SameSite: http.SameSiteStrictMode,
		})
	}
}
