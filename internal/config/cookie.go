package config

import (
	"net/http"
	"strings"
	"time"
)

var sameSiteModes = map[string]http.SameSite{
	"none":   http.SameSiteNoneMode,
	"lax":    http.SameSiteLaxMode,
	"strict": http.SameSiteStrictMode,
}

// Mode maps s to http.SameSite ignoring case. Unknown values leave the
// browser default.
func (s CookieSameSite) Mode() http.SameSite {
	return sameSiteModes[strings.ToLower(strings.TrimSpace(string(s)))]
}

// ToCookie renders the template around value. Browsers drop SameSite=None
// cookies that are not Secure, so None implies Secure.
func (ct *CookieTemplate) ToCookie(value string) *http.Cookie {
	mode := ct.SameSite.Mode()

	return &http.Cookie{
		Name:     ct.Name,
		Value:    value,
		MaxAge:   ct.MaxAge,
		Path:     ct.Path,
		Domain:   ct.Domain,
		Secure:   ct.Secure || mode == http.SameSiteNoneMode,
		HttpOnly: ct.HTTPOnly,
		SameSite: mode,
	}
}

// ToCookieFor is ToCookie with MaxAge capped at lifetime, so the cookie does
// not outlive the token it carries.
func (ct *CookieTemplate) ToCookieFor(value string, lifetime time.Duration) *http.Cookie {
	c := ct.ToCookie(value)

	if secs := int(lifetime / time.Second); secs > 0 && (c.MaxAge <= 0 || c.MaxAge > secs) {
		c.MaxAge = secs
	}

	return c
}

// Expired renders a cookie that makes the browser drop the template's cookie.
func (ct *CookieTemplate) Expired() *http.Cookie {
	c := ct.ToCookie("")
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)

	return c
}
