package authapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

// The signed state is also set as a cookie so the callback can be tied to the
// browser that started the flow.

func (h *Handler) setStateCookie(w http.ResponseWriter, state string, now time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.StateCookieName,
		Value:    state,
		Path:     "/auth/provider",
		Expires:  now.Add(h.cfg.StateTTL),
		MaxAge:   int(h.cfg.StateTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

func (h *Handler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.StateCookieName,
		Value:    "",
		Path:     "/auth/provider",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

// stateCookieMatches reports whether the request carries the state cookie and
// it equals state. A missing cookie is tolerated (the state signature still
// holds); a mismatching one is not.
func (h *Handler) stateCookieMatches(r *http.Request, state string) bool {
	c, err := r.Cookie(h.cfg.StateCookieName)
	if err != nil {
		return true
	}
	v := strings.TrimSpace(c.Value)
	if v == "" {
		return true
	}
	return secureStringEqual(v, state)
}

func secureStringEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
