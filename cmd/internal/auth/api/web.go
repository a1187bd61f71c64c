package authapi

import (
	"net/http"
	"strings"
	"time"
)

// setRefreshCookie stores the refresh token in an HttpOnly cookie that lives
// exactly as long as the token.
func (h *Handler) setRefreshCookie(w http.ResponseWriter, value string, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.RefreshCookieName,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp.UTC(),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

func (h *Handler) expireRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.RefreshCookieName,
		Value:    "",
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

func (h *Handler) refreshTokenFromCookie(r *http.Request) string {
	c, err := r.Cookie(h.cfg.RefreshCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}
