package authapi

import (
	"net"
	"net/http"
	"strings"

	"stockroom/cmd/identity"
	"stockroom/cmd/internal/auth/session"
)

func toLoginResponse(p session.Pair) loginResponse {
	return loginResponse{
		UserID:          p.UserID,
		AccessToken:     p.AccessToken,
		AccessExpiresAt: p.AccessExpiresAt,
	}
}

func toRefreshResponse(p session.Pair) refreshResponse {
	return refreshResponse{
		AccessToken:     p.AccessToken,
		AccessExpiresAt: p.AccessExpiresAt,
	}
}

// loginKey is the throttle key for an email: normalized so case and
// whitespace variants share one bucket.
func loginKey(email string) string {
	return "login:email:" + identity.NormalizeEmail(email)
}

func ipKey(prefix string, ip net.IP) string {
	if ip == nil {
		return ""
	}
	return prefix + ":ip:" + ip.String()
}

func bearerToken(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if v == "" {
		return ""
	}
	scheme, tok, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

// ClientIP returns the caller address, honoring X-Forwarded-For and
// X-Real-IP only when trustProxy is set. trustProxy assumes exactly one proxy
// hop in front of the server.
func ClientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

// parseForwardedIP returns the rightmost X-Forwarded-For entry: the one the
// trusted proxy appended. Entries to its left are client supplied.
func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	return net.ParseIP(strings.TrimSpace(parts[len(parts)-1]))
}
