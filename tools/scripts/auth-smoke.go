// Package main is a CI-friendly end-to-end check of refresh rotation against
// a running stockroom server.
//
// It validates:
//   - login sets the refresh cookie and returns an access token
//   - the session event socket accepts the access token and sends ready
//   - refresh rotates the cookie
//   - replaying the rotated-out cookie is rejected as reuse
//   - reuse pushes sessions.revoked and closes the socket
//   - the successor token is dead afterwards
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const refreshCookieName = "refreshToken"

type event struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
	Reason   string `json:"reason"`
}

type smoke struct {
	base    string
	origin  string
	client  *http.Client
	timeout time.Duration
	verbose bool
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header for the websocket handshake")
		email    = flag.String("email", "", "Existing user email (see cmd/seed)")
		password = flag.String("password", "", "Password for -email")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if *email == "" || *password == "" {
		fatalf("-email and -password are required")
	}
	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	s := &smoke{
		base:    strings.TrimRight(*baseURL, "/"),
		origin:  *origin,
		client:  &http.Client{Timeout: *timeout},
		timeout: *timeout,
		verbose: *verbose,
	}
	root := context.Background()

	access, first := s.mustLogin(root, *email, *password)

	conn := s.mustConnect(root, access)
	defer func() { _ = conn.CloseNow() }()

	second := s.mustRefresh(root, first)
	if second.Value == first.Value {
		fatalf("refresh: cookie was not rotated")
	}

	status, code := s.refresh(root, first)
	if status != http.StatusUnauthorized || code != "token_reused" {
		fatalf("replay: got status=%d code=%q, want 401 token_reused", status, code)
	}

	s.mustReadRevoked(root, conn)

	status, _ = s.refresh(root, second)
	if status != http.StatusUnauthorized {
		fatalf("successor after reuse: got status=%d, want 401", status)
	}

	fmt.Println("OK: rotation, reuse detection and revocation push verified")
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func (s *smoke) do(parent context.Context, method, path string, body io.Reader, cookie *http.Cookie) *http.Response {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, s.base+path, body)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	resp, err := s.client.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (s *smoke) mustLogin(ctx context.Context, email, password string) (string, *http.Cookie) {
	payload, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp := s.do(ctx, http.MethodPost, "/auth/login", strings.NewReader(string(payload)), nil)
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("login: status=%d", resp.StatusCode)
	}
	var out struct {
		UserID      string `json:"user_id"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.AccessToken == "" {
		fatalf("login: bad body: %v", err)
	}
	c := mustCookie(resp, "login")
	if s.verbose {
		fmt.Printf("login ok: user_id=%s\n", out.UserID)
	}
	return out.AccessToken, c
}

func (s *smoke) refresh(ctx context.Context, cookie *http.Cookie) (int, string) {
	resp := s.do(ctx, http.MethodPost, "/auth/refresh", nil, cookie)
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusOK {
		return resp.StatusCode, ""
	}
	var out struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out.Error.Code
}

func (s *smoke) mustRefresh(ctx context.Context, cookie *http.Cookie) *http.Cookie {
	resp := s.do(ctx, http.MethodPost, "/auth/refresh", nil, cookie)
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("refresh: status=%d", resp.StatusCode)
	}
	return mustCookie(resp, "refresh")
}

func mustCookie(resp *http.Response, step string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == refreshCookieName && c.Value != "" {
			return c
		}
	}
	fatalf("%s: no %s cookie in response", step, refreshCookieName)
	return nil
}

func (s *smoke) mustConnect(parent context.Context, access string) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(s.base, "http") + "/ws/sessions"
	h := http.Header{}
	h.Set("Authorization", "Bearer "+access)
	if s.origin != "" {
		h.Set("Origin", s.origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		if resp != nil {
			fatalf("dial %s: %v (status=%d)", wsURL, err, resp.StatusCode)
		}
		fatalf("dial %s: %v", wsURL, err)
	}

	var ready event
	if err := wsjson.Read(ctx, conn, &ready); err != nil {
		fatalf("read ready: %v", err)
	}
	if ready.Type != "ready" || ready.ClientID == "" {
		fatalf("first frame: got %+v, want ready", ready)
	}
	if s.verbose {
		fmt.Printf("ws ready: client_id=%s\n", ready.ClientID)
	}
	return conn
}

func (s *smoke) mustReadRevoked(parent context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	var ev event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		fatalf("read revoked: %v", err)
	}
	if ev.Type != "sessions.revoked" || ev.Reason != "token_reused" {
		fatalf("revocation frame: got %+v", ev)
	}

	_, _, err := conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
		fatalf("expected close %d after revocation, got %d (%v)", websocket.StatusPolicyViolation, got, err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
