package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"stockroom/cmd/security/token"
)

// Authenticator verifies the access token presented on upgrade.
// *session.Manager implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (token.AccessPayload, error)
}

// WSGateway is the websocket entrypoint for session events.
//
// It enforces origin policy and authentication before upgrading, then runs
// a writer, a heartbeat and a read loop per connection.
type WSGateway struct {
	log  *slog.Logger
	hub  *Hub
	auth Authenticator
	cfg  Config

	// websocket.Accept checks cross-origin requests against host patterns;
	// these are derived from AllowedOrigins so both layers agree.
	originPatterns []string
}

// NewWSGateway constructs a gateway.
func NewWSGateway(log *slog.Logger, hub *Hub, auth Authenticator, cfg Config) (*WSGateway, error) {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil || auth == nil {
		return nil, errors.New("realtime: nil hub or authenticator")
	}
	cfg = cfg.withDefaults()
	return &WSGateway{
		log:            log,
		hub:            hub,
		auth:           auth,
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
	}, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates, upgrades, and serves one connection until it
// closes or the user's sessions are revoked.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	claims, err := g.auth.Authenticate(r.Context(), accessTokenFromRequest(r))
	if err != nil {
		g.log.Info("ws.reject.auth", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	conn.SetReadLimit(maxFrameBytes)

	now := time.Now().UTC()
	client := NewClient(NewClientID(now), claims.UserID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Unregister(client)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// Ready goes out before registration is visible so it is always the first frame.
	if err := g.write(ctx, conn, Event{Type: TypeReady, ClientID: client.ID, At: now}); err != nil {
		g.log.Info("ws.write.fail", "client_id", client.ID, "err", err)
		return
	}
	g.hub.Register(client)
	g.log.Info("ws.open", "client_id", client.ID, "user_id", client.UserID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, conn, client, shutdown)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, shutdown)
	}()

	g.readLoop(ctx, conn, client, shutdown)

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
	g.log.Info("ws.close", "client_id", client.ID, "user_id", client.UserID)
}

func (g *WSGateway) writeLoop(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-client.Revoked():
			ev := client.RevokeEvent()
			if err := g.write(ctx, conn, ev); err != nil {
				g.log.Info("ws.write.fail", "client_id", client.ID, "err", err)
			}
			shutdown(websocket.StatusPolicyViolation, "sessions revoked")
			return
		}
	}
}

func (g *WSGateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "client_id", client.ID, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// readLoop drains inbound frames. Clients have nothing to say beyond
// keepalives, but reading is what processes pongs and close frames.
func (g *WSGateway) readLoop(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		_, _, err := conn.Read(readCtx)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose, readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "closed")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "client_id", client.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			return
		}

		if !rl.Allow(time.Now()) {
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			return
		}
	}
}

func (g *WSGateway) write(parent context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(parent, g.cfg.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

// accessTokenFromRequest prefers the Authorization header. Browsers cannot
// set headers on a websocket upgrade, so the access_token query parameter is
// accepted as well.
func accessTokenFromRequest(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if scheme, tok, ok := strings.Cut(v, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(tok)
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*", origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			seen["*"] = struct{}{}
			continue
		}
		// Accept matches against the origin's host:port.
		if h := originHostOnly(a); h != "" {
			seen[h] = struct{}{}
			seen[h+":*"] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}
