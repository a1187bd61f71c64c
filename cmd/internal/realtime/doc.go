// Package realtime pushes session events to connected clients over websocket.
//
// A client connects to /ws/sessions with its access token. When every
// session of its user is revoked (refresh token reuse or logout-all) the Hub
// sends a sessions.revoked event and closes the connection, so open tabs
// stop acting on a chain that no longer exists.
package realtime
