// Package signaling is the connection-oriented transport boundary: it
// receives inbound events over websockets, dispatches them to the presence
// registry, the call session manager and the metadata exchange, and pushes
// outbound events to specific connections.
package signaling

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"calling-platform/internal/metadata"
	"calling-platform/internal/presence"
	"calling-platform/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Config carries the gateway's collaborators and optional metric hooks.
type Config struct {
	Logger *slog.Logger

	// OnEvent is invoked once per dispatched inbound event; OnConnect and
	// OnDisconnect bracket each connection's lifetime. All may be nil.
	OnEvent      func(event string)
	OnConnect    func()
	OnDisconnect func()
}

// Gateway owns the websocket endpoint and the event dispatch table.
type Gateway struct {
	reg      *presence.Registry
	sessions *session.Manager
	meta     *metadata.Exchange

	log          *slog.Logger
	onEvent      func(event string)
	onConnect    func()
	onDisconnect func()

	upgrader websocket.Upgrader
}

func NewGateway(reg *presence.Registry, sessions *session.Manager, meta *metadata.Exchange, cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{
		reg:          reg,
		sessions:     sessions,
		meta:         meta,
		log:          cfg.Logger,
		onEvent:      cfg.OnEvent,
		onConnect:    cfg.OnConnect,
		onDisconnect: cfg.OnDisconnect,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Signaling clients are mobile/desktop apps, not browsers on our
			// origin; token auth happens at the HTTP layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS upgrades the HTTP request and serves the connection until it
// closes.
func (g *Gateway) HandleWS(c *gin.Context) {
	sock, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn("ws upgrade failed", "err", err)
		return
	}
	conn := newWSConn(sock)
	g.serve(c.Request.Context(), conn)
}

func (g *Gateway) serve(ctx context.Context, conn *wsConn) {
	if g.onConnect != nil {
		g.onConnect()
	}
	g.log.Info("signaling connected", "conn", conn.ID())

	defer func() {
		g.disconnect(conn)
		conn.close()
		if g.onDisconnect != nil {
			g.onDisconnect()
		}
		g.log.Info("signaling disconnected", "conn", conn.ID())
	}()

	for {
		var env Envelope
		if err := conn.sock.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.log.Debug("ws read ended", "conn", conn.ID(), "err", err)
			}
			return
		}
		g.Dispatch(ctx, conn, env)
	}
}

// disconnect runs the connection-close cleanup: the presence entry is
// released exactly once and the connection's metadata entries are dropped.
// Active calls are left running; only explicit events and the auto-miss
// timer drive terminal transitions.
func (g *Gateway) disconnect(conn presence.Conn) {
	g.reg.Release(conn)
	g.meta.ReleaseConn(conn)
}

// Dispatch routes one inbound event. Malformed payloads are answered with a
// single "error" event on the originating connection and never crash the
// loop; business-level staleness (unknown call ids and the like) is handled
// silently downstream.
func (g *Gateway) Dispatch(ctx context.Context, conn presence.Conn, env Envelope) {
	if g.onEvent != nil {
		g.onEvent(env.Event)
	}

	switch env.Event {
	case "presence:announce":
		var p announcePresencePayload
		if !g.decode(conn, env, &p) {
			return
		}
		if p.Identity == "" {
			g.replyError(conn, env.Event, "identity is required")
			return
		}
		g.reg.Announce(p.Identity, conn, p.UserID)
		g.send(conn, "presence:ack", map[string]any{"ok": true})

	case "presence:lookup":
		var p lookupPresencePayload
		if !g.decode(conn, env, &p) {
			return
		}
		_, online := g.reg.Lookup(p.Identity)
		g.send(conn, "presence:result", map[string]any{
			"identity": p.Identity,
			"online":   online,
		})

	case "call:request":
		var p callRequestPayload
		if !g.decode(conn, env, &p) {
			return
		}
		if p.From == "" || p.To == "" {
			g.replyError(conn, env.Event, "from and to are required")
			return
		}
		g.sessions.RequestCall(ctx, p.From, p.To, p.FromDisplay, conn)

	case "call:accept":
		if id, ok := g.callID(conn, env); ok {
			g.sessions.AcceptCall(ctx, id)
		}

	case "call:reject":
		if id, ok := g.callID(conn, env); ok {
			g.sessions.RejectCall(ctx, id)
		}

	case "call:cancel":
		if id, ok := g.callID(conn, env); ok {
			g.sessions.CancelCall(ctx, id)
		}

	case "call:end":
		if id, ok := g.callID(conn, env); ok {
			g.sessions.EndCall(ctx, id)
		}

	case "metadata:announce":
		var p metadataAnnouncePayload
		if !g.decode(conn, env, &p) {
			return
		}
		if p.CallID == "" || p.SubjectID == "" {
			g.replyError(conn, env.Event, "callId and subjectId are required")
			return
		}
		g.meta.Announce(p.CallID, p.SubjectID, p.DisplayName, conn)

	case "metadata:query":
		var p metadataQueryPayload
		if !g.decode(conn, env, &p) {
			return
		}
		g.meta.Query(p.CallID, p.SubjectID, conn)

	default:
		g.replyError(conn, env.Event, "unknown event")
	}
}

func (g *Gateway) callID(conn presence.Conn, env Envelope) (string, bool) {
	var p callRefPayload
	if !g.decode(conn, env, &p) {
		return "", false
	}
	if p.CallID == "" {
		g.replyError(conn, env.Event, "callId is required")
		return "", false
	}
	return p.CallID, true
}

func (g *Gateway) decode(conn presence.Conn, env Envelope, out any) bool {
	if len(env.Data) == 0 {
		g.replyError(conn, env.Event, "missing payload")
		return false
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		g.replyError(conn, env.Event, "malformed payload")
		return false
	}
	return true
}

func (g *Gateway) replyError(conn presence.Conn, event, msg string) {
	g.send(conn, "error", map[string]any{"event": event, "message": msg})
}

func (g *Gateway) send(conn presence.Conn, event string, payload any) {
	if err := conn.Send(event, payload); err != nil {
		g.log.Debug("push failed", "event", event, "conn", conn.ID(), "err", err)
	}
}
