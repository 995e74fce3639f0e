package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/dmitrijs2005/mediarelay/internal/logging"
	"github.com/dmitrijs2005/mediarelay/internal/server/auth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	readLimit    = 512 * 1024
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
)

// Gateway upgrades authenticated HTTP requests to websocket connections
// registered on the hub.
type Gateway struct {
	hub      *Hub
	router   *Router
	verifier auth.Verifier
	log      logging.Logger
	upgrader websocket.Upgrader
}

func NewGateway(hub *Hub, router *Router, verifier auth.Verifier, log logging.Logger) *Gateway {
	return &Gateway{
		hub:      hub,
		router:   router,
		verifier: verifier,
		log:      log.With("module", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RequestToken returns the access token of a websocket handshake: the
// token or access_token query parameter, else a Bearer Authorization header.
func RequestToken(r *http.Request) string {
	q := r.URL.Query()
	if t := q.Get("token"); t != "" {
		return t
	}
	if t := q.Get(common.AccessTokenHeaderName); t != "" {
		return t
	}
	t, err := auth.BearerToken(r.Header.Get(common.AuthorizationHeaderName))
	if err != nil {
		return ""
	}
	return t
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := RequestToken(r)
	if token == "" {
		http.Error(w, "missing access token", http.StatusUnauthorized)
		return
	}
	userID, err := g.verifier.Verify(token)
	if err != nil {
		g.log.Warn(ctx, "websocket handshake rejected", "error", err)
		http.Error(w, "invalid access token", http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Error(ctx, "failed to upgrade connection", "error", err)
		return
	}

	c := &wsConn{Outbox: NewOutbox(uuid.NewString()), conn: ws}
	g.hub.Register(c)
	g.log.Info(ctx, "client connected", "conn_id", c.ID(), "user_id", userID)

	go g.writePump(ctx, c)
	g.readPump(r, c, Session{ConnID: c.ID(), UserID: userID})
}

func (g *Gateway) readPump(r *http.Request, c *wsConn, sess Session) {
	ctx := r.Context()
	defer func() {
		g.hub.Unregister(c.ID())
		c.close()
		g.log.Info(ctx, "client disconnected", "conn_id", c.ID())
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.log.Warn(ctx, "connection read error", "conn_id", c.ID(), "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var in Inbound
		if err := json.Unmarshal(message, &in); err != nil {
			g.log.Warn(ctx, "failed to parse frame", "conn_id", c.ID(), "error", err)
			continue
		}
		g.router.Dispatch(ctx, sess, in)
	}
}

func (g *Gateway) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Done():
			// closed by the hub or by readPump; either way the socket goes too
			_ = c.conn.Close()
			return
		case message := <-c.Frames():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				g.log.Warn(ctx, "failed to write frame", "conn_id", c.ID(), "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

type wsConn struct {
	*Outbox
	conn *websocket.Conn
}

func (c *wsConn) close() {
	c.Close()
	_ = c.conn.Close()
}
