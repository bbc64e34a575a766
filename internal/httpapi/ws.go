package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"loyaltydesk.org/internal/auth"
	"loyaltydesk.org/internal/stream"
)

const (
	// Time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	wsPongWait = 60 * time.Second
	// Must be less than wsPongWait.
	wsPingPeriod = (wsPongWait * 9) / 10
	// Clients only send control frames.
	wsMaxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || isLocalOrigin(origin) {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	},
}

// StreamWS serves the caller's change notifications over a WebSocket.
func (a *API) StreamWS(w http.ResponseWriter, r *http.Request) {
	if a.Hub == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// The request context is not cancelled when a hijacked connection drops,
	// so the read pump owns cancellation.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go readPump(conn, cancel)

	ch := a.Hub.Subscribe(ctx, stream.Filter{PrincipalID: p.ID})
	log := a.Log.WithField("principal_id", p.ID)
	log.Debug("websocket subscriber connected")

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				log.WithError(err).Debug("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readPump(conn *websocket.Conn, done context.CancelFunc) {
	defer done()
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
