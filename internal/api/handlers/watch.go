package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fightclaw/server/internal/match"
)

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Spectator stream is read-only; origin policy is handled by CORS
		return true
	},
}

type watchFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WatchMatch is the WebSocket spectator stream, gated like spectate. A
// plain GET without the upgrade handshake gets 426.
func WatchMatch(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := matchID(c)
		if !ok {
			return
		}
		if !websocket.IsWebSocketUpgrade(c.Request) {
			respondError(c, http.StatusUpgradeRequired, "upgrade_required", "websocket upgrade required")
			return
		}

		row, err := env.Store.GetMatch(c.Request.Context(), id)
		if err != nil {
			respondError(c, http.StatusServiceUnavailable, "service_unavailable", "store unavailable")
			return
		}
		if !spectateAllowed(env, c, id, row) {
			respondError(c, http.StatusForbidden, "forbidden", "match is not public")
			return
		}

		conn, err := watchUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[WS] upgrade for %s failed: %v", id, err)
			return
		}

		actor := env.Registry.Get(id)
		sub := &match.Subscriber{
			ID: uuid.NewString(),
			Ch: make(chan match.Frame, streamBufferSize),
		}
		if err := actor.Attach(sub, false); err != nil {
			conn.Close()
			return
		}

		go watchReadLoop(conn)
		watchWriteLoop(env, conn, actor, sub)
	}
}

// watchReadLoop drains client frames so close handshakes and pings are
// processed. Spectators have nothing to say; any payload is discarded.
func watchReadLoop(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func watchWriteLoop(env *Env, conn *websocket.Conn, actor *match.Actor, sub *match.Subscriber) {
	defer func() {
		actor.Detach(sub.ID)
		conn.Close()
	}()

	ping := time.NewTicker(keepAliveInterval)
	defer ping.Stop()

	for {
		select {
		case f, open := <-sub.Ch:
			if !open {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(env.Cfg.SSEWriteTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(env.Cfg.SSEWriteTimeout))
			if err := conn.WriteJSON(watchFrame{Event: f.Event, Data: json.RawMessage(f.Data)}); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(env.Cfg.SSEWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
