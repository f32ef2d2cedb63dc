package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	watchWriteTimeout = 10 * time.Second
	watchPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Same-origin checks are left to CORS.
	CheckOrigin: func(*http.Request) bool { return true },
}

// watch pushes a status frame on every change and closes after the
// terminal frame. A record evicted mid-watch ends the stream with a
// going-away close.
func (h *Handler) watch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.queries.Status(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err, "request_id", id)
		return
	}
	defer conn.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client never sends data; reading keeps control frames flowing
	// and notices when it goes away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(watchPingInterval)
	defer ping.Stop()

	for {
		snap, changed, err := h.queries.Watch(ctx, id)
		if err != nil {
			closeWith(conn, websocket.CloseGoingAway, "request no longer available")
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
		if err := conn.WriteJSON(snap); err != nil {
			h.logger.DebugContext(ctx, "websocket write failed", "error", err, "request_id", id)
			return
		}
		if snap.State.Terminal() {
			closeWith(conn, websocket.CloseNormalClosure, string(snap.State))
			return
		}

	wait:
		for {
			select {
			case <-ctx.Done():
				return
			case <-changed:
				break wait
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(watchWriteTimeout)); err != nil {
					return
				}
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(watchWriteTimeout))
}
