package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/liutong011025-cloud/CwritevV7/internal/app"
	"github.com/liutong011025-cloud/CwritevV7/internal/observe"
)

// writeTimeout bounds a single event write to a client.
const writeTimeout = 5 * time.Second

// events upgrades to a WebSocket and streams the session's events, starting
// with a snapshot of its current state. Messages from the client are
// ignored. The stream ends when the session is deleted.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, unsubscribe, err := h.sessions.Subscribe(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Debug("websocket accept failed", "session", id, "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	log := observe.Logger(ctx).With("session", id)

	v, err := h.sessions.Get(id)
	if err != nil {
		conn.Close(websocket.StatusGoingAway, "session closed")
		return
	}
	if err := write(ctx, conn, app.Event{Type: app.EventSnapshot, View: &v, At: time.Now().UTC()}); err != nil {
		log.Debug("event write failed", "err", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
			if err := write(ctx, conn, ev); err != nil {
				log.Debug("event write failed", "err", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, ev app.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
