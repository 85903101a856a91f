package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same-origin policy is delegated to the CORS layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// serveDownloadEventsWS mirrors the SSE downloads feed over a WebSocket:
// one JSON DownloadEvent per message, pings while idle.
func serveDownloadEventsWS(w http.ResponseWriter, r *http.Request, svc Service) {
	// Subscribe before the upgrade so no event published right after the
	// handshake is missed.
	sub := svc.SubscribeDownloads(r.URL.Query().Get("model"))
	defer svc.UnsubscribeDownloads(sub)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer conn.Close()

	// Reader goroutine: we never expect client frames, but reading is what
	// detects the close handshake.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(sseKeepAlive)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-serverBaseCtx.Done():
			return
		}
	}
}
