package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// HandleWebSocket upgrades an authenticated request and runs it as a hub
// client. userID extracts the caller from the request; an empty result is
// rejected before the upgrade.
func HandleWebSocket(hub *Hub, userID func(*http.Request) string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := userID(r)
		if id == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			// Non-browser subscribers send no Origin header.
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept", "error", err)
			return
		}

		NewClient(hub, conn, id).Run(r.Context())
	}
}
