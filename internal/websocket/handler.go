package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/smartnotes/internal/auth"
)

// HandleWebSocket upgrades an authenticated request and subscribes the
// connection to its owner's notifications. The session gate has already
// rejected anonymous requests; the identity check here covers direct use.
func HandleWebSocket(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := auth.UserID(r.Context())
		if ownerID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, nil)
		if err != nil {
			logger.Warn("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		NewClient(hub, conn, ownerID).Run(r.Context())
		conn.Close(ws.StatusNormalClosure, "")
	}
}
