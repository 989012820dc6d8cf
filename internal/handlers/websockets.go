package handlers

import (
	"net/http"

	"droneaid/internal/logger"
	"droneaid/internal/services/websocket"

	ws "github.com/gorilla/websocket"
)

var Upgrader = ws.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler registers a dashboard viewer with the hub. Viewers
// only listen; the read loop just notices when they leave.
func ViewWebsocketHandler(hub *websocket.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		connection.SetReadLimit(512)

		if err := hub.Register(connection); err != nil {
			logger.Warning("Viewer rejected: %v", err)
			connection.Close()
			return
		}
		defer hub.Unregister(connection)

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				logger.Debug("Viewer read ended: %v", err)
				return
			}
		}
	}
}
