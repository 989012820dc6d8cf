package handlers

import (
	"fmt"
	"net/http"
	"time"

	"droneaid/internal/logger"
	"droneaid/internal/services/telemetry"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

const telemetryWriteWait = 2 * time.Second

type ackResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StreamOnHandler acknowledges a stream request. The mock drone has no video.
func StreamOnHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Info("Demo mode: Stream started (using test images)")
		writeJSON(w, http.StatusOK, ackResponse{Status: "ok", Message: "Demo mode - no physical drone required"}, logger)
	}
}

func StreamOffHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Info("Demo mode: Stream stopped")
		writeJSON(w, http.StatusOK, ackResponse{Status: "ok", Message: "Demo mode stream stopped"}, logger)
	}
}

// BatteryHandler answers with a plain-text battery percentage.
func BatteryHandler(synth *telemetry.Synthesizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, synth.Battery())
	}
}

// TelemetryHandler streams one snapshot per broadcaster tick.
func TelemetryHandler(b *telemetry.Broadcaster, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("Telemetry upgrade error: %v", err)
			return
		}
		defer conn.Close()

		// Writes happen on the outbox goroutine; a failed write closes the
		// socket so the read loop below ends too.
		out := telemetry.NewOutbox(uuid.NewString(), func(text string) error {
			_ = conn.SetWriteDeadline(time.Now().Add(telemetryWriteWait))
			err := conn.WriteMessage(ws.TextMessage, []byte(text))
			if err != nil {
				conn.Close()
			}
			return err
		})
		defer func() {
			out.Close()
			if n := out.Replaced(); n > 0 {
				logger.Debug("Telemetry client %s skipped %d stale snapshot(s)", out.ID(), n)
			}
		}()

		if err := b.Subscribe(out); err != nil {
			logger.Warning("Telemetry client rejected: %v", err)
			return
		}
		defer b.Unsubscribe(out.ID())

		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

// CommandHandler accepts text commands. They are logged and never acted on.
func CommandHandler(b *telemetry.Broadcaster, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("Command upgrade error: %v", err)
			return
		}
		defer conn.Close()

		id := uuid.NewString()
		if err := b.AttachCommander(id); err != nil {
			logger.Warning("Command client rejected: %v", err)
			return
		}
		defer b.DetachCommander(id)

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := b.Command(id, string(msg)); err != nil {
				return
			}
		}
	}
}
