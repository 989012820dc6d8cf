package routes

import (
	"net/http"
	"os"
	"path/filepath"

	"droneaid/internal/config"
	"droneaid/internal/handlers"
	"droneaid/internal/logger"
	"droneaid/internal/middleware"
	"droneaid/internal/services"
	"droneaid/internal/services/telemetry"
	"droneaid/internal/services/websocket"
)

// pageHandler serves /path as <dir>/path.html if the file exists and falls
// back to the static file server otherwise.
func pageHandler(dir string) http.HandlerFunc {
	files := http.FileServer(http.Dir(dir))
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/" {
			path = "/index"
		}

		page := filepath.Join(dir, filepath.Clean("/"+path)+".html")
		if _, err := os.Stat(page); err == nil {
			http.ServeFile(w, r, page)
			return
		}
		files.ServeHTTP(w, r)
	}
}

// SetupRoutes registers the dashboard API, the viewer websocket, log
// endpoints and static assets, wrapped with CORS and request logging.
func SetupRoutes(manager *services.Manager, hub *websocket.HubService, cfg *config.Config, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("GET /api/health", handlers.HealthHandler(manager, logger))
	mux.HandleFunc("POST /api/detect", handlers.DetectHandler(manager, logger))
	mux.HandleFunc("POST /api/upload", handlers.UploadHandler(manager, logger))
	mux.HandleFunc("POST /api/feed/start", handlers.FeedStartHandler(manager, logger))
	mux.HandleFunc("POST /api/feed/stop", handlers.FeedStopHandler(manager, logger))
	mux.HandleFunc("POST /api/annotate", handlers.AnnotateHandler(manager, logger))
	mux.HandleFunc("POST /api/threshold", handlers.ThresholdHandler(manager, logger))
	mux.HandleFunc("GET /api/status", handlers.StatusHandler(manager, logger))
	mux.HandleFunc("GET /api/annotations", handlers.AnnotationsHandler(manager, logger))
	mux.HandleFunc("GET /api/annotations/{key}", handlers.AnnotationHandler(manager, logger))
	mux.HandleFunc("GET /api/symbols", handlers.SymbolsHandler(logger))
	mux.HandleFunc("GET /api/snapshot", handlers.SnapshotHandler(manager, logger))
	mux.HandleFunc("GET /api/history", handlers.HistoryHandler(manager, logger))
	mux.HandleFunc("DELETE /api/history", handlers.ClearHistoryHandler(manager, logger))
	mux.HandleFunc("GET /api/view", handlers.ViewWebsocketHandler(hub, logger))

	// Log endpoints
	mux.HandleFunc("GET /logs/{level}", handlers.ShowLogsHandler(logger))
	mux.HandleFunc("POST /logs/{level}/clear", handlers.ClearLogsHandler(logger))

	mux.HandleFunc("GET /", pageHandler(cfg.StaticDirectory))

	return middleware.CORS(cfg.AllowedOrigins, middleware.RequestLogger(logger, mux))
}

// SetupDemoRoutes registers the mock drone endpoints.
func SetupDemoRoutes(b *telemetry.Broadcaster, synth *telemetry.Synthesizer, cfg *config.Config, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /streamon", handlers.StreamOnHandler(logger))
	mux.HandleFunc("POST /streamoff", handlers.StreamOffHandler(logger))
	mux.HandleFunc("GET /battery", handlers.BatteryHandler(synth))
	mux.HandleFunc("GET /telemetry", handlers.TelemetryHandler(b, logger))
	mux.HandleFunc("GET /command", handlers.CommandHandler(b, logger))

	mux.Handle("GET /", http.FileServer(http.Dir(cfg.DemoPublicDir)))

	return middleware.CORS(cfg.AllowedOrigins, middleware.RequestLogger(logger, mux))
}
