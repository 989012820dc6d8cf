package handlers

import (
	"net/http"
	"os"

	"droneaid/internal/logger"
)

// ShowLogsHandler serves the log file named by the {level} path value.
func ShowLogsHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		level := r.PathValue("level")
		path, ok := logger.FilePath(level)
		if !ok {
			http.Error(w, "Unknown log level: "+level, http.StatusNotFound)
			return
		}
		serveLogFile(w, r, path)
	}
}

func serveLogFile(w http.ResponseWriter, r *http.Request, path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		http.Error(w, "Log file not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, path)
}

func ClearLogsHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		level := r.PathValue("level")
		if _, ok := logger.FilePath(level); !ok {
			http.Error(w, "Unknown log level: "+level, http.StatusNotFound)
			return
		}
		if err := logger.CleanLogs(level); err != nil {
			writeError(w, http.StatusInternalServerError, "unable to clear log", logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"}, logger)
	}
}
