package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"droneaid/internal/logger"
	"droneaid/internal/model"
	"droneaid/internal/services"
	"droneaid/internal/services/annotation"
	"droneaid/internal/services/capture"
)

// maxUploadSize bounds multipart bodies of /api/detect and /api/upload.
const maxUploadSize = 32 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *logger.Logger) {
	writeJSON(w, status, errorResponse{Error: msg}, logger)
}

// HealthHandler re-probes the detection service.
func HealthHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !manager.CheckHealth(r.Context()) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "model_loaded": false}, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "model_loaded": true}, logger)
	}
}

// DetectHandler runs a one-off detection on the uploaded file. It does not
// touch the overlay or the map.
func DetectHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form", logger)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file", logger)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unable to read file", logger)
			return
		}

		var threshold *float64
		if v := r.FormValue("conf_threshold"); v != "" {
			t, err := strconv.ParseFloat(v, 64)
			if err != nil || math.IsNaN(t) {
				writeError(w, http.StatusBadRequest, "invalid conf_threshold", logger)
				return
			}
			threshold = &t
		}

		dets, err := manager.Detect(r.Context(), data, header.Filename, threshold)
		if err != nil {
			logger.Warning("Detect request for %s abandoned: %v", header.Filename, err)
			writeError(w, http.StatusServiceUnavailable, "detection cancelled", logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]model.Detection{"detections": dets}, logger)
	}
}

// UploadHandler processes every "file" part in order.
func UploadHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form", logger)
			return
		}
		files := r.MultipartForm.File["file"]
		if len(files) == 0 {
			writeError(w, http.StatusBadRequest, "no files uploaded", logger)
			return
		}

		results := make([]*services.UploadResult, 0, len(files))
		for _, fh := range files {
			f, err := fh.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "unable to open "+fh.Filename, logger)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "unable to read "+fh.Filename, logger)
				return
			}

			res, err := manager.ProcessUpload(r.Context(), fh.Filename, data)
			if err != nil {
				logger.Warning("Upload of %s abandoned: %v", fh.Filename, err)
				writeError(w, http.StatusServiceUnavailable, "detection cancelled", logger)
				return
			}
			results = append(results, res)
		}
		logger.Info("Processed %d uploaded image(s)", len(results))
		writeJSON(w, http.StatusOK, map[string]any{"results": results}, logger)
	}
}

func FeedStartHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := manager.StartFeed(r.Context())
		switch {
		case errors.Is(err, capture.ErrLoopRunning):
			writeError(w, http.StatusConflict, err.Error(), logger)
		case err != nil:
			writeError(w, http.StatusServiceUnavailable, "Unable to start video feed: "+err.Error(), logger)
		default:
			writeJSON(w, http.StatusOK, map[string]string{"status": "started"}, logger)
		}
	}
}

func FeedStopHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		manager.StopFeed()
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"}, logger)
	}
}

func AnnotateHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "enabled must be true or false", logger)
			return
		}
		manager.SetAnnotate(enabled)
		writeJSON(w, http.StatusOK, map[string]bool{"annotating": enabled}, logger)
	}
}

// ThresholdHandler sets the live confidence threshold; values are clamped to [0, 1].
func ThresholdHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		value, err := strconv.ParseFloat(r.FormValue("value"), 64)
		if err != nil || math.IsNaN(value) {
			writeError(w, http.StatusBadRequest, "invalid threshold value", logger)
			return
		}
		stored := manager.SetThreshold(value)
		logger.Info("Confidence threshold set to %.2f", stored)
		writeJSON(w, http.StatusOK, map[string]float64{"threshold": stored}, logger)
	}
}

func StatusHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, manager.Status(), logger)
	}
}

// annotationView adds the user-facing position label to a marker.
type annotationView struct {
	Key           string          `json:"key"`
	Detection     model.Detection `json:"detection"`
	State         string          `json:"state"`
	PositionKind  string          `json:"position_kind"`
	PositionLabel string          `json:"position_label"`
	Lat           float64         `json:"lat"`
	Lon           float64         `json:"lon"`
}

func newAnnotationView(a annotation.Annotation) annotationView {
	return annotationView{
		Key:           a.Key,
		Detection:     a.Detection,
		State:         a.State.String(),
		PositionKind:  a.Position.Kind.String(),
		PositionLabel: a.Position.Label(),
		Lat:           a.Position.Lat,
		Lon:           a.Position.Lon,
	}
}

func AnnotationsHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active := manager.Annotations()
		out := make([]annotationView, 0, len(active))
		for _, a := range active {
			out = append(out, newAnnotationView(a))
		}
		writeJSON(w, http.StatusOK, map[string]any{"annotations": out}, logger)
	}
}

// AnnotationHandler looks up one live marker by its event key.
func AnnotationHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := manager.Annotation(r.PathValue("key"))
		if !ok {
			writeError(w, http.StatusNotFound, "no such marker", logger)
			return
		}
		writeJSON(w, http.StatusOK, newAnnotationView(a), logger)
	}
}

type symbolView struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

// SymbolsHandler lists the detection vocabulary for the dashboard legend.
func SymbolsHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := model.Symbols()
		out := make([]symbolView, 0, len(names))
		for _, name := range names {
			out = append(out, symbolView{Name: name, Color: model.SymbolColor(name), Icon: model.SymbolIcon(name)})
		}
		writeJSON(w, http.StatusOK, map[string]any{"symbols": out}, logger)
	}
}

// SnapshotHandler serves the last frame with the current overlay painted on it.
func SnapshotHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := manager.Snapshot()
		if errors.Is(err, services.ErrNoSnapshot) {
			writeError(w, http.StatusNotFound, err.Error(), logger)
			return
		}
		if err != nil {
			logger.Error("Snapshot failed: %v", err)
			writeError(w, http.StatusInternalServerError, "unable to render snapshot", logger)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

func HistoryHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := manager.History()
		if err != nil {
			logger.Error("Error reading detection history: %v", err)
			writeError(w, http.StatusInternalServerError, "unable to read history", logger)
			return
		}
		writeJSON(w, http.StatusOK, stats, logger)
	}
}

// ClearHistoryHandler empties the session detection log.
func ClearHistoryHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := manager.ClearHistory(); err != nil {
			logger.Error("Error clearing detection history: %v", err)
			writeError(w, http.StatusInternalServerError, "unable to clear history", logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
