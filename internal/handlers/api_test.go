package handlers

import (
	"bytes"
	"encoding/json"
	"image"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"droneaid/internal/config"
	"droneaid/internal/logger"
	"droneaid/internal/repository/sqlite"
	"droneaid/internal/services"
	"droneaid/internal/services/annotation"
	"droneaid/internal/services/capture"
	"droneaid/internal/services/inference"
	"droneaid/internal/services/overlay"
	"droneaid/internal/services/viewer"
	"droneaid/internal/services/websocket"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	manager *services.Manager
	hub     *websocket.HubService
	healthy bool
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 160, 120)), nil))
	return buf.Bytes()
}

func newFixture(t *testing.T, healthy bool, sampleDir string) *fixture {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			if !healthy {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		case "/detect":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"detections": []map[string]any{
					{"class_name": "sos", "confidence": 0.9, "bbox": []float64{10, 20, 30, 40}},
					{"class_name": "ok", "confidence": 0.45, "bbox": []float64{1, 2, 3, 4}},
				},
			})
		}
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	log := logger.Nop()
	clk := clock.NewMock()

	client := inference.NewClient(srv.Client(), srv.URL, cfg.DetectionHealthPath, cfg.DetectionDetectPath)
	dispatcher := inference.NewDispatcher(client, cfg.ConfidenceThreshold, clk, log)
	hub := websocket.NewHubService(log)
	feed := viewer.NewFeed(hub, log)
	annotations := annotation.NewManager(annotation.Config{
		DisplayDuration: cfg.DisplayDuration,
		FadeDuration:    cfg.FadeDuration,
		CenterLat:       cfg.MapCenterLat,
		CenterLon:       cfg.MapCenterLon,
		SpanLat:         cfg.MapSpanLat,
		SpanLon:         cfg.MapSpanLon,
	}, feed, clk, log)
	painter, err := overlay.NewPainter(cfg.JPEGQuality)
	require.NoError(t, err)
	db, err := sqlite.New(sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m := services.NewManager(cfg, services.Deps{
		Dispatcher:  dispatcher,
		Annotations: annotations,
		Feed:        feed,
		Hub:         hub,
		Painter:     painter,
		History:     sqlite.NewDetectionRepository(db),
		Source:      capture.NewDirectorySource(sampleDir, clk),
		Clock:       clk,
	}, log)
	t.Cleanup(m.Stop)
	return &fixture{manager: m, hub: hub, healthy: healthy}
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range files {
		part, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestHealthHandler(t *testing.T) {
	for _, healthy := range []bool{true, false} {
		f := newFixture(t, healthy, t.TempDir())
		rr := httptest.NewRecorder()
		HealthHandler(f.manager, logger.Nop())(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

		body := decode(t, rr)
		if healthy {
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, "healthy", body["status"])
			assert.Equal(t, true, body["model_loaded"])
		} else {
			assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
			assert.Equal(t, false, body["model_loaded"])
		}
	}
}

func TestDetectHandler(t *testing.T) {
	f := newFixture(t, true, t.TempDir())
	h := DetectHandler(f.manager, logger.Nop())

	tests := []struct {
		name   string
		fields map[string]string
		files  map[string][]byte
		status int
		count  int
	}{
		{name: "live threshold", files: map[string][]byte{"a.jpg": jpegBytes(t)}, status: http.StatusOK, count: 1},
		{name: "override threshold", fields: map[string]string{"conf_threshold": "0.4"}, files: map[string][]byte{"a.jpg": jpegBytes(t)}, status: http.StatusOK, count: 2},
		{name: "bad threshold", fields: map[string]string{"conf_threshold": "high"}, files: map[string][]byte{"a.jpg": jpegBytes(t)}, status: http.StatusBadRequest},
		{name: "NaN threshold", fields: map[string]string{"conf_threshold": "NaN"}, files: map[string][]byte{"a.jpg": jpegBytes(t)}, status: http.StatusBadRequest},
		{name: "missing file", fields: map[string]string{"conf_threshold": "0.4"}, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.fields, tt.files)
			req := httptest.NewRequest(http.MethodPost, "/api/detect", body)
			req.Header.Set("Content-Type", ct)
			rr := httptest.NewRecorder()
			h(rr, req)

			require.Equal(t, tt.status, rr.Code)
			if tt.status == http.StatusOK {
				assert.Len(t, decode(t, rr)["detections"], tt.count)
			}
		})
	}
	assert.Empty(t, f.manager.Annotations())
}

func TestUploadHandler(t *testing.T) {
	f := newFixture(t, true, t.TempDir())
	h := UploadHandler(f.manager, logger.Nop())

	body, ct := multipartBody(t, nil, map[string][]byte{"one.jpg": jpegBytes(t), "two.jpg": jpegBytes(t)})
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	h(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	results := decode(t, rr)["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, false, first["gps"])
	assert.Equal(t, "Simulated location", first["position_label"])
	assert.Len(t, first["detections"], 1)

	assert.Len(t, f.manager.Annotations(), 2)

	rr = httptest.NewRecorder()
	AnnotationsHandler(f.manager, logger.Nop())(rr, httptest.NewRequest(http.MethodGet, "/api/annotations", nil))
	list := decode(t, rr)["annotations"].([]any)
	require.Len(t, list, 2)
	a := list[0].(map[string]any)
	assert.Equal(t, "visible", a["state"])
	assert.Equal(t, "simulated", a["position_kind"])
	assert.Equal(t, "Simulated location", a["position_label"])
}

func TestUploadHandler_NoFiles(t *testing.T) {
	f := newFixture(t, true, t.TempDir())
	body, ct := multipartBody(t, map[string]string{"note": "x"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	UploadHandler(f.manager, logger.Nop())(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFeedHandlers(t *testing.T) {
	f := newFixture(t, true, t.TempDir())
	start := FeedStartHandler(f.manager, logger.Nop())
	rr := httptest.NewRecorder()
	start(rr, httptest.NewRequest(http.MethodPost, "/api/feed/start", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code, "empty sample directory")
	assert.False(t, f.manager.Status().Running)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame.jpg"), jpegBytes(t), 0644))
	f = newFixture(t, true, dir)
	start = FeedStartHandler(f.manager, logger.Nop())

	rr = httptest.NewRecorder()
	start(rr, httptest.NewRequest(http.MethodPost, "/api/feed/start", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, f.manager.Status().Running)

	rr = httptest.NewRecorder()
	start(rr, httptest.NewRequest(http.MethodPost, "/api/feed/start", nil))
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = httptest.NewRecorder()
	FeedStopHandler(f.manager, logger.Nop())(rr, httptest.NewRequest(http.MethodPost, "/api/feed/stop", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, f.manager.Status().Running)
}

func TestControlHandlers(t *testing.T) {
	f := newFixture(t, true, t.TempDir())

	rr := httptest.NewRecorder()
	AnnotateHandler(f.manager, logger.Nop())(rr, httptest.NewRequest(http.MethodPost, "/api/annotate?enabled=false", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, f.manager.Status().Annotating)

	rr = httptest.NewRecorder()
	AnnotateHandler(f.manager, logger.Nop())(rr, httptest.NewRequest(http.MethodPost, "/api/annotate?enabled=maybe", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	form := bytes.NewBufferString("value=1.7")
	req := httptest.NewRequest(http.MethodPost, "/api/threshold", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = httptest.NewRecorder()
	ThresholdHandler(f.manager, logger.Nop())(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1.0, decode(t, rr)["threshold"])

	for _, value := range []string{"abc", "NaN", "nan"} {
		req = httptest.NewRequest(http.MethodPost, "/api/threshold", bytes.NewBufferString("value="+value))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr = httptest.NewRecorder()
		ThresholdHandler(f.manager, logger.Nop())(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code, value)
	}
	assert.Equal(t, 1.0, f.manager.Status().Threshold)

	rr = httptest.NewRecorder()
	StatusHandler(f.manager, logger.Nop())(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	status := decode(t, rr)
	assert.Equal(t, false, status["running"])
	assert.Equal(t, false, status["annotating"])
	assert.Equal(t, 1.0, status["threshold"])
	assert.Contains(t, status, "dispatcher")
	assert.EqualValues(t, 0, status["pending_events"])
}

func TestSnapshotAndHistoryHandlers(t *testing.T) {
	f := newFixture(t, true, t.TempDir())

	rr := httptest.NewRecorder()
	SnapshotHandler(f.manager, logger.Nop())(rr, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	body, ct := multipartBody(t, nil, map[string][]byte{"one.jpg": jpegBytes(t)})
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	UploadHandler(f.manager, logger.Nop())(httptest.NewRecorder(), req)

	rr = httptest.NewRecorder()
	SnapshotHandler(f.manager, logger.Nop())(rr, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/jpeg", rr.Header().Get("Content-Type"))
	_, err := jpeg.Decode(rr.Body)
	require.NoError(t, err)

	rr = httptest.NewRecorder()
	HistoryHandler(f.manager, logger.Nop())(rr, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	hist := decode(t, rr)
	assert.EqualValues(t, 1, hist["total"])
	assert.Equal(t, map[string]any{"sos": float64(1)}, hist["class_counts"])

	rr = httptest.NewRecorder()
	ClearHistoryHandler(f.manager, logger.Nop())(rr, httptest.NewRequest(http.MethodDelete, "/api/history", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	HistoryHandler(f.manager, logger.Nop())(rr, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	hist = decode(t, rr)
	assert.EqualValues(t, 0, hist["total"])
	assert.Len(t, f.manager.Annotations(), 1, "clearing the log keeps live markers")
}

func TestAnnotationHandler(t *testing.T) {
	f := newFixture(t, true, t.TempDir())

	body, ct := multipartBody(t, nil, map[string][]byte{"one.jpg": jpegBytes(t)})
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	UploadHandler(f.manager, logger.Nop())(httptest.NewRecorder(), req)

	active := f.manager.Annotations()
	require.Len(t, active, 1)

	req = httptest.NewRequest(http.MethodGet, "/api/annotations/"+active[0].Key, nil)
	req.SetPathValue("key", active[0].Key)
	rr := httptest.NewRecorder()
	AnnotationHandler(f.manager, logger.Nop())(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	view := decode(t, rr)
	assert.Equal(t, active[0].Key, view["key"])
	assert.Equal(t, "visible", view["state"])

	req = httptest.NewRequest(http.MethodGet, "/api/annotations/gone", nil)
	req.SetPathValue("key", "gone")
	rr = httptest.NewRecorder()
	AnnotationHandler(f.manager, logger.Nop())(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSymbolsHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	SymbolsHandler(logger.Nop())(rr, httptest.NewRequest(http.MethodGet, "/api/symbols", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	symbols := decode(t, rr)["symbols"].([]any)
	require.Len(t, symbols, 8)
	first := symbols[0].(map[string]any)
	assert.Equal(t, "children", first["name"])
	assert.Equal(t, "#cf8ffd", first["color"])
	assert.Equal(t, "/assets/markers/marker-children.png", first["icon"])
}
