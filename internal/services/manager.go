package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"droneaid/internal/config"
	"droneaid/internal/logger"
	"droneaid/internal/model"
	"droneaid/internal/repository"
	"droneaid/internal/services/annotation"
	"droneaid/internal/services/capture"
	"droneaid/internal/services/exif"
	"droneaid/internal/services/inference"
	"droneaid/internal/services/kafkasink"
	"droneaid/internal/services/overlay"
	"droneaid/internal/services/viewer"
	"droneaid/internal/services/websocket"

	"github.com/benbjohnson/clock"
)

// ErrNoSnapshot is returned when no frame has been shown yet.
var ErrNoSnapshot = errors.New("no frame to snapshot")

// Deps are the components the manager coordinates.
type Deps struct {
	Dispatcher  *inference.Dispatcher
	Annotations *annotation.Manager
	Feed        *viewer.Feed
	Hub         *websocket.HubService
	Painter     *overlay.Painter
	History     repository.DetectionRepository
	Source      capture.FrameSource
	Gate        *capture.MotionGate
	Kafka       *kafkasink.Sink
	Clock       clock.Clock
}

// Status is the dashboard state reported by /api/status.
type Status struct {
	Running         bool               `json:"running"`
	Annotating      bool               `json:"annotating"`
	Processing      bool               `json:"processing"`
	Ready           bool               `json:"model_loaded"`
	Threshold       float64            `json:"threshold"`
	Current         *inference.Request `json:"current,omitempty"`
	Dispatcher      inference.Stats    `json:"dispatcher"`
	Capture         capture.Stats      `json:"capture"`
	Annotations     annotation.Stats   `json:"annotations"`
	Viewers         int                `json:"viewers"`
	DroppedMessages uint64             `json:"dropped_messages"`
	PendingEvents   int                `json:"pending_events"`
	Kafka           *kafkasink.Metrics `json:"kafka,omitempty"`
}

// UploadResult describes one processed upload.
type UploadResult struct {
	Name          string            `json:"name"`
	Location      *model.Location   `json:"location,omitempty"`
	GPS           bool              `json:"gps"`
	PositionLabel string            `json:"position_label"`
	Detections    []model.Detection `json:"detections"`
	Created       int               `json:"created"`
}

// Manager ties the live feed, uploads, overlay, markers and the session log
// together. It is the capture loop's detection sink.
type Manager struct {
	dispatcher  *inference.Dispatcher
	annotations *annotation.Manager
	feed        *viewer.Feed
	hub         *websocket.HubService
	painter     *overlay.Painter
	history     repository.DetectionRepository
	kafka       *kafkasink.Sink
	loop        *capture.Loop
	clock       clock.Clock
	logger      *logger.Logger

	historyLimit int
}

func NewManager(cfg *config.Config, deps Deps, logger *logger.Logger) *Manager {
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	m := &Manager{
		dispatcher:   deps.Dispatcher,
		annotations:  deps.Annotations,
		feed:         deps.Feed,
		hub:          deps.Hub,
		painter:      deps.Painter,
		history:      deps.History,
		kafka:        deps.Kafka,
		clock:        clk,
		logger:       logger,
		historyLimit: cfg.HistoryLimit,
	}
	opts := capture.Options{
		FrameInterval:        cfg.FrameInterval,
		MinInferenceInterval: cfg.MinInferenceInterval,
	}
	if deps.Gate != nil {
		opts.Gate = deps.Gate
	}
	m.loop = capture.NewLoop(deps.Source, deps.Feed, deps.Dispatcher, m, opts, clk, logger)

	logger.Info("Manager ready - threshold %.2f, inference every %v at most", deps.Dispatcher.Threshold(), cfg.MinInferenceInterval)
	return m
}

// Process records a live detection batch and hands it to the annotation manager.
func (m *Manager) Process(batch []model.Detection) int {
	frame := model.Frame{Source: model.SourceLive}
	m.record(frame, batch)
	m.feed.ShowDetections(frame, batch)
	return m.annotations.Process(batch)
}

func (m *Manager) record(frame model.Frame, batch []model.Detection) {
	if m.history == nil || len(batch) == 0 {
		return
	}
	records := make([]model.DetectionRecord, 0, len(batch))
	for _, d := range batch {
		records = append(records, model.NewDetectionRecord(d, frame.Source))
	}
	if err := m.history.InsertBatch(records); err != nil {
		m.logger.Error("Failed to record detections: %v", err)
	}
}

// StartFeed probes the detection service and starts the capture loop. The
// loop outlives ctx and runs until StopFeed or Stop.
func (m *Manager) StartFeed(ctx context.Context) error {
	if !m.dispatcher.CheckHealth(ctx) {
		m.logger.Warning("Starting feed while detection service is not ready")
	}
	if err := m.loop.Start(context.WithoutCancel(ctx)); err != nil {
		if errors.Is(err, capture.ErrCameraUnavailable) {
			m.logger.Error("Camera unavailable: %v", err)
		}
		return err
	}
	return nil
}

func (m *Manager) StopFeed() {
	m.loop.Stop()
}

func (m *Manager) SetAnnotate(enabled bool) {
	m.loop.SetAnnotate(enabled)
	m.logger.Info("Live annotation enabled: %v", enabled)
}

func (m *Manager) SetThreshold(t float64) float64 {
	return m.dispatcher.SetThreshold(t)
}

// CheckHealth re-probes the detection service.
func (m *Manager) CheckHealth(ctx context.Context) bool {
	return m.dispatcher.CheckHealth(ctx)
}

// MonitorHealth probes the detection service every interval until ctx ends.
func (m *Manager) MonitorHealth(ctx context.Context, interval time.Duration) error {
	m.dispatcher.CheckHealth(ctx)

	ticker := m.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.dispatcher.CheckHealth(ctx)
		}
	}
}

// Detect runs a one-off detection. A nil threshold uses the live one.
func (m *Manager) Detect(ctx context.Context, data []byte, name string, threshold *float64) ([]model.Detection, error) {
	frame := model.Frame{Data: data, Source: model.SourceUploaded, Name: name, CapturedAt: m.clock.Now()}
	if threshold != nil {
		return m.dispatcher.SubmitWithThreshold(ctx, frame, *threshold)
	}
	return m.dispatcher.SubmitWait(ctx, frame)
}

// ProcessUpload runs an uploaded photo through detection and onto the map.
// Photos without GPS get simulated marker positions.
func (m *Manager) ProcessUpload(ctx context.Context, name string, data []byte) (*UploadResult, error) {
	md := exif.Read(data)
	frame := model.Frame{
		Data:       data,
		Source:     model.SourceUploaded,
		Name:       name,
		CapturedAt: md.TakenAt,
		Location:   md.Location,
	}
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = m.clock.Now()
	}
	if md.HasGPS() {
		m.logger.Info("Upload %s has GPS %.5f, %.5f", name, md.Location.Lat, md.Location.Lon)
	} else {
		m.logger.Warning("Upload %s has no GPS metadata", name)
	}

	dets, err := m.dispatcher.SubmitWait(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("waiting for detection slot: %w", err)
	}

	m.feed.ShowFrame(frame)
	m.feed.ShowOverlay(overlay.Render(dets))
	m.feed.ShowDetections(frame, dets)
	m.record(frame, dets)
	created := m.annotations.Process(dets)

	result := &UploadResult{
		Name:       name,
		Location:   md.Location,
		GPS:        md.HasGPS(),
		Detections: dets,
		Created:    created,
	}
	if md.HasGPS() {
		result.PositionLabel = annotation.Position{Kind: annotation.Positioned, Lat: md.Location.Lat, Lon: md.Location.Lon}.Label()
	} else {
		result.PositionLabel = annotation.Position{Kind: annotation.Simulated}.Label()
	}
	return result, nil
}

func (m *Manager) Status() Status {
	s := Status{
		Running:     m.loop.Running(),
		Annotating:  m.loop.Annotating(),
		Processing:  m.dispatcher.Processing(),
		Ready:       m.dispatcher.Ready(),
		Threshold:   m.dispatcher.Threshold(),
		Dispatcher:  m.dispatcher.Stats(),
		Capture:     m.loop.Stats(),
		Annotations: m.annotations.Stats(),
	}
	if cur, ok := m.dispatcher.Current(); ok {
		s.Current = &cur
	}
	if m.hub != nil {
		s.Viewers = m.hub.GetClientCount()
		s.DroppedMessages = m.hub.Dropped()
		s.PendingEvents = m.hub.Pending()
	}
	if m.kafka != nil {
		km := m.kafka.Metrics()
		s.Kafka = &km
	}
	return s
}

func (m *Manager) Annotations() []annotation.Annotation {
	return m.annotations.Active()
}

// Annotation returns the live marker for an event key.
func (m *Manager) Annotation(key string) (annotation.Annotation, bool) {
	return m.annotations.Get(key)
}

// Snapshot returns the last frame with the current overlay painted on it.
func (m *Manager) Snapshot() ([]byte, error) {
	frame, layer, ok := m.feed.Snapshot()
	if !ok {
		return nil, ErrNoSnapshot
	}
	if layer.Empty() {
		return frame.Data, nil
	}
	return m.painter.Annotate(frame.Data, layer)
}

func (m *Manager) History() (*model.DetectionStats, error) {
	if m.history == nil {
		return &model.DetectionStats{ClassCounts: map[string]int{}, Recent: []model.DetectionRecord{}}, nil
	}
	return m.history.Stats(m.historyLimit)
}

// ClearHistory drops every recorded detection. Live markers are untouched.
func (m *Manager) ClearHistory() error {
	if m.history == nil {
		return nil
	}
	if err := m.history.DeleteAll(); err != nil {
		return err
	}
	m.logger.Info("Detection history cleared")
	return nil
}

// Stop halts the live feed and removes every marker.
func (m *Manager) Stop() {
	m.loop.Stop()
	m.annotations.Close()
	m.logger.Info("Manager stopped")
}
