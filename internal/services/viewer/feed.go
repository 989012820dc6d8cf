// Package viewer publishes the dashboard feed: frames, the overlay layer,
// detections and map marker events, as JSON websocket messages.
package viewer

import (
	"encoding/base64"
	"encoding/json"
	"sync"

	"droneaid/internal/logger"
	"droneaid/internal/model"
	"droneaid/internal/services/annotation"
	"droneaid/internal/services/overlay"
)

// Broadcaster delivers a message to every connected viewer without blocking.
// Broadcast may drop under backpressure; Publish may not.
type Broadcaster interface {
	Broadcast(message []byte)
	Publish(message []byte)
}

type frameMessage struct {
	Type       string            `json:"type"`
	Source     model.FrameSource `json:"source"`
	Name       string            `json:"name"`
	CapturedAt int64             `json:"captured_at"`
	Image      string            `json:"image"`
}

type overlayMessage struct {
	Type  string        `json:"type"`
	Layer overlay.Layer `json:"layer"`
}

type detectionsMessage struct {
	Type       string            `json:"type"`
	Source     model.FrameSource `json:"source"`
	Name       string            `json:"name,omitempty"`
	Detections []model.Detection `json:"detections"`
}

// Feed is both the capture display and the annotation map surface. It keeps
// the last frame and layer for snapshots.
type Feed struct {
	hub    Broadcaster
	logger *logger.Logger

	mu        sync.RWMutex
	lastFrame model.Frame
	layer     overlay.Layer
}

func NewFeed(hub Broadcaster, logger *logger.Logger) *Feed {
	return &Feed{
		hub:    hub,
		logger: logger,
		layer:  overlay.Layer{Clear: true, Boxes: []overlay.Box{}},
	}
}

func (f *Feed) ShowFrame(frame model.Frame) {
	f.mu.Lock()
	f.lastFrame = frame
	f.mu.Unlock()

	f.send(frameMessage{
		Type:       "frame",
		Source:     frame.Source,
		Name:       frame.Name,
		CapturedAt: frame.CapturedAt.UnixMilli(),
		Image:      base64.StdEncoding.EncodeToString(frame.Data),
	})
}

func (f *Feed) ShowOverlay(layer overlay.Layer) {
	if layer.Boxes == nil {
		layer.Boxes = []overlay.Box{}
	}
	f.mu.Lock()
	f.layer = layer
	f.mu.Unlock()

	f.send(overlayMessage{Type: "overlay", Layer: layer})
}

func (f *Feed) ClearOverlay() {
	f.ShowOverlay(overlay.Layer{Clear: true})
}

// ShowDetections publishes a detection batch for the results panel.
func (f *Feed) ShowDetections(frame model.Frame, detections []model.Detection) {
	if detections == nil {
		detections = []model.Detection{}
	}
	f.send(detectionsMessage{Type: "detections", Source: frame.Source, Name: frame.Name, Detections: detections})
}

// Marker events go through Publish so a viewer never keeps a marker whose
// detach was lost.
func (f *Feed) Attach(a annotation.Annotation) {
	f.publish(annotation.NewEvent(annotation.EventAttach, a))
}

func (f *Feed) Fade(a annotation.Annotation) {
	f.publish(annotation.NewEvent(annotation.EventFade, a))
}

func (f *Feed) Detach(a annotation.Annotation) {
	f.publish(annotation.NewEvent(annotation.EventDetach, a))
}

// Snapshot returns the last frame shown and the current overlay.
func (f *Feed) Snapshot() (model.Frame, overlay.Layer, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastFrame, f.layer, f.lastFrame.Data != nil
}

func (f *Feed) send(v any) {
	if msg, ok := f.encode(v); ok {
		f.hub.Broadcast(msg)
	}
}

func (f *Feed) publish(v any) {
	if msg, ok := f.encode(v); ok {
		f.hub.Publish(msg)
	}
}

func (f *Feed) encode(v any) ([]byte, bool) {
	msg, err := json.Marshal(v)
	if err != nil {
		f.logger.Error("Failed to encode viewer message: %v", err)
		return nil, false
	}
	return msg, true
}
