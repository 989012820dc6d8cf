package model

import "time"

// DetectionRecord is a row of the in-memory session detection log.
type DetectionRecord struct {
	ID         int64     `json:"id"`
	EventID    string    `json:"event_id"`
	ClassName  string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Width      float64   `json:"width"`
	Height     float64   `json:"height"`
	Source     string    `json:"source"`
	Lat        *float64  `json:"lat,omitempty"`
	Lon        *float64  `json:"lon,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

// NewDetectionRecord flattens a detection for storage.
func NewDetectionRecord(d Detection, source FrameSource) DetectionRecord {
	rec := DetectionRecord{
		EventID:    d.Key(),
		ClassName:  d.ClassName,
		Confidence: d.Confidence,
		X:          d.BBox.X,
		Y:          d.BBox.Y,
		Width:      d.BBox.Width,
		Height:     d.BBox.Height,
		Source:     string(source),
		DetectedAt: d.Timestamp,
	}
	if d.Location != nil {
		lat, lon := d.Location.Lat, d.Location.Lon
		rec.Lat, rec.Lon = &lat, &lon
	}
	return rec
}

// DetectionStats summarizes the session log.
type DetectionStats struct {
	Total       int               `json:"total"`
	ClassCounts map[string]int    `json:"class_counts"`
	Recent      []DetectionRecord `json:"recent"`
}
