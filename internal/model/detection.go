package model

import (
	"encoding/json"
	"fmt"
	"image"
	"math"
	"time"
)

// BBox is a bounding box in source-image pixel space. On the wire it is
// encoded as [x, y, width, height].
type BBox struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

func (b BBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.X, b.Y, b.Width, b.Height})
}

func (b *BBox) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("bbox: %w", err)
	}
	if len(raw) != 4 {
		return fmt.Errorf("bbox: expected 4 values, got %d", len(raw))
	}
	b.X, b.Y, b.Width, b.Height = raw[0], raw[1], raw[2], raw[3]
	return nil
}

// Rect returns the box as an integer rectangle.
func (b BBox) Rect() image.Rectangle {
	x, y := int(math.Round(b.X)), int(math.Round(b.Y))
	return image.Rect(x, y, x+int(math.Round(b.Width)), y+int(math.Round(b.Height)))
}

// Location is a geographic point. On the wire it is [longitude, latitude].
type Location struct {
	Lon float64
	Lat float64
}

func (l Location) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{l.Lon, l.Lat})
}

func (l *Location) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("location: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("location: expected [lon, lat], got %d values", len(raw))
	}
	l.Lon, l.Lat = raw[0], raw[1]
	return nil
}

// Detection is one recognized symbol returned by the detection service.
// Values are never mutated after normalization; use the With* helpers to
// derive a copy.
type Detection struct {
	EventID    string
	ClassName  string
	Confidence float64
	BBox       BBox
	Timestamp  time.Time
	Location   *Location
}

type wireDetection struct {
	EventID    string    `json:"event_id,omitempty"`
	ClassName  string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	BBox       BBox      `json:"bbox"`
	Timestamp  *int64    `json:"timestamp,omitempty"`
	Location   *Location `json:"location,omitempty"`
}

func (d Detection) MarshalJSON() ([]byte, error) {
	w := wireDetection{
		EventID:    d.EventID,
		ClassName:  d.ClassName,
		Confidence: d.Confidence,
		BBox:       d.BBox,
		Location:   d.Location,
	}
	if !d.Timestamp.IsZero() {
		ms := d.Timestamp.UnixMilli()
		w.Timestamp = &ms
	}
	return json.Marshal(w)
}

func (d *Detection) UnmarshalJSON(data []byte) error {
	var w wireDetection
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*d = Detection{
		EventID:    w.EventID,
		ClassName:  w.ClassName,
		Confidence: w.Confidence,
		BBox:       w.BBox,
		Location:   w.Location,
	}
	if w.Timestamp != nil {
		d.Timestamp = time.UnixMilli(*w.Timestamp)
	}
	return nil
}

// Key is the dedup identifier of the detection event. It is the event ID when
// one was assigned, otherwise the class name combined with the capture instant.
func (d Detection) Key() string {
	if d.EventID != "" {
		return d.EventID
	}
	return fmt.Sprintf("%s-%d", d.ClassName, d.Timestamp.UnixNano())
}

// Label renders "class NN%" with the confidence rounded to the nearest integer.
func (d Detection) Label() string {
	return fmt.Sprintf("%s %d%%", d.ClassName, int(math.Round(d.Confidence*100)))
}

func (d Detection) WithEventID(id string) Detection {
	d.EventID = id
	return d
}

func (d Detection) WithTimestamp(t time.Time) Detection {
	d.Timestamp = t
	return d
}

func (d Detection) WithLocation(loc *Location) Detection {
	if loc != nil {
		copied := *loc
		d.Location = &copied
	}
	return d
}

// FilterByConfidence keeps the detections whose confidence is at least threshold.
func FilterByConfidence(detections []Detection, threshold float64) []Detection {
	filtered := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if d.Confidence >= threshold {
			filtered = append(filtered, d)
		}
	}
	return filtered
}
