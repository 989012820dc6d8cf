// Package annotation tracks map markers from the moment a detection is seen
// until its marker has faded off the map.
package annotation

import (
	"fmt"
	"time"

	"droneaid/internal/model"
)

// State is the lifecycle stage of a marker.
type State int

const (
	Created State = iota
	Visible
	Fading
	Removed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Visible:
		return "visible"
	case Fading:
		return "fading"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{Created, Visible, Fading, Removed} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown annotation state %q", text)
}

// PositionKind tells whether a marker position came from GPS or was made up.
type PositionKind int

const (
	Positioned PositionKind = iota
	Simulated
)

func (k PositionKind) String() string {
	if k == Positioned {
		return "positioned"
	}
	return "simulated"
}

func (k PositionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PositionKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "positioned":
		*k = Positioned
	case "simulated":
		*k = Simulated
	default:
		return fmt.Errorf("unknown position kind %q", text)
	}
	return nil
}

// Position is where a marker is drawn.
type Position struct {
	Kind PositionKind `json:"kind"`
	Lat  float64      `json:"lat"`
	Lon  float64      `json:"lon"`
}

// Label is the user-facing description of the position.
func (p Position) Label() string {
	if p.Kind == Simulated {
		return "Simulated location"
	}
	return fmt.Sprintf("GPS %.5f, %.5f", p.Lat, p.Lon)
}

// Annotation is a snapshot of one marker.
type Annotation struct {
	Key       string          `json:"key"`
	Detection model.Detection `json:"detection"`
	Position  Position        `json:"position"`
	State     State           `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MapSink is the map surface markers are drawn on. Calls are made while the
// manager holds its lock and must not call back into the manager.
type MapSink interface {
	Attach(a Annotation)
	Fade(a Annotation)
	Detach(a Annotation)
}

// MultiSink fans every call out to each sink in order.
type MultiSink []MapSink

func (m MultiSink) Attach(a Annotation) {
	for _, s := range m {
		s.Attach(a)
	}
}

func (m MultiSink) Fade(a Annotation) {
	for _, s := range m {
		s.Fade(a)
	}
}

func (m MultiSink) Detach(a Annotation) {
	for _, s := range m {
		s.Detach(a)
	}
}

// EventType names a marker lifecycle event.
type EventType string

const (
	EventAttach EventType = "marker.attach"
	EventFade   EventType = "marker.fade"
	EventDetach EventType = "marker.detach"
)

// Event is the wire form of a marker change, shared by the dashboard feed and
// the Kafka feed.
type Event struct {
	Type          EventType `json:"type"`
	Key           string    `json:"key"`
	ClassName     string    `json:"class_name"`
	Confidence    float64   `json:"confidence"`
	Label         string    `json:"label"`
	Color         string    `json:"color"`
	Icon          string    `json:"icon"`
	State         State     `json:"state"`
	PositionKind  string    `json:"position_kind"`
	PositionLabel string    `json:"position_label"`
	Lat           float64   `json:"lat"`
	Lon           float64   `json:"lon"`
	DetectedAt    int64     `json:"detected_at"`
}

// NewEvent builds the event for a marker change.
func NewEvent(t EventType, a Annotation) Event {
	return Event{
		Type:          t,
		Key:           a.Key,
		ClassName:     a.Detection.ClassName,
		Confidence:    a.Detection.Confidence,
		Label:         a.Detection.Label(),
		Color:         model.SymbolColor(a.Detection.ClassName),
		Icon:          model.SymbolIcon(a.Detection.ClassName),
		State:         a.State,
		PositionKind:  a.Position.Kind.String(),
		PositionLabel: a.Position.Label(),
		Lat:           a.Position.Lat,
		Lon:           a.Position.Lon,
		DetectedAt:    a.Detection.Timestamp.UnixMilli(),
	}
}
