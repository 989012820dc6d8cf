// Package overlay turns detections into a drawable layer and rasterizes it.
package overlay

import "droneaid/internal/model"

const (
	StrokeWidth = 3.0
	TagHeight   = 24.0
	FontSize    = 16.0
	TagPadding  = 5.0
)

// Box is one bounding box with its label tag.
type Box struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Label     string  `json:"label"`
	ClassName string  `json:"class_name"`
	Color     string  `json:"color"`
}

// Layer is a full replacement of the overlay surface. Clear is always set so
// nothing from a previous frame survives.
type Layer struct {
	Clear bool  `json:"clear"`
	Boxes []Box `json:"boxes"`
}

// Empty reports whether the layer draws nothing.
func (l Layer) Empty() bool {
	return len(l.Boxes) == 0
}

// Render builds the overlay for one batch of detections. It keeps no state.
func Render(detections []model.Detection) Layer {
	layer := Layer{Clear: true, Boxes: make([]Box, 0, len(detections))}
	for _, d := range detections {
		layer.Boxes = append(layer.Boxes, Box{
			X:         d.BBox.X,
			Y:         d.BBox.Y,
			Width:     d.BBox.Width,
			Height:    d.BBox.Height,
			Label:     d.Label(),
			ClassName: d.ClassName,
			Color:     model.DefaultColor,
		})
	}
	return layer
}
