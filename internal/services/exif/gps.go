// Package exif reads capture metadata from uploaded photos.
package exif

import (
	"bytes"
	"time"

	"droneaid/internal/model"

	goexif "github.com/rwcarlsen/goexif/exif"
)

// Metadata is what the dashboard uses from a photo's EXIF block.
type Metadata struct {
	Location *model.Location
	TakenAt  time.Time
}

// HasGPS reports whether the photo carried coordinates.
func (m Metadata) HasGPS() bool {
	return m.Location != nil
}

// Read extracts GPS position and capture time. Photos without EXIF, or
// without GPS tags, yield empty metadata rather than an error.
func Read(data []byte) Metadata {
	x, err := goexif.Decode(bytes.NewReader(data))
	if err != nil {
		return Metadata{}
	}

	var md Metadata
	if lat, lon, err := x.LatLong(); err == nil && validCoordinate(lat, lon) {
		md.Location = &model.Location{Lat: lat, Lon: lon}
	}
	if t, err := x.DateTime(); err == nil {
		md.TakenAt = t
	}
	return md
}

func validCoordinate(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
