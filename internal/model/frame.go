package model

import "time"

// FrameSource tells where a frame came from.
type FrameSource string

const (
	SourceLive     FrameSource = "live"
	SourceUploaded FrameSource = "uploaded"
)

// Frame is a single captured JPEG/PNG image. It belongs to whoever captured it
// until it is handed to the dispatcher and is not retained afterwards.
type Frame struct {
	Data       []byte
	Source     FrameSource
	Name       string
	CapturedAt time.Time
	Location   *Location
}
