package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"droneaid/internal/config"
	"droneaid/internal/logger"
	"droneaid/internal/model"
	"droneaid/internal/services/exif"

	"github.com/benbjohnson/clock"
)

var (
	// ErrCameraUnavailable means the camera could not be opened, usually
	// because access was denied or no device is attached.
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrNoFrame means the source has nothing to show yet.
	ErrNoFrame = errors.New("no frame available")
)

// FrameSource produces frames for the capture loop.
type FrameSource interface {
	Open() error
	Read() (model.Frame, error)
	Close() error
}

// NewSource picks the frame source named by CAPTURE_SOURCE: "camera", a
// "udp://host:port" stream, or a directory of sample images.
func NewSource(cfg *config.Config, clk clock.Clock, logger *logger.Logger) FrameSource {
	switch src := cfg.CaptureSource; {
	case src == "camera":
		return NewCameraSource(cfg.CameraDevice, cfg.FrameWidth, cfg.FrameHeight, cfg.JPEGQuality)
	case strings.HasPrefix(src, "udp://"):
		return NewUDPSource(strings.TrimPrefix(src, "udp://"), clk, logger)
	default:
		return NewDirectorySource(src, clk)
	}
}

// DirectorySource cycles through the images of a directory. Sample photos
// that carry GPS keep their location.
type DirectorySource struct {
	dir   string
	clock clock.Clock

	mu    sync.Mutex
	files []string
	next  int
}

func NewDirectorySource(dir string, clk clock.Clock) *DirectorySource {
	if clk == nil {
		clk = clock.New()
	}
	return &DirectorySource{dir: dir, clock: clk}
}

func (d *DirectorySource) Open() error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("reading sample directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(d.dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("no images in %s", d.dir)
	}
	sort.Strings(files)

	d.mu.Lock()
	d.files, d.next = files, 0
	d.mu.Unlock()
	return nil
}

func (d *DirectorySource) Read() (model.Frame, error) {
	d.mu.Lock()
	if len(d.files) == 0 {
		d.mu.Unlock()
		return model.Frame{}, ErrNoFrame
	}
	path := d.files[d.next]
	d.next = (d.next + 1) % len(d.files)
	d.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return model.Frame{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return model.Frame{
		Data:       data,
		Source:     model.SourceLive,
		Name:       filepath.Base(path),
		CapturedAt: d.clock.Now(),
		Location:   exif.Read(data).Location,
	}, nil
}

func (d *DirectorySource) Close() error {
	d.mu.Lock()
	d.files = nil
	d.mu.Unlock()
	return nil
}
