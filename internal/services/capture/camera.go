package capture

import (
	"fmt"
	"sync"
	"time"

	"droneaid/internal/model"

	"gocv.io/x/gocv"
)

// CameraSource reads frames from a local video device.
type CameraSource struct {
	device  int
	width   int
	height  int
	quality int

	mu      sync.Mutex
	capture *gocv.VideoCapture
	mat     gocv.Mat
	count   int
}

func NewCameraSource(device, width, height, quality int) *CameraSource {
	return &CameraSource{device: device, width: width, height: height, quality: quality}
}

func (c *CameraSource) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture != nil {
		return nil
	}
	vc, err := gocv.OpenVideoCapture(c.device)
	if err != nil {
		return fmt.Errorf("%w: device %d: %v", ErrCameraUnavailable, c.device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("%w: device %d could not be opened", ErrCameraUnavailable, c.device)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(c.width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(c.height))

	c.capture = vc
	c.mat = gocv.NewMat()
	c.count = 0
	return nil
}

func (c *CameraSource) Read() (model.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return model.Frame{}, ErrNoFrame
	}
	if ok := c.capture.Read(&c.mat); !ok || c.mat.Empty() {
		return model.Frame{}, fmt.Errorf("camera %d: empty read", c.device)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, c.mat, []int{int(gocv.IMWriteJpegQuality), c.quality})
	if err != nil {
		return model.Frame{}, fmt.Errorf("encoding camera frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	c.count++

	return model.Frame{
		Data:       data,
		Source:     model.SourceLive,
		Name:       fmt.Sprintf("camera-%d-%06d.jpg", c.device, c.count),
		CapturedAt: time.Now(),
	}, nil
}

func (c *CameraSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil
	}
	c.mat.Close()
	err := c.capture.Close()
	c.capture = nil
	return err
}
