package capture

import (
	"sync"

	"droneaid/internal/logger"

	"gocv.io/x/gocv"
)

// pixelDelta is the grey-level difference above which a pixel counts as changed.
const pixelDelta = 30

// MotionGate skips inference for frames that barely differ from the last
// frame it was shown. A frame is "changed" when more than threshold pixels
// moved.
type MotionGate struct {
	threshold int
	logger    *logger.Logger

	mu          sync.Mutex
	previous    gocv.Mat
	hasPrevious bool
}

func NewMotionGate(threshold int, logger *logger.Logger) *MotionGate {
	return &MotionGate{threshold: threshold, logger: logger}
}

// Changed compares data with the previous frame and keeps it for the next
// call. The first frame, and any frame that cannot be compared, counts as
// changed.
func (g *MotionGate) Changed(data []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil || mat.Empty() {
		if err == nil {
			mat.Close()
		}
		g.logger.Warning("Motion gate could not decode frame: %v", err)
		return true
	}

	if !g.hasPrevious || g.previous.Rows() != mat.Rows() || g.previous.Cols() != mat.Cols() {
		g.replace(mat)
		return true
	}

	diff := gocv.NewMat()
	defer diff.Close()
	if err := gocv.AbsDiff(g.previous, mat, &diff); err != nil {
		g.replace(mat)
		return true
	}
	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(diff, &gray, gocv.ColorBGRToGray); err != nil {
		g.replace(mat)
		return true
	}
	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(gray, &thresh, pixelDelta, 255, gocv.ThresholdBinary)

	changed := gocv.CountNonZero(thresh)
	g.replace(mat)

	if changed > g.threshold {
		g.logger.Debug("Motion detected: %d pixels changed", changed)
		return true
	}
	return false
}

// replace takes ownership of mat as the new reference frame.
func (g *MotionGate) replace(mat gocv.Mat) {
	if g.hasPrevious {
		g.previous.Close()
	}
	g.previous = mat
	g.hasPrevious = true
}

// Reset forgets the reference frame.
func (g *MotionGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hasPrevious {
		g.previous.Close()
		g.hasPrevious = false
	}
}
