package inference

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"droneaid/internal/logger"
	"droneaid/internal/model"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// DefaultThreshold is used when a dispatcher is built with an unusable threshold.
const DefaultThreshold = 0.6

// Request describes the submission currently holding the slot.
type Request struct {
	Frame     string            `json:"frame"`
	Source    model.FrameSource `json:"source"`
	StartedAt time.Time         `json:"started_at"`
}

// Stats are the dispatcher counters since start.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Skipped   uint64 `json:"skipped"`
	Failed    uint64 `json:"failed"`
	Completed uint64 `json:"completed"`
}

// Dispatcher guards the detection service so that at most one request is in
// flight. Live frames are dropped while busy; uploads wait for the slot.
type Dispatcher struct {
	detector Detector
	logger   *logger.Logger
	clock    clock.Clock
	newID    func() string

	slot chan struct{}

	mu         sync.Mutex
	threshold  float64
	processing bool
	current    Request

	ready     atomic.Bool
	submitted atomic.Uint64
	skipped   atomic.Uint64
	failed    atomic.Uint64
	completed atomic.Uint64
}

// NewDispatcher creates a dispatcher with the given confidence threshold.
func NewDispatcher(detector Detector, threshold float64, clk clock.Clock, logger *logger.Logger) *Dispatcher {
	if clk == nil {
		clk = clock.New()
	}
	return &Dispatcher{
		detector:  detector,
		logger:    logger,
		clock:     clk,
		newID:     uuid.NewString,
		slot:      make(chan struct{}, 1),
		threshold: clamp(threshold, DefaultThreshold),
	}
}

// Submit runs detection on a live frame. It returns false without contacting
// the service when another submission is outstanding.
func (d *Dispatcher) Submit(ctx context.Context, frame model.Frame) ([]model.Detection, bool) {
	select {
	case d.slot <- struct{}{}:
	default:
		d.skipped.Add(1)
		return nil, false
	}
	return d.run(ctx, frame, d.Threshold()), true
}

// SubmitWait waits for the slot, bounded by ctx, then runs detection.
func (d *Dispatcher) SubmitWait(ctx context.Context, frame model.Frame) ([]model.Detection, error) {
	return d.SubmitWithThreshold(ctx, frame, d.Threshold())
}

// SubmitWithThreshold is SubmitWait with a per-call confidence threshold.
func (d *Dispatcher) SubmitWithThreshold(ctx context.Context, frame model.Frame, threshold float64) ([]model.Detection, error) {
	select {
	case d.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return d.run(ctx, frame, clamp(threshold, d.Threshold())), nil
}

func (d *Dispatcher) run(ctx context.Context, frame model.Frame, threshold float64) []model.Detection {
	d.submitted.Add(1)
	d.mu.Lock()
	d.processing = true
	d.current = Request{Frame: frame.Name, Source: frame.Source, StartedAt: d.clock.Now()}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.processing = false
		d.current = Request{}
		d.mu.Unlock()
		<-d.slot
	}()

	resp, err := d.detector.Detect(ctx, frame.Data, frame.Name, threshold)
	if err != nil {
		d.failed.Add(1)
		d.logger.Error("Detection failed for %s frame %q: %v", frame.Source, frame.Name, err)
		return []model.Detection{}
	}
	d.completed.Add(1)
	d.logger.Debug("Detection service returned %d result(s) for %dx%d image in %.1fms",
		len(resp.Detections), resp.ImageWidth, resp.ImageHeight, resp.ProcessingTimeMS)

	return model.FilterByConfidence(d.normalize(resp.Detections, frame), threshold)
}

func (d *Dispatcher) normalize(raw []model.Detection, frame model.Frame) []model.Detection {
	capturedAt := frame.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = d.clock.Now()
	}

	out := make([]model.Detection, 0, len(raw))
	for _, det := range raw {
		if !model.IsSymbol(det.ClassName) {
			d.logger.Warning("Dropping detection with unknown class %q", det.ClassName)
			continue
		}
		det = det.WithEventID(d.newID())
		if det.Timestamp.IsZero() {
			det = det.WithTimestamp(capturedAt)
		}
		if det.Location == nil {
			det = det.WithLocation(frame.Location)
		}
		out = append(out, det)
	}
	return out
}

// Processing reports whether a request is in flight.
func (d *Dispatcher) Processing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.processing
}

// Current returns the in-flight request, if any.
func (d *Dispatcher) Current() (Request, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, d.processing
}

func (d *Dispatcher) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// SetThreshold changes the live threshold, clamped to [0,1], and returns the
// stored value. NaN leaves the current threshold in place.
func (d *Dispatcher) SetThreshold(t float64) float64 {
	d.mu.Lock()
	t = clamp(t, d.threshold)
	d.threshold = t
	d.mu.Unlock()
	d.logger.Info("Confidence threshold set to %.2f", t)
	return t
}

// Ready reports the result of the last health probe.
func (d *Dispatcher) Ready() bool {
	return d.ready.Load()
}

// CheckHealth probes the detection service and updates Ready.
func (d *Dispatcher) CheckHealth(ctx context.Context) bool {
	err := d.detector.Health(ctx)
	ready := err == nil
	if was := d.ready.Swap(ready); was != ready {
		if ready {
			d.logger.Info("Detection service is ready")
		} else {
			d.logger.Warning("Detection service not ready: %v", err)
		}
	}
	return ready
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted: d.submitted.Load(),
		Skipped:   d.skipped.Load(),
		Failed:    d.failed.Load(),
		Completed: d.completed.Load(),
	}
}

// clamp bounds t to [0,1]; NaN compares false against both bounds and is
// replaced by fallback.
func clamp(t, fallback float64) float64 {
	switch {
	case math.IsNaN(t):
		return fallback
	case t < 0:
		return 0
	case t > 1:
		return 1
	default:
		return t
	}
}
