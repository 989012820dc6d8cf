// Package capture drives the live feed: frames are painted on every tick and
// sampled for detection no faster than the minimum inference interval.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"droneaid/internal/logger"
	"droneaid/internal/model"
	"droneaid/internal/services/overlay"

	"github.com/benbjohnson/clock"
)

// ErrLoopRunning is returned by Start when the loop is already running.
var ErrLoopRunning = errors.New("capture loop already running")

// Display is the visible surface of the feed.
type Display interface {
	ShowFrame(frame model.Frame)
	ShowOverlay(layer overlay.Layer)
	ClearOverlay()
}

// Dispatcher is the inference guard the loop samples frames into.
type Dispatcher interface {
	Submit(ctx context.Context, frame model.Frame) ([]model.Detection, bool)
	Ready() bool
	Processing() bool
}

// Sink receives every applied detection batch.
type Sink interface {
	Process(batch []model.Detection) int
}

// Gate decides whether a frame is worth sending to detection.
type Gate interface {
	Changed(data []byte) bool
	Reset()
}

// Options are the loop timings. A nil Gate sends every eligible frame.
type Options struct {
	FrameInterval        time.Duration
	MinInferenceInterval time.Duration
	Gate                 Gate
}

// Stats are the loop counters since process start.
type Stats struct {
	Ticks      uint64 `json:"ticks"`
	Frames     uint64 `json:"frames"`
	ReadErrors uint64 `json:"read_errors"`
	Static     uint64 `json:"static"`
	Dispatched uint64 `json:"dispatched"`
	Applied    uint64 `json:"applied"`
	Discarded  uint64 `json:"discarded"`
}

type result struct {
	detections []model.Detection
	ok         bool
}

// Loop owns the live feed. Ticks run on one goroutine; detection runs on a
// separate goroutine and its result is handed back to the tick goroutine.
type Loop struct {
	source     FrameSource
	display    Display
	dispatcher Dispatcher
	sink       Sink
	opts       Options
	clock      clock.Clock
	logger     *logger.Logger

	mu         sync.Mutex
	running    bool
	annotate   bool
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}

	ticks      atomic.Uint64
	frames     atomic.Uint64
	readErrors atomic.Uint64
	static     atomic.Uint64
	dispatched atomic.Uint64
	applied    atomic.Uint64
	discarded  atomic.Uint64
}

func NewLoop(source FrameSource, display Display, dispatcher Dispatcher, sink Sink, opts Options, clk clock.Clock, logger *logger.Logger) *Loop {
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		source:     source,
		display:    display,
		dispatcher: dispatcher,
		sink:       sink,
		opts:       opts,
		clock:      clk,
		logger:     logger,
		annotate:   true,
	}
}

// Start opens the source and begins ticking. Detection requests started by
// the loop are bound to ctx, not to the run, so a request in flight at Stop
// completes and its result is discarded.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return ErrLoopRunning
	}
	if err := l.source.Open(); err != nil {
		return fmt.Errorf("opening frame source: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.generation++
	l.running = true
	l.cancel = cancel
	l.done = make(chan struct{})

	ticker := l.clock.Ticker(l.opts.FrameInterval)
	go l.run(ctx, runCtx, ticker, l.generation, l.done)
	l.logger.Info("Capture loop started (run %d)", l.generation)
	return nil
}

// Stop ends the run, waits for the tick goroutine and clears the overlay.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.cancel()
	done := l.done
	gen := l.generation
	l.mu.Unlock()

	<-done
	if l.opts.Gate != nil {
		l.opts.Gate.Reset()
	}
	l.display.ClearOverlay()
	if err := l.source.Close(); err != nil {
		l.logger.Warning("Closing frame source: %v", err)
	}
	l.logger.Info("Capture loop stopped (run %d)", gen)
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// SetAnnotate turns detection on or off for live frames.
func (l *Loop) SetAnnotate(enabled bool) {
	l.mu.Lock()
	l.annotate = enabled
	l.mu.Unlock()
	if !enabled {
		l.display.ClearOverlay()
	}
}

func (l *Loop) Annotating() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.annotate
}

func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:      l.ticks.Load(),
		Frames:     l.frames.Load(),
		ReadErrors: l.readErrors.Load(),
		Static:     l.static.Load(),
		Dispatched: l.dispatched.Load(),
		Applied:    l.applied.Load(),
		Discarded:  l.discarded.Load(),
	}
}

// live reports whether gen is the current, running generation.
func (l *Loop) live(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running && l.generation == gen
}

func (l *Loop) run(submitCtx, runCtx context.Context, ticker *clock.Ticker, gen uint64, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	// One slot is enough: a new request is never launched while one is pending.
	results := make(chan result, 1)
	pending := false
	var lastDispatch time.Time

	for {
		select {
		case <-runCtx.Done():
			return

		case r := <-results:
			pending = false
			l.apply(gen, r)

		case now := <-ticker.C:
			if l.tick(submitCtx, gen, now, pending, lastDispatch, results) {
				lastDispatch = now
				pending = true
			}
			l.ticks.Add(1)
		}
	}
}

// tick paints one frame and reports whether it launched a detection request.
func (l *Loop) tick(ctx context.Context, gen uint64, now time.Time, pending bool, lastDispatch time.Time, results chan<- result) bool {
	frame, err := l.source.Read()
	if err != nil {
		if !errors.Is(err, ErrNoFrame) {
			l.readErrors.Add(1)
			l.logger.Warning("Frame read failed: %v", err)
		}
		return false
	}
	l.frames.Add(1)
	l.display.ShowFrame(frame)

	if !l.Annotating() {
		l.display.ClearOverlay()
		return false
	}
	if pending || !l.dispatcher.Ready() || l.dispatcher.Processing() {
		return false
	}
	if !lastDispatch.IsZero() && now.Sub(lastDispatch) < l.opts.MinInferenceInterval {
		return false
	}
	if l.opts.Gate != nil && !l.opts.Gate.Changed(frame.Data) {
		l.static.Add(1)
		return false
	}

	l.dispatched.Add(1)
	go l.submit(ctx, gen, frame, results)
	return true
}

func (l *Loop) submit(ctx context.Context, gen uint64, frame model.Frame, results chan<- result) {
	dets, ok := l.dispatcher.Submit(ctx, frame)
	if !l.live(gen) {
		if ok {
			l.discarded.Add(1)
			l.logger.Debug("Discarding %d detection(s) from stopped run %d", len(dets), gen)
		}
		return
	}
	results <- result{detections: dets, ok: ok}
}

func (l *Loop) apply(gen uint64, r result) {
	if !r.ok {
		return
	}
	if !l.live(gen) || !l.Annotating() {
		l.discarded.Add(1)
		return
	}
	l.display.ShowOverlay(overlay.Render(r.detections))
	if len(r.detections) > 0 {
		l.sink.Process(r.detections)
	}
	l.applied.Add(1)
}
