package annotation

import (
	"sync"
	"testing"
	"time"

	"droneaid/internal/logger"
	"droneaid/internal/model"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	op  string
	key string
	st  State
}

type recordingSink struct {
	mu    sync.Mutex
	calls []call
}

func (r *recordingSink) add(op string, a Annotation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{op: op, key: a.Key, st: a.State})
}

func (r *recordingSink) Attach(a Annotation) { r.add("attach", a) }
func (r *recordingSink) Fade(a Annotation)   { r.add("fade", a) }
func (r *recordingSink) Detach(a Annotation) { r.add("detach", a) }

func (r *recordingSink) Calls() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

var testConfig = Config{
	DisplayDuration: 5 * time.Second,
	FadeDuration:    500 * time.Millisecond,
	CenterLat:       18.2208,
	CenterLon:       -66.5901,
	SpanLat:         0.5,
	SpanLon:         1.0,
}

func newTestManager() (*Manager, *recordingSink, *clock.Mock) {
	clk := clock.NewMock()
	sink := &recordingSink{}
	return NewManager(testConfig, sink, clk, logger.Nop()), sink, clk
}

func detection(id, class string) model.Detection {
	return model.Detection{EventID: id, ClassName: class, Confidence: 0.9}
}

func stateOf(t *testing.T, m *Manager, key string) State {
	t.Helper()
	a, ok := m.Get(key)
	if !ok {
		return Removed
	}
	return a.State
}

func TestManager_Lifecycle(t *testing.T) {
	m, sink, clk := newTestManager()

	n := m.Process([]model.Detection{detection("e1", "water")})
	assert.Equal(t, 1, n)
	assert.Equal(t, Visible, stateOf(t, m, "e1"))
	assert.Equal(t, []call{{"attach", "e1", Visible}}, sink.Calls())

	clk.Add(4 * time.Second)
	assert.Equal(t, Visible, stateOf(t, m, "e1"))

	clk.Add(time.Second)
	require.Eventually(t, func() bool { return stateOf(t, m, "e1") == Fading }, time.Second, 5*time.Millisecond)

	clk.Add(500 * time.Millisecond)
	require.Eventually(t, func() bool { return stateOf(t, m, "e1") == Removed }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []call{
		{"attach", "e1", Visible},
		{"fade", "e1", Fading},
		{"detach", "e1", Removed},
	}, sink.Calls())
	assert.Empty(t, m.Active())

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.Created)
	assert.Equal(t, uint64(1), stats.Removed)
	assert.Equal(t, 0, stats.Active)
}

func TestManager_DuplicateDropped(t *testing.T) {
	m, sink, clk := newTestManager()

	require.Equal(t, 1, m.Process([]model.Detection{detection("e1", "sos")}))
	first, _ := m.Get("e1")

	clk.Add(3 * time.Second)
	assert.Equal(t, 0, m.Process([]model.Detection{detection("e1", "sos")}))

	again, ok := m.Get("e1")
	require.True(t, ok)
	assert.Equal(t, first.CreatedAt, again.CreatedAt)
	assert.Len(t, sink.Calls(), 1)
	assert.Equal(t, uint64(1), m.Stats().Duplicates)

	// The original display timer still fires at five seconds.
	clk.Add(2 * time.Second)
	require.Eventually(t, func() bool { return stateOf(t, m, "e1") == Fading }, time.Second, 5*time.Millisecond)
}

func TestManager_DuplicateWithinBatch(t *testing.T) {
	m, _, _ := newTestManager()
	n := m.Process([]model.Detection{detection("e1", "food"), detection("e1", "food"), detection("e2", "ok")})
	assert.Equal(t, 2, n)
	assert.Len(t, m.Active(), 2)
}

func TestManager_KeyReusableAfterRemoval(t *testing.T) {
	m, _, clk := newTestManager()

	m.Process([]model.Detection{detection("e1", "water")})
	clk.Add(5 * time.Second)
	require.Eventually(t, func() bool { return stateOf(t, m, "e1") == Fading }, time.Second, 5*time.Millisecond)
	clk.Add(500 * time.Millisecond)
	require.Eventually(t, func() bool { return stateOf(t, m, "e1") == Removed }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, m.Process([]model.Detection{detection("e1", "water")}))
}

func TestManager_CompositeKeyWithoutEventID(t *testing.T) {
	m, _, _ := newTestManager()
	ts := time.UnixMilli(1700000000000)
	d := model.Detection{ClassName: "elderly", Confidence: 0.8, Timestamp: ts}

	assert.Equal(t, 1, m.Process([]model.Detection{d}))
	assert.Equal(t, 0, m.Process([]model.Detection{d}))

	other := d.WithTimestamp(ts.Add(time.Millisecond))
	assert.Equal(t, 1, m.Process([]model.Detection{other}))
}

func TestManager_Positions(t *testing.T) {
	m, _, _ := newTestManager()

	gps := detection("gps", "water").WithLocation(&model.Location{Lon: -66.1057, Lat: 18.4655})
	sim := detection("sim", "water")
	m.Process([]model.Detection{gps, sim})

	a, ok := m.Get("gps")
	require.True(t, ok)
	assert.Equal(t, Positioned, a.Position.Kind)
	assert.Equal(t, "GPS 18.46550, -66.10570", a.Position.Label())

	b, ok := m.Get("sim")
	require.True(t, ok)
	assert.Equal(t, Simulated, b.Position.Kind)
	assert.Equal(t, "Simulated location", b.Position.Label())
	assert.InDelta(t, testConfig.CenterLat, b.Position.Lat, testConfig.SpanLat/2)
	assert.InDelta(t, testConfig.CenterLon, b.Position.Lon, testConfig.SpanLon/2)
}

func TestManager_CloseForceRemoves(t *testing.T) {
	m, sink, clk := newTestManager()

	m.Process([]model.Detection{detection("e1", "water"), detection("e2", "sos")})
	m.Close()

	assert.Empty(t, m.Active())
	assert.Equal(t, []call{
		{"attach", "e1", Visible},
		{"attach", "e2", Visible},
		{"detach", "e1", Removed},
		{"detach", "e2", Removed},
	}, sink.Calls())

	// Timers are stopped and later work is ignored.
	clk.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sink.Calls(), 4)
	assert.Equal(t, 0, m.Process([]model.Detection{detection("e3", "ok")}))

	m.Close()
}

func TestMultiSink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	sink := MultiSink{a, b}
	ann := Annotation{Key: "k", State: Visible}

	sink.Attach(ann)
	sink.Fade(ann)
	sink.Detach(ann)

	assert.Len(t, a.Calls(), 3)
	assert.Equal(t, a.Calls(), b.Calls())
}

func TestNewEvent(t *testing.T) {
	ann := Annotation{
		Key:       "e1",
		Detection: model.Detection{ClassName: "water", Confidence: 0.92, Timestamp: time.UnixMilli(1234)},
		Position:  Position{Kind: Simulated, Lat: 18.2, Lon: -66.5},
		State:     Visible,
	}

	ev := NewEvent(EventAttach, ann)
	assert.Equal(t, EventAttach, ev.Type)
	assert.Equal(t, "water 92%", ev.Label)
	assert.Equal(t, "#418fde", ev.Color)
	assert.Equal(t, "/assets/markers/marker-water.png", ev.Icon)
	assert.Equal(t, "simulated", ev.PositionKind)
	assert.Equal(t, "Simulated location", ev.PositionLabel)
	assert.Equal(t, int64(1234), ev.DetectedAt)
}
