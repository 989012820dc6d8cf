package annotation

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"droneaid/internal/logger"
	"droneaid/internal/model"

	"github.com/benbjohnson/clock"
)

// Config holds the marker timings and the area simulated positions fall in.
type Config struct {
	DisplayDuration time.Duration
	FadeDuration    time.Duration
	CenterLat       float64
	CenterLon       float64
	SpanLat         float64
	SpanLon         float64
}

// Stats counts what the manager has seen.
type Stats struct {
	Created    uint64 `json:"created"`
	Duplicates uint64 `json:"duplicates"`
	Removed    uint64 `json:"removed"`
	Active     int    `json:"active"`
}

type entry struct {
	ann   Annotation
	seq   uint64
	timer *clock.Timer
}

// Manager owns every live marker and its timers.
type Manager struct {
	cfg    Config
	sink   MapSink
	clock  clock.Clock
	logger *logger.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	entries map[string]*entry
	seq     uint64
	closed  bool
	stats   Stats
}

// NewManager creates a manager drawing on sink.
func NewManager(cfg Config, sink MapSink, clk clock.Clock, logger *logger.Logger) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		cfg:     cfg,
		sink:    sink,
		clock:   clk,
		logger:  logger,
		rng:     rand.New(rand.NewSource(clk.Now().UnixNano())),
		entries: make(map[string]*entry),
	}
}

// Process creates a marker for each detection not already on the map and
// returns how many were created. Duplicates leave the existing marker and its
// timers untouched.
func (m *Manager) Process(batch []model.Detection) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0
	}

	created := 0
	for _, d := range batch {
		key := d.Key()
		if _, ok := m.entries[key]; ok {
			m.stats.Duplicates++
			m.logger.Debug("Duplicate detection %s (%s) ignored", key, d.ClassName)
			continue
		}

		now := m.clock.Now()
		m.seq++
		e := &entry{
			seq: m.seq,
			ann: Annotation{
				Key:       key,
				Detection: d,
				Position:  m.resolvePosition(d),
				State:     Created,
				CreatedAt: now,
				UpdatedAt: now,
			},
		}
		m.entries[key] = e
		m.stats.Created++
		created++

		if e.ann.Position.Kind == Simulated {
			m.logger.Info("No GPS for %s detection %s, using simulated location", d.ClassName, key)
		}

		e.ann.State = Visible
		m.sink.Attach(e.ann)
		e.timer = m.clock.AfterFunc(m.cfg.DisplayDuration, func() { m.startFade(e) })
	}
	return created
}

func (m *Manager) resolvePosition(d model.Detection) Position {
	if d.Location != nil {
		return Position{Kind: Positioned, Lat: d.Location.Lat, Lon: d.Location.Lon}
	}
	return Position{
		Kind: Simulated,
		Lat:  m.cfg.CenterLat + (m.rng.Float64()-0.5)*m.cfg.SpanLat,
		Lon:  m.cfg.CenterLon + (m.rng.Float64()-0.5)*m.cfg.SpanLon,
	}
}

func (m *Manager) startFade(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.entries[e.ann.Key] != e || e.ann.State != Visible {
		return
	}
	e.ann.State = Fading
	e.ann.UpdatedAt = m.clock.Now()
	m.sink.Fade(e.ann)
	e.timer = m.clock.AfterFunc(m.cfg.FadeDuration, func() { m.remove(e) })
}

func (m *Manager) remove(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.entries[e.ann.Key] != e || e.ann.State != Fading {
		return
	}
	m.detachLocked(e)
}

func (m *Manager) detachLocked(e *entry) {
	e.ann.State = Removed
	e.ann.UpdatedAt = m.clock.Now()
	delete(m.entries, e.ann.Key)
	m.stats.Removed++
	m.sink.Detach(e.ann)
}

// Close stops every timer and removes all markers without fading. Later
// calls to Process do nothing.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	for _, e := range m.sortedLocked() {
		if e.timer != nil {
			e.timer.Stop()
		}
		m.detachLocked(e)
	}
	m.logger.Info("Annotation manager closed")
}

// Active returns the live markers, oldest first.
func (m *Manager) Active() []Annotation {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.sortedLocked()
	out := make([]Annotation, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ann)
	}
	return out
}

// Get returns the live marker for key.
func (m *Manager) Get(key string) (Annotation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return Annotation{}, false
	}
	return e.ann, true
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Active = len(m.entries)
	return s
}

func (m *Manager) sortedLocked() []*entry {
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}
