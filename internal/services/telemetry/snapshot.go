// Package telemetry produces the mock drone's state stream.
package telemetry

import (
	"fmt"
	"math/rand"
	"sync"
)

// Snapshot is one drone state report.
type Snapshot struct {
	Pitch int
	Roll  int
	Yaw   int
	VGX   int
	VGY   int
	VGZ   int
	TempL int
	TempH int
	TOF   int
	H     int
	Bat   int
	Baro  float64
	Time  int
	AGX   float64
	AGY   float64
	AGZ   float64
}

// String encodes the snapshot as semicolon terminated key:value pairs.
func (s Snapshot) String() string {
	return fmt.Sprintf(
		"pitch:%d;roll:%d;yaw:%d;vgx:%d;vgy:%d;vgz:%d;templ:%d;temph:%d;tof:%d;h:%d;bat:%d;baro:%.2f;time:%d;agx:%.2f;agy:%.2f;agz:%.2f;",
		s.Pitch, s.Roll, s.Yaw, s.VGX, s.VGY, s.VGZ, s.TempL, s.TempH, s.TOF, s.H, s.Bat, s.Baro, s.Time, s.AGX, s.AGY, s.AGZ,
	)
}

const (
	MinBattery = 70
	MaxBattery = 100
)

// Synthesizer makes up plausible snapshots for a drone sitting on the ground.
type Synthesizer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewSynthesizer(seed int64) *Synthesizer {
	return &Synthesizer{rng: rand.New(rand.NewSource(seed))}
}

// Battery returns a charge level in [MinBattery, MaxBattery].
func (s *Synthesizer) Battery() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MinBattery + s.rng.Intn(MaxBattery-MinBattery+1)
}

// Next returns a fresh snapshot.
func (s *Synthesizer) Next() Snapshot {
	return Snapshot{
		TempL: 45,
		TempH: 47,
		TOF:   10,
		Bat:   s.Battery(),
	}
}
