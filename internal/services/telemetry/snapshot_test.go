package telemetry

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_String(t *testing.T) {
	s := Snapshot{TempL: 45, TempH: 47, TOF: 10, Bat: 87}
	assert.Equal(t,
		"pitch:0;roll:0;yaw:0;vgx:0;vgy:0;vgz:0;templ:45;temph:47;tof:10;h:0;bat:87;baro:0.00;time:0;agx:0.00;agy:0.00;agz:0.00;",
		s.String())
}

func TestParseSnapshot(t *testing.T) {
	in := Snapshot{Pitch: -3, Yaw: 120, TempL: 45, TempH: 47, TOF: 10, H: 30, Bat: 91, Baro: 12.5, Time: 4, AGZ: -1000.25}
	out, err := parseSnapshot(in.String())
	require.NoError(t, err)
	assert.Equal(t, in, out)

	out, err = parseSnapshot("bat:75;mid:-1;x:0;")
	require.NoError(t, err)
	assert.Equal(t, 75, out.Bat)
}

func TestParseSnapshot_Errors(t *testing.T) {
	for _, text := range []string{"bat", "bat:high;", "baro:x;"} {
		_, err := parseSnapshot(text)
		assert.Error(t, err, text)
	}
}

func TestSynthesizer(t *testing.T) {
	s := NewSynthesizer(1)
	seen := map[int]bool{}
	for i := 0; i < 2000; i++ {
		snap := s.Next()
		require.GreaterOrEqual(t, snap.Bat, MinBattery)
		require.LessOrEqual(t, snap.Bat, MaxBattery)
		seen[snap.Bat] = true
		assert.Equal(t, 45, snap.TempL)
		assert.Equal(t, 47, snap.TempH)
		assert.Equal(t, 10, snap.TOF)
		assert.Zero(t, snap.Pitch)
	}
	assert.True(t, seen[MinBattery], "lower bound reachable")
	assert.True(t, seen[MaxBattery], "upper bound reachable")
}

// parseSnapshot decodes the String form. Unknown keys are ignored.
func parseSnapshot(text string) (Snapshot, error) {
	var s Snapshot
	ints := map[string]*int{
		"pitch": &s.Pitch, "roll": &s.Roll, "yaw": &s.Yaw,
		"vgx": &s.VGX, "vgy": &s.VGY, "vgz": &s.VGZ,
		"templ": &s.TempL, "temph": &s.TempH, "tof": &s.TOF,
		"h": &s.H, "bat": &s.Bat, "time": &s.Time,
	}
	floats := map[string]*float64{
		"baro": &s.Baro, "agx": &s.AGX, "agy": &s.AGY, "agz": &s.AGZ,
	}

	for _, pair := range strings.Split(strings.TrimSpace(text), ";") {
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, ":")
		if !ok {
			return Snapshot{}, fmt.Errorf("malformed telemetry pair %q", pair)
		}
		if p, ok := ints[key]; ok {
			n, err := strconv.Atoi(value)
			if err != nil {
				return Snapshot{}, fmt.Errorf("telemetry %s: %w", key, err)
			}
			*p = n
		} else if p, ok := floats[key]; ok {
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return Snapshot{}, fmt.Errorf("telemetry %s: %w", key, err)
			}
			*p = f
		}
	}
	return s, nil
}
