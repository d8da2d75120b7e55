package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMonitor() *Monitor {
	return New(Config{
		MemoryBudgetBytes: 1000,
		GoroutineBudget:   100,
		Interval:          time.Hour, // sampling driven manually in tests
	})
}

func TestDeriveLevels(t *testing.T) {
	m := testMonitor()

	tests := []struct {
		name       string
		heap       uint64
		gcFrac     float64
		goroutines int
		want       Level
	}{
		{"idle", 100, 0.01, 10, LevelNone},
		{"memory minimal", 700, 0.01, 10, LevelMinimal},
		{"memory moderate", 850, 0.01, 10, LevelModerate},
		{"memory severe", 950, 0.01, 10, LevelSevere},
		{"gc minimal", 100, 0.15, 10, LevelMinimal},
		{"gc moderate", 100, 0.30, 10, LevelModerate},
		{"gc severe", 100, 0.60, 10, LevelSevere},
		{"goroutine minimal", 100, 0.01, 70, LevelMinimal},
		{"goroutine moderate", 100, 0.01, 90, LevelModerate},
		{"goroutine flood", 100, 0.01, 150, LevelSevere},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.derive(Sample{
				HeapInUseBytes:  tt.heap,
				HeapBudgetBytes: m.cfg.MemoryBudgetBytes,
				GCCPUFraction:   tt.gcFrac,
				Goroutines:      tt.goroutines,
			})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSamplingUpdatesLevel(t *testing.T) {
	m := testMonitor()
	heap := uint64(100)
	m.readStats = func() (uint64, float64, int) { return heap, 0.01, 10 }

	m.sampleOnce()
	assert.Equal(t, LevelNone, m.Level())

	heap = 960
	m.sampleOnce()
	assert.Equal(t, LevelSevere, m.Level())
	assert.Equal(t, uint64(960), m.Snapshot().HeapInUseBytes)
}

func TestSetLevelOverridesSampling(t *testing.T) {
	m := testMonitor()
	m.readStats = func() (uint64, float64, int) { return 100, 0.01, 10 }

	m.SetLevel(LevelSevere)
	m.sampleOnce()
	assert.Equal(t, LevelSevere, m.Level(), "override pins the level")

	m.ClearOverride()
	m.sampleOnce()
	assert.Equal(t, LevelNone, m.Level())
}

func TestSubscribeNotifiesOnChange(t *testing.T) {
	m := testMonitor()
	ch := m.Subscribe()

	m.SetLevel(LevelModerate)

	select {
	case l := <-ch:
		assert.Equal(t, LevelModerate, l)
	case <-time.After(time.Second):
		t.Fatal("no level notification received")
	}

	// Setting the same level again is not a change.
	m.SetLevel(LevelModerate)
	select {
	case l := <-ch:
		t.Fatalf("unexpected notification %v", l)
	default:
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "none", LevelNone.String())
	assert.Equal(t, "minimal", LevelMinimal.String())
	assert.Equal(t, "moderate", LevelModerate.String())
	assert.Equal(t, "severe", LevelSevere.String())
}

func TestStartStop(t *testing.T) {
	m := New(Config{Interval: time.Millisecond})
	m.readStats = func() (uint64, float64, int) { return 0, 0, 1 }

	m.Start()
	time.Sleep(20 * time.Millisecond)
	m.Stop()
	m.Stop() // idempotent

	require.NotZero(t, m.Snapshot().TakenAt, "at least one sample was taken")
}
