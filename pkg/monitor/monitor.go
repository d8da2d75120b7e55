package monitor

import (
	"runtime"
	"sync"
	"time"

	"github.com/emberhollow/taskmill/pkg/log"
)

// Level is the system-wide degradation hint derived from resource
// headroom. Higher levels shed more work per request.
type Level int

const (
	LevelNone Level = iota
	LevelMinimal
	LevelModerate
	LevelSevere
)

func (l Level) String() string {
	switch l {
	case LevelMinimal:
		return "minimal"
	case LevelModerate:
		return "moderate"
	case LevelSevere:
		return "severe"
	default:
		return "none"
	}
}

// Sample is one resource reading with the level derived from it.
type Sample struct {
	HeapInUseBytes  uint64
	HeapBudgetBytes uint64
	GCCPUFraction   float64
	Goroutines      int
	Level           Level
	TakenAt         time.Time
}

// Config tunes the monitor.
type Config struct {
	// MemoryBudgetBytes is the heap size treated as 100% utilization.
	MemoryBudgetBytes uint64
	// GoroutineBudget is the goroutine count treated as saturation.
	GoroutineBudget int
	// Interval is the sampling cadence.
	Interval time.Duration
}

// DefaultConfig returns the stock monitor settings: 512 MiB heap
// budget, 10k goroutines, 5 s cadence.
func DefaultConfig() Config {
	return Config{
		MemoryBudgetBytes: 512 << 20,
		GoroutineBudget:   10_000,
		Interval:          5 * time.Second,
	}
}

// Monitor samples process resource usage on a fixed cadence and derives
// the degradation level. An operator override pins the level for tests
// and incident response.
type Monitor struct {
	cfg Config

	mu         sync.RWMutex
	level      Level
	overridden bool
	last       Sample
	subs       []chan Level

	readStats func() (heapInUse uint64, gcFrac float64, goroutines int)
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// New returns a stopped monitor; call Start to begin sampling.
func New(cfg Config) *Monitor {
	if cfg.MemoryBudgetBytes == 0 {
		cfg.MemoryBudgetBytes = DefaultConfig().MemoryBudgetBytes
	}
	if cfg.GoroutineBudget <= 0 {
		cfg.GoroutineBudget = DefaultConfig().GoroutineBudget
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Monitor{
		cfg:       cfg,
		readStats: readRuntimeStats,
		stopCh:    make(chan struct{}),
	}
}

func readRuntimeStats() (uint64, float64, int) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse, ms.GCCPUFraction, runtime.NumGoroutine()
}

// Start begins the sampling loop.
func (m *Monitor) Start() {
	go m.run()
}

// Stop halts sampling. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.sampleOnce()
	for {
		select {
		case <-ticker.C:
			m.sampleOnce()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) sampleOnce() {
	heap, gcFrac, goroutines := m.readStats()
	s := Sample{
		HeapInUseBytes:  heap,
		HeapBudgetBytes: m.cfg.MemoryBudgetBytes,
		GCCPUFraction:   gcFrac,
		Goroutines:      goroutines,
		TakenAt:         time.Now(),
	}
	s.Level = m.derive(s)

	m.mu.Lock()
	m.last = s
	changed := false
	if !m.overridden && s.Level != m.level {
		changed = true
		m.level = s.Level
	}
	level := m.level
	m.mu.Unlock()

	if changed {
		lg := log.WithComponent("monitor")
		lg.Warn().
			Str("level", level.String()).
			Uint64("heap_in_use", heap).
			Float64("gc_cpu_fraction", gcFrac).
			Int("goroutines", goroutines).
			Msg("degradation level changed")
		m.notify(level)
	}
}

// derive maps a sample onto a degradation level. Memory pressure is the
// primary signal; GC thrash and goroutine floods escalate as well.
func (m *Monitor) derive(s Sample) Level {
	memFrac := float64(s.HeapInUseBytes) / float64(s.HeapBudgetBytes)
	goroFrac := float64(s.Goroutines) / float64(m.cfg.GoroutineBudget)

	switch {
	case memFrac >= 0.95 || s.GCCPUFraction >= 0.50 || goroFrac >= 1.0:
		return LevelSevere
	case memFrac >= 0.85 || s.GCCPUFraction >= 0.25 || goroFrac >= 0.85:
		return LevelModerate
	case memFrac >= 0.70 || s.GCCPUFraction >= 0.10 || goroFrac >= 0.70:
		return LevelMinimal
	default:
		return LevelNone
	}
}

// Level returns the current degradation level.
func (m *Monitor) Level() Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// Snapshot returns the most recent sample.
func (m *Monitor) Snapshot() Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// SetLevel pins the level, overriding sampling until ClearOverride.
func (m *Monitor) SetLevel(l Level) {
	m.mu.Lock()
	m.overridden = true
	changed := l != m.level
	m.level = l
	m.mu.Unlock()

	if changed {
		m.notify(l)
	}
}

// ClearOverride returns control to the sampler.
func (m *Monitor) ClearOverride() {
	m.mu.Lock()
	m.overridden = false
	m.mu.Unlock()
}

// Subscribe returns a channel that receives the level on every change.
// Slow subscribers miss updates rather than blocking the monitor.
func (m *Monitor) Subscribe() <-chan Level {
	ch := make(chan Level, 8)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Monitor) notify(l Level) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- l:
		default:
		}
	}
}
