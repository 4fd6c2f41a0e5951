package main

import (
	"context"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// MemoryState is the Memory Governor's escalation level.
type MemoryState int

const (
	MemoryNormal MemoryState = iota
	MemoryWarning
	MemoryCritical
)

func (s MemoryState) String() string {
	switch s {
	case MemoryWarning:
		return "warning"
	case MemoryCritical:
		return "critical"
	default:
		return "normal"
	}
}

// MemoryGovernor periodically samples process RSS against the effective
// memory limit (cgroup limit when containerized, else host total) and
// escalates through normal -> warning -> critical. On critical, it
// reclaims the Entropy Mixer's in-flight buffer and asks the Go runtime
// to return memory to the OS; the Dedup Filter is left untouched since
// discarding it would reopen cross-source duplicates the pipeline has
// already paid to suppress.
type MemoryGovernor struct {
	interval          time.Duration
	warningPercent    float64
	criticalPercent   float64
	limitBytes        int64
	proc              *process.Process
	mixer             interface{ ClearBuffer() }
	logger            zerolog.Logger
	onStateChange     func(prev, next MemoryState)
}

// MemoryGovernorConfig configures a MemoryGovernor.
type MemoryGovernorConfig struct {
	Interval        time.Duration
	WarningPercent  float64
	CriticalPercent float64
	Mixer           interface{ ClearBuffer() }
	Logger          *zerolog.Logger
	OnStateChange   func(prev, next MemoryState)
}

// NewMemoryGovernor constructs a MemoryGovernor bound to the current
// process. It resolves the effective memory limit once at construction;
// a containerized process's cgroup limit does not change at runtime.
func NewMemoryGovernor(cfg MemoryGovernorConfig) (*MemoryGovernor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	limit, err := effectiveMemoryLimitBytes()
	if err != nil || limit <= 0 {
		limit = 1 << 30 // 1GiB conservative fallback if neither cgroup nor gopsutil resolve
	}

	g := &MemoryGovernor{
		interval:        cfg.Interval,
		warningPercent:  cfg.WarningPercent,
		criticalPercent: cfg.CriticalPercent,
		limitBytes:      limit,
		proc:            proc,
		mixer:           cfg.Mixer,
		onStateChange:   cfg.OnStateChange,
	}
	if cfg.Logger != nil {
		g.logger = cfg.Logger.With().Str("component", "memory_governor").Logger()
	} else {
		g.logger = zerolog.Nop()
	}
	return g, nil
}

// Run samples memory on a ticker until ctx is cancelled.
func (g *MemoryGovernor) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	state := MemoryNormal
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state = g.check(state)
		}
	}
}

func (g *MemoryGovernor) check(prev MemoryState) MemoryState {
	memInfo, err := g.proc.MemoryInfo()
	if err != nil {
		g.logger.Warn().Err(err).Msg("failed to read process memory info")
		return prev
	}

	rss := memInfo.RSS
	percent := float64(rss) / float64(g.limitBytes) * 100

	memoryRSSBytes.Set(float64(rss))
	memoryPercent.Set(percent)

	next := MemoryNormal
	switch {
	case percent >= g.criticalPercent:
		next = MemoryCritical
	case percent >= g.warningPercent:
		next = MemoryWarning
	}
	memoryStatus.Set(float64(next))

	if next != prev {
		g.logger.Warn().
			Str("previous_state", prev.String()).
			Str("state", next.String()).
			Float64("percent", percent).
			Uint64("rss_bytes", rss).
			Msg("memory governor state transition")
		if g.onStateChange != nil {
			g.onStateChange(prev, next)
		}
	} else {
		g.logger.Debug().
			Str("state", next.String()).
			Float64("percent", percent).
			Uint64("rss_bytes", rss).
			Msg("memory check")
	}

	switch next {
	case MemoryCritical:
		g.reclaim()
	case MemoryWarning:
		runtime.GC()
	}

	return next
}

// reclaim discards the mixer's incomplete batch and returns free heap
// pages to the OS.
func (g *MemoryGovernor) reclaim() {
	if g.mixer != nil {
		g.mixer.ClearBuffer()
		memoryReclaims.Inc()
		g.logger.Warn().Msg("critical memory pressure: cleared in-flight mixer buffer")
	}
	runtime.GC()
	debug.FreeOSMemory()
}
