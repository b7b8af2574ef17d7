//go:build linux

package metrics

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// Sample is the point-in-time per-pid metric report after baseline
// subtraction (spec.md §4.6).
type Sample struct {
	PID         int
	CPUPercent  float64
	RSSBytes    int64
	ElapsedMs   int64
	NetRxBytes  int64 // not separable per-pid without netns accounting; left 0
	NetTxBytes  int64
	DiskReadB   int64
	DiskWriteB  int64
}

// TokenUsage is the per-session token/cost counter (spec.md §4.6).
type TokenUsage struct {
	InputTokens   int64
	OutputTokens  int64
	TotalTokens   int64
	EstimatedCost float64
}

// ModelRate is a model's (input $/1M tokens, output $/1M tokens) pair.
type ModelRate struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultModelRate is used for any model absent from the cost table.
var DefaultModelRate = ModelRate{InputPerMillion: 3.0, OutputPerMillion: 15.0}

// defaultCostTable is a small seed of well-known model pricing; callers may
// extend it via Collector.SetModelRate.
var defaultCostTable = map[string]ModelRate{
	"claude-3-opus":   {InputPerMillion: 15.0, OutputPerMillion: 75.0},
	"claude-3-sonnet": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	"claude-3-haiku":  {InputPerMillion: 0.25, OutputPerMillion: 1.25},
	"gpt-4o":          {InputPerMillion: 2.5, OutputPerMillion: 10.0},
	"gpt-4o-mini":     {InputPerMillion: 0.15, OutputPerMillion: 0.6},
}

type baseline struct {
	sample    procSample
	firstSeen time.Time
}

// WorkspaceUsage is the result of a recursive workspace size walk.
type WorkspaceUsage struct {
	TotalBytes  int64
	FileCount   int
	LargestFile int64
}

// Aggregate is the system-wide snapshot summed across active sessions.
type Aggregate struct {
	SessionCount    int
	TotalCPUPercent float64
	TotalRSSBytes   int64
	TotalTokens     int64
	TotalCostUSD    float64
}

// skippedWalkDirs mirrors the workspace package's ignore list for
// heavyweight subdirectories a storage walk should not descend into.
var skippedWalkDirs = map[string]bool{
	".git": true, "node_modules": true, ".venv": true, "venv": true,
	"__pycache__": true, "dist": true, "build": true, "target": true,
	".cache": true, ".next": true, "vendor": true, ".idea": true,
}

// Collector owns per-pid baselines and per-session token counters.
// Grounded on cgroup.go's per-session keyed accounting, generalized to a
// mutex-guarded map keyed by pid/sessionId rather than a kernel cgroup.
type Collector struct {
	mu         sync.Mutex
	baselines  map[int]*baseline
	tokens     map[string]*TokenUsage // sessionId -> usage
	modelRates map[string]ModelRate
}

// NewCollector constructs a Collector with the seed cost table.
func NewCollector() *Collector {
	rates := make(map[string]ModelRate, len(defaultCostTable))
	for k, v := range defaultCostTable {
		rates[k] = v
	}
	return &Collector{
		baselines:  make(map[int]*baseline),
		tokens:     make(map[string]*TokenUsage),
		modelRates: rates,
	}
}

// SetModelRate overrides or adds a model's cost rate.
func (c *Collector) SetModelRate(model string, rate ModelRate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modelRates[model] = rate
}

// Sample reports deltas for pid since its first observation. The first
// call for a pid establishes the baseline and reports all-zero deltas.
func (c *Collector) Sample(pid int) (*Sample, error) {
	raw, err := readProcSample(pid)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.baselines[pid]
	if !ok {
		b = &baseline{sample: *raw, firstSeen: time.Now()}
		c.baselines[pid] = b
		return &Sample{PID: pid, RSSBytes: raw.rssPages * pageSize}, nil
	}

	elapsed := time.Since(b.firstSeen)
	cpuTicks := deltaUint(raw.utimeTicks+raw.stimeTicks, b.sample.utimeTicks+b.sample.stimeTicks)
	cpuSeconds := float64(cpuTicks) / clockTicksPerSec
	var cpuPercent float64
	if elapsed > 0 {
		cpuPercent = 100 * cpuSeconds / elapsed.Seconds()
	}

	return &Sample{
		PID:        pid,
		CPUPercent: cpuPercent,
		RSSBytes:   raw.rssPages * pageSize,
		ElapsedMs:  elapsed.Milliseconds(),
		DiskReadB:  int64(deltaUint(raw.readBytes, b.sample.readBytes)),
		DiskWriteB: int64(deltaUint(raw.writeBytes, b.sample.writeBytes)),
	}, nil
}

func deltaUint(current, baseline uint64) uint64 {
	if current < baseline {
		return 0
	}
	return current - baseline
}

// DropBaseline discards a pid's baseline — called when a session ends or
// the pid is confirmed no longer valid (spec.md §4.6).
func (c *Collector) DropBaseline(pid int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.baselines, pid)
}

// RecordUsage accumulates token usage for a session and returns the
// updated total with cost estimated from the model-rate table.
func (c *Collector) RecordUsage(sessionID, model string, inputTokens, outputTokens int64) *TokenUsage {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.tokens[sessionID]
	if !ok {
		u = &TokenUsage{}
		c.tokens[sessionID] = u
	}
	u.InputTokens += inputTokens
	u.OutputTokens += outputTokens
	u.TotalTokens = u.InputTokens + u.OutputTokens

	rate, ok := c.modelRates[model]
	if !ok {
		rate = DefaultModelRate
	}
	u.EstimatedCost = (float64(u.InputTokens)/1_000_000)*rate.InputPerMillion +
		(float64(u.OutputTokens)/1_000_000)*rate.OutputPerMillion

	return &TokenUsage{
		InputTokens:   u.InputTokens,
		OutputTokens:  u.OutputTokens,
		TotalTokens:   u.TotalTokens,
		EstimatedCost: u.EstimatedCost,
	}
}

// Usage returns a session's current token usage, or zero-value if none
// has been recorded.
func (c *Collector) Usage(sessionID string) TokenUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u, ok := c.tokens[sessionID]; ok {
		return *u
	}
	return TokenUsage{}
}

// DropSession discards a session's token counters.
func (c *Collector) DropSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, sessionID)
}

// WalkWorkspace returns a best-effort recursive size summary, skipping
// well-known heavyweight subdirectories (spec.md §4.6).
func WalkWorkspace(root string) (*WorkspaceUsage, error) {
	usage := &WorkspaceUsage{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort: skip unreadable entries
		}
		if d.IsDir() {
			if skippedWalkDirs[d.Name()] && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		usage.TotalBytes += info.Size()
		usage.FileCount++
		if info.Size() > usage.LargestFile {
			usage.LargestFile = info.Size()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("metrics: walk workspace %s: %w", root, err)
	}
	return usage, nil
}

// SessionResource pairs a session id with its live pid (if any) for
// aggregation — sessions with no live pid count toward SessionCount but
// contribute zero to resource totals (spec.md §4.6).
type SessionResource struct {
	SessionID string
	PID       int // 0 if no live pid
}

// Aggregate sums metrics across the given sessions.
func (c *Collector) Aggregate(sessions []SessionResource) Aggregate {
	agg := Aggregate{SessionCount: len(sessions)}
	for _, s := range sessions {
		if s.PID > 0 && pidAlive(s.PID) {
			if sample, err := c.Sample(s.PID); err == nil {
				agg.TotalCPUPercent += sample.CPUPercent
				agg.TotalRSSBytes += sample.RSSBytes
			}
		}
		usage := c.Usage(s.SessionID)
		agg.TotalTokens += usage.TotalTokens
		agg.TotalCostUSD += usage.EstimatedCost
	}
	return agg
}

// BroadcastInterval is the fixed cadence for the live-metrics broadcast
// channel (spec.md §4.6 "~2s").
const BroadcastInterval = 2 * time.Second

// RunBroadcast calls emit with a fresh Aggregate every BroadcastInterval
// until ctx is cancelled. sessions is re-evaluated on each tick so newly
// created/stopped sessions are reflected without restarting the loop.
func (c *Collector) RunBroadcast(ctx context.Context, sessions func() []SessionResource, emit func(Aggregate)) {
	ticker := time.NewTicker(BroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			emit(c.Aggregate(sessions()))
		}
	}
}
