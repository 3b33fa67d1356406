// Package stats keeps rolling-window statistics about chunking runs.
package stats

import (
	"slices"
	"sync"
	"time"
)

// run is one chunking pass over one document.
type run struct {
	at         time.Time
	format     string
	durationMs int64
	chunks     int
}

// Latency summarizes run durations.
type Latency struct {
	MinMs int64   `json:"min_ms"`
	MaxMs int64   `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// Output summarizes how many chunks runs produced.
type Output struct {
	Total     int     `json:"total"`
	AvgPerRun float64 `json:"avg_per_run"`
	MaxPerRun int     `json:"max_per_run"`
	EmptyRuns int     `json:"empty_runs"`
}

// FormatStats is the per-source-format breakdown.
type FormatStats struct {
	Runs   int     `json:"runs"`
	Chunks int     `json:"chunks"`
	AvgMs  float64 `json:"avg_ms"`
}

// Snapshot is a point-in-time aggregate of the runs inside the window.
type Snapshot struct {
	Count    int                    `json:"count"`
	Latency  Latency                `json:"latency"`
	Chunks   Output                 `json:"chunks"`
	ByFormat map[string]FormatStats `json:"by_format"`
}

// ChunkStats records chunking runs within a rolling window.
type ChunkStats struct {
	mu     sync.Mutex
	runs   []run
	window time.Duration
}

func New(window time.Duration) *ChunkStats {
	if window <= 0 {
		window = time.Hour
	}
	return &ChunkStats{
		runs:   make([]run, 0, 256),
		window: window,
	}
}

// Observe records a run that started at start and produced chunks chunks.
// format is the source format, e.g. "html" or "pdf".
func (s *ChunkStats) Observe(format string, start time.Time, chunks int) {
	s.Record(format, time.Since(start).Milliseconds(), chunks)
}

func (s *ChunkStats) Record(format string, durationMs int64, chunks int) {
	if format == "" {
		format = "unknown"
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	s.runs = append(s.runs, run{
		at:         now,
		format:     format,
		durationMs: max(durationMs, 0),
		chunks:     max(chunks, 0),
	})
}

func (s *ChunkStats) Snapshot() Snapshot {
	now := time.Now()

	s.mu.Lock()
	s.pruneLocked(now)
	runs := slices.Clone(s.runs)
	s.mu.Unlock()

	snap := Snapshot{ByFormat: map[string]FormatStats{}}
	if len(runs) == 0 {
		return snap
	}

	durations := make([]int64, 0, len(runs))
	var totalMs int64
	msByFormat := map[string]int64{}
	for _, r := range runs {
		durations = append(durations, r.durationMs)
		totalMs += r.durationMs

		snap.Chunks.Total += r.chunks
		snap.Chunks.MaxPerRun = max(snap.Chunks.MaxPerRun, r.chunks)
		if r.chunks == 0 {
			snap.Chunks.EmptyRuns++
		}

		f := snap.ByFormat[r.format]
		f.Runs++
		f.Chunks += r.chunks
		snap.ByFormat[r.format] = f
		msByFormat[r.format] += r.durationMs
	}
	for name, f := range snap.ByFormat {
		f.AvgMs = float64(msByFormat[name]) / float64(f.Runs)
		snap.ByFormat[name] = f
	}
	slices.Sort(durations)

	n := len(runs)
	snap.Count = n
	snap.Chunks.AvgPerRun = float64(snap.Chunks.Total) / float64(n)
	snap.Latency = Latency{
		MinMs: durations[0],
		MaxMs: durations[n-1],
		AvgMs: float64(totalMs) / float64(n),
		P50Ms: percentile(durations, 50),
		P95Ms: percentile(durations, 95),
		P99Ms: percentile(durations, 99),
	}
	return snap
}

func (s *ChunkStats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	s.runs = slices.DeleteFunc(s.runs, func(r run) bool {
		return r.at.Before(cutoff)
	})
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []int64, pct float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case pct <= 0:
		return float64(sorted[0])
	case pct >= 100:
		return float64(sorted[len(sorted)-1])
	}

	rank := float64(len(sorted)-1) * pct / 100
	lower := int(rank)
	if lower+1 >= len(sorted) {
		return float64(sorted[lower])
	}
	lo, hi := float64(sorted[lower]), float64(sorted[lower+1])
	return lo + (hi-lo)*(rank-float64(lower))
}
