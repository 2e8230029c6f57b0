package icd

import (
	"log/slog"
	"math"
	"time"

	"github.com/cwbudde/conebeam-mbir/internal/volume"
)

// RateTracker accumulates voxel-update counts over wall time, the Go
// analogue of SpeedAuxICD's reset/update/computeSpeed trio.
type RateTracker struct {
	started time.Time
	count   int64
}

// Reset starts a new measurement window (speedAuxICD_reset).
func (r *RateTracker) Reset(now time.Time) {
	r.started = now
	r.count = 0
}

// Update accumulates n newly-updated voxels (speedAuxICD_update).
func (r *RateTracker) Update(n int64) {
	r.count += n
}

// VoxelsPerSecond returns the rate since the last Reset
// (speedAuxICD_computeSpeed).
func (r *RateTracker) VoxelsPerSecond(now time.Time) float64 {
	elapsed := now.Sub(r.started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(r.count) / elapsed
}

// computeRelUpdate returns the iteration's RMS voxel change
// normalized by the image's RMS value, guarding against a
// all-zero image denominator.
func computeRelUpdate(sumSquaredDelta float64, image *volume.Array3D) float64 {
	var sumSquaredX float64
	for _, v := range image.Data {
		fv := float64(v)
		sumSquaredX += fv * fv
	}
	n := float64(len(image.Data))
	if sumSquaredX == 0 {
		return 0
	}
	return math.Sqrt(sumSquaredDelta/n) / math.Sqrt(sumSquaredX/n)
}

// Tracker accumulates per-iteration statistics across an ICD run and
// logs them through the default slog logger.
type Tracker struct {
	history      []IterationStats
	equitsToDate float64
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Reset clears accumulated history.
func (t *Tracker) Reset() {
	t.history = nil
	t.equitsToDate = 0
}

// Record appends stats, carries the running equit total forward, and
// logs a debug line.
func (t *Tracker) Record(stats IterationStats) IterationStats {
	t.equitsToDate += stats.RatioUpdated
	stats.Equits = t.equitsToDate
	t.history = append(t.history, stats)
	slog.Debug("icd iteration",
		"iteration", stats.Iteration,
		"cost", stats.Cost,
		"relUpdate", stats.RelUpdate,
		"ratioUpdated", stats.RatioUpdated,
		"equits", stats.Equits,
		"voxelsPerSecond", stats.VoxelsPerSecond,
	)
	return stats
}

// History returns the recorded stats in iteration order.
func (t *Tracker) History() []IterationStats {
	return t.history
}

// Converged reports whether the last recorded RelUpdate is at or
// below threshold.
func (t *Tracker) Converged(threshold float64) bool {
	if len(t.history) == 0 {
		return false
	}
	return t.history[len(t.history)-1].RelUpdate <= threshold
}
