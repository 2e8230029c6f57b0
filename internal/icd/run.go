package icd

import (
	"log/slog"
	"math"
	"time"

	"github.com/cwbudde/conebeam-mbir/internal/volume"
)

// RunSerial sweeps every voxel in raster order once per iteration,
// until RelUpdate drops at or below StopThresholdChange or
// MaxIterations is reached. Returns the recorded per-iteration stats
// and, if the cap was hit first, ErrNonConvergence — a reported
// outcome, not a bug.
func (s *Solver) RunSerial(image, e, weights *volume.Array3D) ([]IterationStats, error) {
	tracker := NewTracker()
	rate := &RateTracker{}
	start := time.Now()

	nx, ny, nz := image.D0, image.D1, image.D2
	totalVoxels := nx * ny * nz

	for it := 1; it <= s.Params.MaxIterations; it++ {
		iterStart := time.Now()
		rate.Reset(iterStart)
		var sumSquaredDelta float64
		updated := 0

		for jx := 0; jx < nx; jx++ {
			for jy := 0; jy < ny; jy++ {
				for jz := 0; jz < nz; jz++ {
					alpha, err := s.updateVoxel(jx, jy, jz, image, e, weights)
					if err != nil {
						return tracker.History(), err
					}
					if alpha != 0 {
						updated++
					}
					sumSquaredDelta += alpha * alpha
				}
			}
		}
		rate.Update(int64(totalVoxels))

		if err := checkForNaN(e); err != nil {
			return tracker.History(), err
		}

		relUpdate := computeRelUpdate(sumSquaredDelta, image)
		wNormSq := weightedNormSquared(e, weights)
		stats := tracker.Record(IterationStats{
			Iteration:            it,
			Cost:                 s.MAPCost(e, weights, image),
			RelUpdate:            relUpdate,
			WeightedNormSquaredE: wNormSq,
			RatioUpdated:         float64(updated) / float64(totalVoxels),
			VoxelsPerSecond:      rate.VoxelsPerSecond(time.Now()),
			WallTime:             time.Since(start),
		})
		slog.Info("icd iteration complete",
			"iteration", stats.Iteration, "cost", stats.Cost, "relUpdate", stats.RelUpdate,
			"voxelsPerSecond", stats.VoxelsPerSecond)
		if s.OnIteration != nil {
			s.OnIteration(stats)
		}

		if relUpdate <= s.Params.StopThresholdChange {
			return tracker.History(), nil
		}
	}
	return tracker.History(), ErrNonConvergence
}

func checkForNaN(e *volume.Array3D) error {
	for _, v := range e.Data {
		if math.IsNaN(float64(v)) {
			return ErrNumerical
		}
	}
	return nil
}

func weightedNormSquared(e, weights *volume.Array3D) float64 {
	var sum float64
	for i := range e.Data {
		w := float64(weights.Data[i])
		ei := float64(e.Data[i])
		sum += w * ei * ei
	}
	return sum
}
