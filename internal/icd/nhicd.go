package icd

import (
	"math"
	"math/rand"
	"time"

	"github.com/cwbudde/conebeam-mbir/internal/volume"
)

// nhicdDecay is the fraction lastChange retains for a skipped voxel,
// so a partial zipline that goes quiet eventually re-enters the sweep.
const nhicdDecay = 0.5

// HotTracker owns the per-voxel lastChange magnitudes the NHICD policy
// reads and decays (updateNHICDStats's state).
type HotTracker struct {
	lastChange *volume.Array3D
}

// NewHotTracker allocates a zero-initialized tracker shaped like image.
func NewHotTracker(image *volume.Array3D) *HotTracker {
	return &HotTracker{lastChange: volume.New(image.D0, image.D1, image.D2)}
}

// Record stores the magnitude of the most recent update to voxel
// (jx,jy,jz) (updateNHICDStats, single-voxel form).
func (h *HotTracker) Record(jx, jy, jz int, alpha float64) {
	h.lastChange.Set(jx, jy, jz, float32(math.Abs(alpha)))
}

// Decay shrinks a skipped voxel's remembered last change.
func (h *HotTracker) Decay(jx, jy, jz int) {
	h.lastChange.Set(jx, jy, jz, h.lastChange.At(jx, jy, jz)*nhicdDecay)
}

// imageScale returns someScale(img): the RMS image value, the natural
// scale-free reference for the hot-voxel threshold.
func imageScale(image *volume.Array3D) float64 {
	var sumSq float64
	for _, v := range image.Data {
		fv := float64(v)
		sumSq += fv * fv
	}
	n := float64(len(image.Data))
	if n == 0 {
		return 0
	}
	return math.Sqrt(sumSq / n)
}

// IsVoxelHot reports whether voxel (jx,jy,jz)'s last recorded change
// exceeds lastChangeThreshold*someScale(img) (NHICD_isVoxelHot).
func (h *HotTracker) IsVoxelHot(jx, jy, jz int, image *volume.Array3D, lastChangeThreshold float64) bool {
	return math.Abs(float64(h.lastChange.At(jx, jy, jz))) > lastChangeThreshold*imageScale(image)
}

// IsPartialZiplineHot reports whether any voxel in [zStart,zStop) at
// (jx,jy) is hot (NHICD_checkPartialZiplineHot).
func (h *HotTracker) IsPartialZiplineHot(jx, jy, zStart, zStop int, image *volume.Array3D, lastChangeThreshold float64) bool {
	for jz := zStart; jz < zStop; jz++ {
		if h.IsVoxelHot(jx, jy, jz, image, lastChangeThreshold) {
			return true
		}
	}
	return false
}

// ActivatePartialUpdate reports whether the residual is small enough
// that concentrating work on hot regions should dominate the sweep
// (NHICD_activatePartialUpdate).
func ActivatePartialUpdate(relativeWeightedForwardError, activationThreshold float64) bool {
	return relativeWeightedForwardError < activationThreshold
}

// RunNHICDSweep performs one outer iteration of the NHICD-gated
// zipline sweep: once activated, only hot partial ziplines are
// updated; skipped ones decay toward eventual re-inclusion.
func (s *Solver) RunNHICDSweep(image, e, weights *volume.Array3D, tracker *HotTracker, rng *rand.Rand, relativeWeightedForwardError float64) (updated int, sumSquaredDelta float64, err error) {
	active := ActivatePartialUpdate(relativeWeightedForwardError, s.Params.ActivationThreshold)
	nx, ny, nz := image.D0, image.D1, image.D2

	order := rng.Perm(nx * ny)
	for _, idx := range order {
		jx, jy := idx/ny, idx%ny
		for zi := 0; ; zi++ {
			zStart, zStop := partialZiplineStartStop(zi, s.Params.NumVoxelsPerZipline, nz)
			if zStart >= nz {
				break
			}
			if active && !tracker.IsPartialZiplineHot(jx, jy, zStart, zStop, image, s.Params.LastChangeThreshold) {
				for jz := zStart; jz < zStop; jz++ {
					tracker.Decay(jx, jy, jz)
				}
				continue
			}
			for jz := zStart; jz < zStop; jz++ {
				alpha, uerr := s.updateVoxel(jx, jy, jz, image, e, weights)
				if uerr != nil {
					return updated, sumSquaredDelta, uerr
				}
				tracker.Record(jx, jy, jz, alpha)
				if alpha != 0 {
					updated++
				}
				sumSquaredDelta += alpha * alpha
			}
		}
	}
	return updated, sumSquaredDelta, nil
}

// RunNHICD sweeps to convergence or the iteration cap using the NHICD
// hot-voxel policy, the counterpart to RunZiplineParallel.
// relativeWeightedForwardError is tracked as the current iteration's
// weighted forward residual norm divided by the first iteration's, the
// scale-free reference ActivatePartialUpdate's threshold is defined
// against.
func (s *Solver) RunNHICD(image, e, weights *volume.Array3D) ([]IterationStats, error) {
	tracker := NewTracker()
	hot := NewHotTracker(image)
	rate := &RateTracker{}
	rng := rand.New(rand.NewSource(s.Params.Seed))
	start := time.Now()
	totalVoxels := image.D0 * image.D1 * image.D2

	var initialForwardError float64
	relativeWeightedForwardError := 1.0

	for it := 1; it <= s.Params.MaxIterations; it++ {
		iterStart := time.Now()
		rate.Reset(iterStart)

		updated, sumSquaredDelta, err := s.RunNHICDSweep(image, e, weights, hot, rng, relativeWeightedForwardError)
		if err != nil {
			return tracker.History(), err
		}
		rate.Update(int64(totalVoxels))

		if err := checkForNaN(e); err != nil {
			return tracker.History(), err
		}

		forwardError := weightedNormSquared(e, weights)
		if it == 1 {
			initialForwardError = forwardError
		}
		if initialForwardError > 0 {
			relativeWeightedForwardError = forwardError / initialForwardError
		} else {
			relativeWeightedForwardError = 0
		}

		relUpdate := computeRelUpdate(sumSquaredDelta, image)
		stats := tracker.Record(IterationStats{
			Iteration:            it,
			Cost:                 s.MAPCost(e, weights, image),
			RelUpdate:            relUpdate,
			WeightedNormSquaredE: forwardError,
			RatioUpdated:         float64(updated) / float64(totalVoxels),
			VoxelsPerSecond:      rate.VoxelsPerSecond(time.Now()),
			WallTime:             time.Since(start),
		})
		if s.OnIteration != nil {
			s.OnIteration(stats)
		}
		if relUpdate <= s.Params.StopThresholdChange {
			return tracker.History(), nil
		}
	}
	return tracker.History(), ErrNonConvergence
}
