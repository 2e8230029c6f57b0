package icd

import (
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/cwbudde/conebeam-mbir/internal/volume"
)

// shuffleOrderXY returns a deterministic (seed-given) random
// permutation of the N_x*N_y in-plane (j_x,j_y) pairs, the Go
// analogue of RandomAux_ShuffleOrderXYZ restricted to the xy plane
// (the zipline variant only randomizes the plane a z-column shares).
func shuffleOrderXY(nx, ny int, rng *rand.Rand) [][2]int {
	pairs := make([][2]int, 0, nx*ny)
	for jx := 0; jx < nx; jx++ {
		for jy := 0; jy < ny; jy++ {
			pairs = append(pairs, [2]int{jx, jy})
		}
	}
	rng.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
	return pairs
}

// partialZiplineStartStop computes [j_z_start, j_z_stop) for the
// indexZiplines-th partial zipline of length numVoxelsPerZipline along
// a z-column of length nz, per
// partialZipline_computeStartStopIndex.
func partialZiplineStartStop(indexZiplines, numVoxelsPerZipline, nz int) (start, stop int) {
	start = indexZiplines * numVoxelsPerZipline
	if start >= nz {
		return nz, nz
	}
	stop = start + numVoxelsPerZipline
	if stop > nz {
		stop = nz
	}
	return start, stop
}

// RunZiplineSweep performs one outer iteration of the ziplined
// parallel ICD variant: shuffle (j_x,j_y) order, then for each pair
// process successive partial ziplines, updating the voxels within a
// zipline concurrently (their w-windows are disjoint by construction —
// the correctness pivot this parallelization scheme depends on), then
// applying image/error-sinogram updates sequentially.
func (s *Solver) RunZiplineSweep(image, e, weights *volume.Array3D, rng *rand.Rand) (updated int, sumSquaredDelta float64, err error) {
	nx, ny, nz := image.D0, image.D1, image.D2
	order := shuffleOrderXY(nx, ny, rng)
	numWorkers := runtime.GOMAXPROCS(0)

	for _, pair := range order {
		jx, jy := pair[0], pair[1]
		for zi := 0; ; zi++ {
			zStart, zStop := partialZiplineStartStop(zi, s.Params.NumVoxelsPerZipline, nz)
			if zStart >= nz {
				break
			}
			n := zStop - zStart
			if n <= 0 {
				continue
			}

			assertZiplineDisjoint(s.A, jx, jy, zStart, zStop)

			type result struct {
				jz            int
				alpha         float64
				theta1, theta2 float64
			}
			results := make([]result, n)

			sem := make(chan struct{}, numWorkers)
			var wg sync.WaitGroup
			eSnapshot := e // reads only during the parallel phase
			for k := 0; k < n; k++ {
				jz := zStart + k
				wg.Add(1)
				sem <- struct{}{}
				go func(k, jz int) {
					defer wg.Done()
					defer func() { <-sem }()
					t1f, t2f := s.forwardTerm(jx, jy, jz, eSnapshot, weights)
					t1p, t2p := s.priorTerm(jx, jy, jz, image)
					results[k] = result{jz: jz, theta1: t1f + t1p, theta2: t2f + t2p}
				}(k, jz)
			}
			wg.Wait()

			for k := 0; k < n; k++ {
				jz := results[k].jz
				var alpha float64
				if results[k].theta2 == 0 {
					if results[k].theta1 != 0 {
						return updated, sumSquaredDelta, ErrNumerical
					}
					alpha = 0
				} else {
					alpha = -results[k].theta1 / results[k].theta2
				}
				xj := float64(image.At(jx, jy, jz))
				lo, hi := s.Params.XLow-xj, s.Params.XHigh-xj
				if alpha < lo {
					alpha = lo
				}
				if alpha > hi {
					alpha = hi
				}
				if alpha != 0 {
					updated++
					image.Add(jx, jy, jz, float32(alpha))
					s.forwardSupport(jx, jy, jz, func(ib, iv, iw int, aij float64) {
						e.Add(ib, iv, iw, -float32(aij*alpha))
					})
				}
				sumSquaredDelta += alpha * alpha
			}
		}
	}
	return updated, sumSquaredDelta, nil
}

// RunZiplineParallel sweeps until convergence or the iteration cap,
// the ziplined counterpart to RunSerial.
func (s *Solver) RunZiplineParallel(image, e, weights *volume.Array3D) ([]IterationStats, error) {
	tracker := NewTracker()
	rate := &RateTracker{}
	rng := rand.New(rand.NewSource(s.Params.Seed))
	start := time.Now()
	totalVoxels := image.D0 * image.D1 * image.D2

	for it := 1; it <= s.Params.MaxIterations; it++ {
		iterStart := time.Now()
		rate.Reset(iterStart)

		updated, sumSquaredDelta, err := s.RunZiplineSweep(image, e, weights, rng)
		if err != nil {
			return tracker.History(), err
		}
		rate.Update(int64(totalVoxels))

		if err := checkForNaN(e); err != nil {
			return tracker.History(), err
		}

		relUpdate := computeRelUpdate(sumSquaredDelta, image)
		stats := tracker.Record(IterationStats{
			Iteration:            it,
			Cost:                 s.MAPCost(e, weights, image),
			RelUpdate:            relUpdate,
			WeightedNormSquaredE: weightedNormSquared(e, weights),
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
