package tuning

import (
	"fmt"
	"math"

	"github.com/cwbudde/conebeam-mbir/internal/geom"
	"github.com/cwbudde/conebeam-mbir/internal/icd"
	"github.com/cwbudde/conebeam-mbir/internal/sysmatrix"
	"github.com/cwbudde/conebeam-mbir/internal/volume"
)

// CalibrationProblem bundles the fixed inputs a hyperparameter search
// evaluates candidate priors against: a (typically downsampled)
// geometry, its precomputed system matrix, and an observed sinogram.
type CalibrationProblem struct {
	Geom              *geom.GeomParams
	Matrix            *sysmatrix.SysMatrix
	Sinogram          *volume.Array3D
	Weights           *volume.Array3D
	IterationsPerEval int
}

// qggmrfDim is the number of free QGGMRF shape parameters searched:
// p, q, T, sigma_x.
const qggmrfDim = 4

// qggmrfSharedLower and qggmrfSharedUpper bound all four QGGMRF shape
// parameters (p, q, T, sigma_x) within a single shared box: the mayfly
// optimizer's Config exposes one scalar LowerBound/UpperBound pair
// applied to every search dimension, not a per-dimension box, so the
// box has to be a range valid for all four parameters at once. [1.01,
// 2.0] keeps p in the near-quadratic-to-near-L1 range the QGGMRF
// potential is meant to interpolate across, while still being a
// sensible (if narrower than ideal) positive range for q, T and
// sigma_x.
const (
	qggmrfSharedLower = 1.01
	qggmrfSharedUpper = 2.0
)

// DefaultQGGMRFSearchBounds returns the lower/upper bound vectors for
// (p, q, T, sigma_x). All four share the same [qggmrfSharedLower,
// qggmrfSharedUpper] box — see the comment on those constants.
func DefaultQGGMRFSearchBounds() (lower, upper []float64) {
	lower = make([]float64, qggmrfDim)
	upper = make([]float64, qggmrfDim)
	for i := range lower {
		lower[i] = qggmrfSharedLower
		upper[i] = qggmrfSharedUpper
	}
	return lower, upper
}

// TuneQGGMRF runs opt over the calibration problem's reconstruction
// cost as a function of (p, q, T, sigma_x), returning the best prior
// parameters found and the MAP cost they achieved after
// IterationsPerEval sweeps from a zero-initialized image.
func TuneQGGMRF(opt Optimizer, problem CalibrationProblem, lower, upper []float64) (icd.QGGMRFParams, float64, error) {
	if len(lower) != qggmrfDim || len(upper) != qggmrfDim {
		return icd.QGGMRFParams{}, 0, fmt.Errorf("tuning: bounds must have length %d (p,q,T,sigmaX)", qggmrfDim)
	}

	eval := func(x []float64) float64 {
		params := icd.DefaultReconParams()
		params.Prior = icd.PriorQGGMRF
		params.QGGMRF = icd.QGGMRFParams{P: x[0], Q: x[1], T: x[2], SigmaX: x[3]}
		params.MaxIterations = problem.IterationsPerEval
		params.StopThresholdChange = -1 // always run the full budget during search

		solver, err := icd.NewSolver(problem.Geom, problem.Matrix, params)
		if err != nil {
			return math.Inf(1)
		}

		image := volume.NewImage(problem.Geom)
		e := problem.Sinogram.Clone()
		stats, err := solver.RunSerial(image, e, problem.Weights)
		if err != nil && err != icd.ErrNonConvergence {
			return math.Inf(1)
		}
		if len(stats) == 0 {
			return math.Inf(1)
		}
		return stats[len(stats)-1].Cost
	}

	best, cost := opt.Run(eval, lower, upper, qggmrfDim)
	return icd.QGGMRFParams{P: best[0], Q: best[1], T: best[2], SigmaX: best[3]}, cost, nil
}
