// Package tuning drives a black-box hyperparameter search over the
// QGGMRF/ProxMap prior parameters, the one sub-problem in a cone-beam
// reconstruction pipeline that has no closed form: the ICD update
// itself is an exact per-voxel minimizer, but the prior's shape
// parameters (p, q, T, sigma_x) trade off edge sharpness against noise
// in a way that is only evaluable by actually running a reconstruction
// and scoring the result.
package tuning

// Optimizer is a black-box minimizer: given an objective function and
// box bounds, it returns the best parameter vector found and its cost.
type Optimizer interface {
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}
