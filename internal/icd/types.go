// Package icd implements Iterative Coordinate Descent reconstruction
// over a separable sparse system matrix: the serial per-voxel update,
// its ziplined parallel variant, the Non-Homogeneous ICD hot-voxel
// policy, and per-iteration cost/convergence statistics.
package icd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cwbudde/conebeam-mbir/internal/volume"
)

// PriorKind selects the regularization surrogate priorTerm uses.
type PriorKind int

const (
	PriorQGGMRF PriorKind = iota
	PriorProxMap
)

func (p PriorKind) String() string {
	if p == PriorProxMap {
		return "proxmap"
	}
	return "qggmrf"
}

// MarshalJSON renders a PriorKind as its string name, so a ReconParams
// JSON config file reads "prior": "qggmrf" rather than a bare integer.
func (p PriorKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts either "qggmrf"/"proxmap" or a raw integer.
func (p *PriorKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case "proxmap":
			*p = PriorProxMap
		case "qggmrf", "":
			*p = PriorQGGMRF
		default:
			return fmt.Errorf("icd: unknown prior %q", s)
		}
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("icd: invalid prior value: %w", err)
	}
	*p = PriorKind(n)
	return nil
}

// QGGMRFParams holds the Q-Generalized Gaussian Markov Random Field
// potential's shape parameters.
type QGGMRFParams struct {
	P      float64 `json:"p"`      // shape exponent in the tails (u >> T), typically in (1,2]
	Q      float64 `json:"q"`      // shape exponent near the origin (u << T), typically 2
	T      float64 `json:"t"`      // threshold separating the two regimes
	SigmaX float64 `json:"sigmaX"` // prior scale
}

// DefaultQGGMRFParams mirrors common defaults from the literature.
func DefaultQGGMRFParams() QGGMRFParams {
	return QGGMRFParams{P: 1.2, Q: 2.0, T: 1.0, SigmaX: 1.0}
}

// ProxMapParams holds the proximal-map prior's target and scale.
type ProxMapParams struct {
	SigmaP float64 `json:"sigmaP"`
}

// ReconParams bundles the per-reconstruction-run tunables: prior
// selection, box constraint, stopping criteria, and the NHICD policy
// knobs.
type ReconParams struct {
	Prior   PriorKind     `json:"prior"`
	QGGMRF  QGGMRFParams  `json:"qggmrf"`
	ProxMap ProxMapParams `json:"proxMap"`

	XLow  float64 `json:"xLow"`  // box constraint; XLow=0 enforces non-negativity
	XHigh float64 `json:"xHigh"`

	MaxIterations       int     `json:"maxIterations"`
	StopThresholdChange float64 `json:"stopThresholdChange"`

	NHICDEnabled        bool    `json:"nhicdEnabled"`
	LastChangeThreshold float64 `json:"lastChangeThreshold"`
	ActivationThreshold float64 `json:"activationThreshold"`
	NumVoxelsPerZipline int     `json:"numVoxelsPerZipline"`

	Seed int64 `json:"seed"`
}

// DefaultReconParams mirrors the non-negativity box constraint and a
// conservative NHICD configuration.
func DefaultReconParams() ReconParams {
	return ReconParams{
		Prior:               PriorQGGMRF,
		QGGMRF:              DefaultQGGMRFParams(),
		ProxMap:             ProxMapParams{SigmaP: 1.0},
		XLow:                0,
		XHigh:               1e9,
		MaxIterations:       20,
		StopThresholdChange: 0.01,
		NHICDEnabled:        false,
		LastChangeThreshold: 0.1,
		ActivationThreshold: 0.05,
		NumVoxelsPerZipline: 4,
		Seed:                1,
	}
}

func (p ReconParams) Validate() error {
	if p.MaxIterations <= 0 {
		return fmt.Errorf("icd: MaxIterations must be positive")
	}
	if p.XHigh < p.XLow {
		return fmt.Errorf("icd: XHigh must be >= XLow")
	}
	if p.NumVoxelsPerZipline <= 0 {
		return fmt.Errorf("icd: NumVoxelsPerZipline must be positive")
	}
	return nil
}

// LoadReconParams reads ReconParams from a JSON file, filling any
// field the file omits from DefaultReconParams first.
func LoadReconParams(path string) (ReconParams, error) {
	params := DefaultReconParams()
	data, err := os.ReadFile(path)
	if err != nil {
		return ReconParams{}, fmt.Errorf("icd: failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &params); err != nil {
		return ReconParams{}, fmt.Errorf("icd: failed to parse %s: %w", path, err)
	}
	return params, nil
}

// SaveReconParams writes params to path as pretty-printed JSON.
func SaveReconParams(path string, params ReconParams) error {
	data, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return fmt.Errorf("icd: failed to serialize recon params: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("icd: failed to write %s: %w", path, err)
	}
	return nil
}

// IterationStats is the driver's observable per-iteration output.
type IterationStats struct {
	Iteration            int
	Cost                 float64
	RelUpdate            float64
	WeightedNormSquaredE float64
	RatioUpdated         float64
	Equits               float64
	VoxelsPerSecond      float64
	WallTime             time.Duration
	NumericalWarning     bool
}

// ErrNumerical reports a surrogate coefficient theta2==0 paired with a
// non-zero theta1, or a NaN entering the error sinogram — both signal
// a degenerate voxel update that cannot produce a finite step.
var ErrNumerical = fmt.Errorf("icd: numerical error")

// ErrNonConvergence reports that the iteration cap was reached while
// RelUpdate still exceeds StopThresholdChange. Not a bug — a reported
// outcome.
var ErrNonConvergence = fmt.Errorf("icd: max iterations reached before convergence")

// state bundles the mutable arrays an ICD run owns for its duration.
type state struct {
	image, e, weights *volume.Array3D
}
