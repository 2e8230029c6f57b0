package store

import (
	"fmt"
	"time"
)

// ReconConfig holds the configuration a reconstruction run was started
// with (checkpoint copy, independent of the icd package to avoid an
// import cycle between store and icd/cmd).
type ReconConfig struct {
	SinogramPath  string `json:"sinogramPath"`
	SysMatrixPath string `json:"sysMatrixPath"`
	Prior         string `json:"prior"` // qggmrf, proxmap

	MaxIterations       int     `json:"maxIterations"`
	StopThresholdChange float64 `json:"stopThresholdChange"`
	NumVoxelsPerZipline int     `json:"numVoxelsPerZipline,omitempty"`
	Seed                int64   `json:"seed"`
}

// ReconCheckpoint represents a saved reconstruction state that can be
// resumed later. The reconstructed image itself is not embedded —
// volumes are tens of MB even for modest grids — only a path to the
// raw image snapshot alongside the scalar progress fields needed to
// validate and continue a run.
type ReconCheckpoint struct {
	// RunID is the unique identifier for this reconstruction run.
	RunID string `json:"runId"`

	// ImagePath points at the raw float32 image snapshot this
	// checkpoint was taken against (see internal/volume.WriteTo).
	ImagePath string `json:"imagePath"`

	// Cost is the MAP cost at this checkpoint.
	Cost float64 `json:"cost"`

	// InitialCost is the cost recorded at the run's first iteration,
	// for tracking improvement.
	InitialCost float64 `json:"initialCost"`

	// RelUpdate is the last recorded relative image update.
	RelUpdate float64 `json:"relUpdate"`

	// Iteration is the outer-loop iteration count at checkpoint time.
	Iteration int `json:"iteration"`

	// Equits is the cumulative equivalent-iterations count (NHICD may
	// update less than a full sweep's worth of voxels per iteration).
	Equits float64 `json:"equits"`

	// Timestamp records when this checkpoint was created.
	Timestamp time.Time `json:"timestamp"`

	// Config holds the run configuration, needed for validation during
	// resume: we only resume a run against the sinogram/matrix/prior it
	// started with.
	Config ReconConfig `json:"config"`
}

// CheckpointInfo contains metadata about a checkpoint without the
// image path, for listing checkpoints without touching the
// filesystem's image snapshots.
type CheckpointInfo struct {
	RunID        string    `json:"runId"`
	Cost         float64   `json:"cost"`
	Iteration    int       `json:"iteration"`
	Timestamp    time.Time `json:"timestamp"`
	Prior        string    `json:"prior"`
	SinogramPath string    `json:"sinogramPath"`
}

// NewCheckpoint creates a checkpoint from run state.
func NewCheckpoint(runID, imagePath string, cost, initialCost, relUpdate float64, iteration int, equits float64, config ReconConfig) *ReconCheckpoint {
	return &ReconCheckpoint{
		RunID:       runID,
		ImagePath:   imagePath,
		Cost:        cost,
		InitialCost: initialCost,
		RelUpdate:   relUpdate,
		Iteration:   iteration,
		Equits:      equits,
		Timestamp:   time.Now(),
		Config:      config,
	}
}

// ToInfo converts a full ReconCheckpoint to CheckpointInfo.
func (c *ReconCheckpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		RunID:        c.RunID,
		Cost:         c.Cost,
		Iteration:    c.Iteration,
		Timestamp:    c.Timestamp,
		Prior:        c.Config.Prior,
		SinogramPath: c.Config.SinogramPath,
	}
}

// Validate checks that the checkpoint has the fields a resume needs.
func (c *ReconCheckpoint) Validate() error {
	if c.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if c.ImagePath == "" {
		return &ValidationError{Field: "ImagePath", Reason: "cannot be empty"}
	}
	if c.Cost < 0 {
		return &ValidationError{Field: "Cost", Reason: "cannot be negative"}
	}
	if c.InitialCost < 0 {
		return &ValidationError{Field: "InitialCost", Reason: "cannot be negative"}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.SinogramPath == "" {
		return &ValidationError{Field: "Config.SinogramPath", Reason: "cannot be empty"}
	}
	if c.Config.SysMatrixPath == "" {
		return &ValidationError{Field: "Config.SysMatrixPath", Reason: "cannot be empty"}
	}
	if c.Config.Prior == "" {
		return &ValidationError{Field: "Config.Prior", Reason: "cannot be empty"}
	}
	if c.Config.MaxIterations <= 0 {
		return &ValidationError{Field: "Config.MaxIterations", Reason: "must be positive"}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks whether this checkpoint can be resumed with the
// given config: the run must target the same sinogram, system matrix,
// and prior it started with.
func (c *ReconCheckpoint) IsCompatible(config ReconConfig) error {
	if c.Config.SinogramPath != config.SinogramPath {
		return &CompatibilityError{
			Field:    "SinogramPath",
			Expected: c.Config.SinogramPath,
			Actual:   config.SinogramPath,
		}
	}
	if c.Config.SysMatrixPath != config.SysMatrixPath {
		return &CompatibilityError{
			Field:    "SysMatrixPath",
			Expected: c.Config.SysMatrixPath,
			Actual:   config.SysMatrixPath,
		}
	}
	if c.Config.Prior != config.Prior {
		return &CompatibilityError{
			Field:    "Prior",
			Expected: c.Config.Prior,
			Actual:   config.Prior,
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return fmt.Sprintf("compatibility error: %s mismatch (expected %s, got %s)", e.Field, e.Expected, e.Actual)
}
