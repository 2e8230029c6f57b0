package tuning

import (
	"math/rand"

	"github.com/CWBudde/mayfly"
)

// MayflyAdapter wraps the external mayfly library to conform to the
// Optimizer interface.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
	variant  string // "standard", "desma", "olce", "eobbma", "gsasma", "mpma", "aoblmoa"
}

// NewMayfly creates a Mayfly optimizer adapter using the standard
// variant.
func NewMayfly(maxIters, popSize int, seed int64) Optimizer {
	return &MayflyAdapter{maxIters: maxIters, popSize: popSize, seed: seed, variant: "standard"}
}

// NewMayflyDESMA creates a Mayfly optimizer using the DESMA variant,
// better suited to the multi-modal cost surfaces a prior-parameter
// search over (p, q, T) tends to produce.
func NewMayflyDESMA(maxIters, popSize int, seed int64) Optimizer {
	return &MayflyAdapter{maxIters: maxIters, popSize: popSize, seed: seed, variant: "desma"}
}

// NewMayflyOLCE creates a Mayfly optimizer using the OLCE-MA variant.
func NewMayflyOLCE(maxIters, popSize int, seed int64) Optimizer {
	return &MayflyAdapter{maxIters: maxIters, popSize: popSize, seed: seed, variant: "olce"}
}

// Run executes the Mayfly optimization using the external library.
//
// mayfly.Config exposes a single scalar LowerBound/UpperBound pair,
// not a per-dimension box, so the search space is the hyper-cube
// [lower[0], upper[0]] repeated across all dim dimensions. Callers
// that need distinct per-dimension ranges (e.g. DefaultQGGMRFSearchBounds)
// must supply lower/upper slices that already share one common value
// across every entry; Run only reads lower[0]/upper[0].
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	var config *mayfly.Config
	switch m.variant {
	case "desma":
		config = mayfly.NewDESMAConfig()
	case "olce":
		config = mayfly.NewOLCEConfig()
	case "eobbma":
		config = mayfly.NewEOBBMAConfig()
	case "gsasma":
		config = mayfly.NewGSASMAConfig()
	case "mpma":
		config = mayfly.NewMPMAConfig()
	case "aoblmoa":
		config = mayfly.NewAOBLMOAConfig()
	default:
		config = mayfly.NewDefaultConfig()
	}

	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = lower[0]
	config.UpperBound = upper[0]
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		zero := make([]float64, dim)
		return zero, eval(zero)
	}
	return result.GlobalBest.Position, result.GlobalBest.Cost
}
