package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/conebeam-mbir/internal/geom"
	"github.com/cwbudde/conebeam-mbir/internal/icd"
	"github.com/cwbudde/conebeam-mbir/internal/sysmatrix"
	"github.com/cwbudde/conebeam-mbir/internal/tuning"
	"github.com/cwbudde/conebeam-mbir/internal/volume"
)

var (
	tuneGeomPath      string
	tuneSysMatrixPath string
	tuneSinoPath      string
	tuneOutPath       string
	tuneIters         int
	tunePopSize       int
	tuneSeed          int64
	tuneEvalIters     int
	tuneVariant       string
)

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Search QGGMRF prior hyperparameters with a Mayfly optimizer",
	Long: `Runs a mayfly-driven black-box search over the QGGMRF prior's shape
parameters (p, q, T, sigma_x), scoring each candidate by actually running a
short reconstruction against the given sinogram and reading off its final
MAP cost — there is no closed form for this sub-problem.`,
	RunE: runTune,
}

func init() {
	tuneCmd.Flags().StringVar(&tuneGeomPath, "geom", "", "Geometry JSON path (required)")
	tuneCmd.Flags().StringVar(&tuneSysMatrixPath, "sysmatrix", "", "System matrix path (required)")
	tuneCmd.Flags().StringVar(&tuneSinoPath, "sino", "", "Sinogram raw float32 path (required)")
	tuneCmd.Flags().StringVar(&tuneOutPath, "out", "", "Best-found QGGMRFParams JSON output path (required)")
	tuneCmd.Flags().IntVar(&tuneIters, "iters", 100, "Mayfly max iterations")
	tuneCmd.Flags().IntVar(&tunePopSize, "pop", 20, "Mayfly population size")
	tuneCmd.Flags().Int64Var(&tuneSeed, "seed", 42, "Mayfly random seed")
	tuneCmd.Flags().IntVar(&tuneEvalIters, "eval-iterations", 3, "ICD sweeps run per candidate evaluation")
	tuneCmd.Flags().StringVar(&tuneVariant, "variant", "standard", "Mayfly variant: standard, desma, olce")
	tuneCmd.MarkFlagRequired("geom")
	tuneCmd.MarkFlagRequired("sysmatrix")
	tuneCmd.MarkFlagRequired("sino")
	tuneCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(tuneCmd)
}

func runTune(cmd *cobra.Command, args []string) error {
	g, err := geom.Load(tuneGeomPath)
	if err != nil {
		return fmt.Errorf("failed to load geometry: %w", err)
	}

	a, err := sysmatrix.Read(tuneSysMatrixPath, g)
	if err != nil {
		return fmt.Errorf("failed to load system matrix: %w", err)
	}

	sino, err := volume.Load(tuneSinoPath, g.Sino.NBeta, g.Sino.NDv, g.Sino.NDw)
	if err != nil {
		return fmt.Errorf("failed to load sinogram: %w", err)
	}

	weights := volume.NewSinogram(g)
	weights.Fill(1)

	problem := tuning.CalibrationProblem{
		Geom:              g,
		Matrix:            a,
		Sinogram:          sino,
		Weights:           weights,
		IterationsPerEval: tuneEvalIters,
	}

	var opt tuning.Optimizer
	switch tuneVariant {
	case "desma":
		opt = tuning.NewMayflyDESMA(tuneIters, tunePopSize, tuneSeed)
	case "olce":
		opt = tuning.NewMayflyOLCE(tuneIters, tunePopSize, tuneSeed)
	default:
		opt = tuning.NewMayfly(tuneIters, tunePopSize, tuneSeed)
	}

	lower, upper := tuning.DefaultQGGMRFSearchBounds()

	slog.Info("starting hyperparameter search",
		"variant", tuneVariant, "iters", tuneIters, "pop", tunePopSize, "evalIterations", tuneEvalIters)

	start := time.Now()
	best, cost, err := tuning.TuneQGGMRF(opt, problem, lower, upper)
	if err != nil {
		return fmt.Errorf("hyperparameter search failed: %w", err)
	}
	elapsed := time.Since(start)

	params := icd.DefaultReconParams()
	params.Prior = icd.PriorQGGMRF
	params.QGGMRF = best
	if err := icd.SaveReconParams(tuneOutPath, params); err != nil {
		return fmt.Errorf("failed to write tuned recon params: %w", err)
	}

	slog.Info("hyperparameter search complete",
		"elapsed", elapsed, "p", best.P, "q", best.Q, "t", best.T, "sigmaX", best.SigmaX, "cost", cost)
	fmt.Printf("Wrote %s (p=%.4f q=%.4f T=%.4f sigmaX=%.4f, cost=%.6g, elapsed %s)\n",
		tuneOutPath, best.P, best.Q, best.T, best.SigmaX, cost, elapsed)
	return nil
}
