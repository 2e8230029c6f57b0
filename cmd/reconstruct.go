package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/conebeam-mbir/internal/geom"
	"github.com/cwbudde/conebeam-mbir/internal/icd"
	"github.com/cwbudde/conebeam-mbir/internal/store"
	"github.com/cwbudde/conebeam-mbir/internal/sysmatrix"
	"github.com/cwbudde/conebeam-mbir/internal/volume"
)

var (
	reconGeomPath          string
	reconSysMatrixPath     string
	reconSinoPath          string
	reconOutPath           string
	reconParamsPath        string
	reconSeed               int64
	reconMaxIterations      int
	reconStopThreshold      float64
	reconNHICD              bool
	reconCheckpointInterval int
	reconCheckpointDir      string
)

var reconstructCmd = &cobra.Command{
	Use:   "reconstruct",
	Short: "Reconstruct a volume from a sinogram with ICD",
	Long: `Runs Iterative Coordinate Descent against a precomputed system matrix
and an observed sinogram, optionally parallelized over ziplines and gated
by the NHICD hot-voxel policy, checkpointing progress periodically.`,
	RunE: runReconstruct,
}

func init() {
	reconstructCmd.Flags().StringVar(&reconGeomPath, "geom", "", "Geometry JSON path (required)")
	reconstructCmd.Flags().StringVar(&reconSysMatrixPath, "sysmatrix", "", "System matrix path (required)")
	reconstructCmd.Flags().StringVar(&reconSinoPath, "sino", "", "Sinogram raw float32 path (required)")
	reconstructCmd.Flags().StringVar(&reconOutPath, "out", "", "Reconstructed image output path (required)")
	reconstructCmd.Flags().StringVar(&reconParamsPath, "recon-params", "", "ReconParams JSON path (defaults applied if omitted)")
	reconstructCmd.Flags().Int64Var(&reconSeed, "seed", 0, "Zipline/NHICD shuffle seed (0 = use recon-params value)")
	reconstructCmd.Flags().IntVar(&reconMaxIterations, "max-iterations", 0, "Override MaxIterations (0 = use recon-params value)")
	reconstructCmd.Flags().Float64Var(&reconStopThreshold, "stop-threshold", -1, "Override StopThresholdChange (negative = use recon-params value)")
	reconstructCmd.Flags().BoolVar(&reconNHICD, "nhicd", false, "Enable the NHICD hot-voxel policy")
	reconstructCmd.Flags().IntVar(&reconCheckpointInterval, "checkpoint-interval", 0, "Seconds between checkpoints (0 = disabled)")
	reconstructCmd.Flags().StringVar(&reconCheckpointDir, "checkpoint-dir", "./data", "Base directory for checkpoint storage")
	reconstructCmd.MarkFlagRequired("geom")
	reconstructCmd.MarkFlagRequired("sysmatrix")
	reconstructCmd.MarkFlagRequired("sino")
	reconstructCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(reconstructCmd)
}

func runReconstruct(cmd *cobra.Command, args []string) error {
	g, err := geom.Load(reconGeomPath)
	if err != nil {
		return fmt.Errorf("failed to load geometry: %w", err)
	}

	a, err := sysmatrix.Read(reconSysMatrixPath, g)
	if err != nil {
		return fmt.Errorf("failed to load system matrix: %w", err)
	}

	sino, err := volume.Load(reconSinoPath, g.Sino.NBeta, g.Sino.NDv, g.Sino.NDw)
	if err != nil {
		return fmt.Errorf("failed to load sinogram: %w", err)
	}

	var params icd.ReconParams
	if reconParamsPath != "" {
		params, err = icd.LoadReconParams(reconParamsPath)
		if err != nil {
			return err
		}
	} else {
		params = icd.DefaultReconParams()
	}
	if reconSeed != 0 {
		params.Seed = reconSeed
	}
	if reconMaxIterations != 0 {
		params.MaxIterations = reconMaxIterations
	}
	if reconStopThreshold >= 0 {
		params.StopThresholdChange = reconStopThreshold
	}
	if reconNHICD {
		params.NHICDEnabled = true
	}

	solver, err := icd.NewSolver(g, a, params)
	if err != nil {
		return fmt.Errorf("failed to construct solver: %w", err)
	}

	image := volume.NewImage(g)
	e := sino.Clone()
	weights := volume.NewSinogram(g)
	weights.Fill(1)

	runID := uuid.NewString()
	slog.Info("starting reconstruction",
		"runID", runID, "prior", params.Prior.String(), "nhicd", params.NHICDEnabled,
		"maxIterations", params.MaxIterations, "stopThreshold", params.StopThresholdChange)

	trace, err := store.NewTraceWriter(reconCheckpointDir, runID, false)
	if err != nil {
		return fmt.Errorf("failed to open trace writer: %w", err)
	}
	solver.OnIteration = func(stats icd.IterationStats) {
		entry := store.TraceEntry{
			Iteration:       stats.Iteration,
			Cost:            stats.Cost,
			RelUpdate:       stats.RelUpdate,
			RatioUpdated:    stats.RatioUpdated,
			Equits:          stats.Equits,
			VoxelsPerSecond: stats.VoxelsPerSecond,
			Timestamp:       time.Now(),
		}
		if werr := trace.Write(entry); werr != nil {
			slog.Warn("failed to write trace entry", "error", werr)
		}
	}

	done := make(chan struct{})
	if reconCheckpointInterval > 0 {
		go runCheckpointTicker(done, runID, reconCheckpointDir, reconOutPath, g, a, params, image)
	}

	start := time.Now()
	var stats []icd.IterationStats
	switch {
	case params.NHICDEnabled:
		stats, err = solver.RunNHICD(image, e, weights)
	default:
		stats, err = solver.RunZiplineParallel(image, e, weights)
	}
	close(done)
	elapsed := time.Since(start)

	if cerr := trace.Close(); cerr != nil {
		slog.Warn("failed to close trace writer", "error", cerr)
	}

	if err != nil && err != icd.ErrNonConvergence {
		return fmt.Errorf("reconstruction failed: %w", err)
	}

	if werr := image.WriteTo(reconOutPath); werr != nil {
		return fmt.Errorf("failed to write reconstructed image: %w", werr)
	}

	if reconCheckpointInterval > 0 {
		if cerr := writeCheckpoint(runID, reconCheckpointDir, reconOutPath, g, a, params, image, stats); cerr != nil {
			slog.Warn("failed to write final checkpoint", "error", cerr)
		}
	}

	var last icd.IterationStats
	if len(stats) > 0 {
		last = stats[len(stats)-1]
	}
	slog.Info("reconstruction complete",
		"runID", runID, "elapsed", elapsed, "iterations", len(stats),
		"finalCost", last.Cost, "finalRelUpdate", last.RelUpdate, "converged", err == nil)
	fmt.Printf("Wrote %s (run %s, %d iterations, final cost %.6g, elapsed %s)\n",
		reconOutPath, runID, len(stats), last.Cost, elapsed)

	if err == icd.ErrNonConvergence {
		return err
	}
	return nil
}

func runCheckpointTicker(done chan struct{}, runID, dataDir, outPath string, g *geom.GeomParams, a *sysmatrix.SysMatrix, params icd.ReconParams, image *volume.Array3D) {
	ticker := time.NewTicker(time.Duration(reconCheckpointInterval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := writeCheckpoint(runID, dataDir, outPath, g, a, params, image, nil); err != nil {
				slog.Warn("periodic checkpoint failed", "error", err)
			}
		}
	}
}

func writeCheckpoint(runID, dataDir, outPath string, g *geom.GeomParams, a *sysmatrix.SysMatrix, params icd.ReconParams, image *volume.Array3D, stats []icd.IterationStats) error {
	s, err := store.NewFSStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	imagePath := outPath + ".checkpoint"
	if err := image.WriteTo(imagePath); err != nil {
		return fmt.Errorf("failed to snapshot image: %w", err)
	}

	var cost, initialCost, relUpdate float64
	var iteration int
	var equits float64
	if len(stats) > 0 {
		initialCost = stats[0].Cost
		last := stats[len(stats)-1]
		cost, iteration, equits, relUpdate = last.Cost, last.Iteration, last.Equits, last.RelUpdate
	}

	config := store.ReconConfig{
		SinogramPath:        reconSinoPath,
		SysMatrixPath:       reconSysMatrixPath,
		Prior:               params.Prior.String(),
		MaxIterations:       params.MaxIterations,
		StopThresholdChange: params.StopThresholdChange,
		NumVoxelsPerZipline: params.NumVoxelsPerZipline,
		Seed:                params.Seed,
	}
	checkpoint := store.NewCheckpoint(runID, imagePath, cost, initialCost, relUpdate, iteration, equits, config)
	return s.SaveCheckpoint(runID, checkpoint)
}
