package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/conebeam-mbir/internal/geom"
	"github.com/cwbudde/conebeam-mbir/internal/sysmatrix"
)

var (
	precomputeGeomPath   string
	precomputeOutPath    string
	precomputeCompress   bool
	precomputeIndexCodec string
)

var precomputeCmd = &cobra.Command{
	Use:   "precompute",
	Short: "Precompute the separable sparse system matrix for a geometry",
	Long:  `Precomputes A = B ⊗ C for the given scanner/image geometry and writes it to disk.`,
	RunE:  runPrecompute,
}

func init() {
	precomputeCmd.Flags().StringVar(&precomputeGeomPath, "geom", "", "Geometry JSON path (required)")
	precomputeCmd.Flags().StringVar(&precomputeOutPath, "out", "", "System matrix output path (required)")
	precomputeCmd.Flags().BoolVar(&precomputeCompress, "compress", true, "Store B and C cells in their compressed width")
	precomputeCmd.Flags().StringVar(&precomputeIndexCodec, "index-codec", "raw", "Index array codec: raw or streamvbyte")
	precomputeCmd.MarkFlagRequired("geom")
	precomputeCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(precomputeCmd)
}

func parseIndexCodec(s string) (sysmatrix.IndexCodec, error) {
	switch s {
	case "raw":
		return sysmatrix.IndexRaw, nil
	case "streamvbyte":
		return sysmatrix.IndexStreamVByte, nil
	default:
		return 0, fmt.Errorf("unknown index codec %q (want raw or streamvbyte)", s)
	}
}

func runPrecompute(cmd *cobra.Command, args []string) error {
	g, err := geom.Load(precomputeGeomPath)
	if err != nil {
		return fmt.Errorf("failed to load geometry: %w", err)
	}

	codec, err := parseIndexCodec(precomputeIndexCodec)
	if err != nil {
		return err
	}
	config := sysmatrix.MatrixConfig{
		BCompressed: precomputeCompress,
		CCompressed: precomputeCompress,
		Rho:         1,
		IndexCodec:  codec,
	}

	slog.Info("precomputing system matrix",
		"nx", g.Image.NX, "ny", g.Image.NY, "nz", g.Image.NZ,
		"nBeta", g.Sino.NBeta, "nDv", g.Sino.NDv, "nDw", g.Sino.NDw,
		"compressed", precomputeCompress, "indexCodec", codec.String())

	start := time.Now()
	m, err := sysmatrix.Compute(g, config)
	if err != nil {
		return fmt.Errorf("failed to precompute system matrix: %w", err)
	}
	elapsed := time.Since(start)

	if err := m.Write(precomputeOutPath); err != nil {
		return fmt.Errorf("failed to write system matrix: %w", err)
	}

	slog.Info("precompute complete", "elapsed", elapsed, "out", precomputeOutPath)
	fmt.Printf("Wrote %s (%dx%d voxel columns, %d views, elapsed %s)\n",
		precomputeOutPath, g.Image.NX, g.Image.NY, g.Sino.NBeta, elapsed)
	return nil
}
