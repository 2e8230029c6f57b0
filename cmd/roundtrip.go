package main

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cwbudde/conebeam-mbir/internal/geom"
	"github.com/cwbudde/conebeam-mbir/internal/sysmatrix"
)

var (
	roundtripGeomPath string
	roundtripOutPath  string
)

var roundtripCmd = &cobra.Command{
	Use:   "roundtrip",
	Short: "Precompute, write, read back and verify a system matrix is bit-identical",
	Long: `Precomputes a system matrix, writes it to disk, reads it back, and
fails if any stored array differs from the one precomputed in memory.`,
	RunE: runRoundtrip,
}

func init() {
	roundtripCmd.Flags().StringVar(&roundtripGeomPath, "geom", "", "Geometry JSON path (required)")
	roundtripCmd.Flags().StringVar(&roundtripOutPath, "sysmatrix", "", "System matrix scratch path (required)")
	roundtripCmd.MarkFlagRequired("geom")
	roundtripCmd.MarkFlagRequired("sysmatrix")
	rootCmd.AddCommand(roundtripCmd)
}

func runRoundtrip(cmd *cobra.Command, args []string) error {
	g, err := geom.Load(roundtripGeomPath)
	if err != nil {
		return fmt.Errorf("failed to load geometry: %w", err)
	}

	want, err := sysmatrix.Compute(g, sysmatrix.DefaultMatrixConfig())
	if err != nil {
		return fmt.Errorf("failed to precompute system matrix: %w", err)
	}
	if err := want.Write(roundtripOutPath); err != nil {
		return fmt.Errorf("failed to write system matrix: %w", err)
	}

	got, err := sysmatrix.Read(roundtripOutPath, g)
	if err != nil {
		return fmt.Errorf("failed to read system matrix: %w", err)
	}

	if err := compareSysMatrix(want, got); err != nil {
		return fmt.Errorf("round-trip mismatch: %w", err)
	}

	slog.Info("round-trip verified", "path", roundtripOutPath)
	fmt.Printf("OK: %s round-trips bit-identical\n", roundtripOutPath)
	return nil
}

func compareSysMatrix(want, got *sysmatrix.SysMatrix) error {
	if !bytes.Equal(want.B, got.B) {
		return fmt.Errorf("B payload differs")
	}
	if !bytes.Equal(want.C, got.C) {
		return fmt.Errorf("C payload differs")
	}
	if !equalInt32(want.IVStart, got.IVStart) {
		return fmt.Errorf("IVStart differs")
	}
	if !equalInt32(want.IVStride, got.IVStride) {
		return fmt.Errorf("IVStride differs")
	}
	if !equalInt32(want.JU, got.JU) {
		return fmt.Errorf("JU differs")
	}
	if !equalInt32(want.IWStart, got.IWStart) {
		return fmt.Errorf("IWStart differs")
	}
	if !equalInt32(want.IWStride, got.IWStride) {
		return fmt.Errorf("IWStride differs")
	}
	if want.BIJScaler != got.BIJScaler || want.CIJScaler != got.CIJScaler {
		return fmt.Errorf("quantization scalers differ")
	}
	return nil
}

func equalInt32(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
