package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/conebeam-mbir/internal/geom"
	"github.com/cwbudde/conebeam-mbir/internal/icd"
	"github.com/cwbudde/conebeam-mbir/internal/sysmatrix"
	"github.com/cwbudde/conebeam-mbir/internal/volume"
)

var (
	logLevel string
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mbirgo",
	Short: "Cone-beam MBIR system-matrix precompute and ICD reconstruction",
	Long: `mbirgo precomputes a separable sparse cone-beam system matrix and
reconstructs a volume from a sinogram with Iterative Coordinate Descent,
optionally parallelized over ziplines and gated by the NHICD hot-voxel
policy.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
		logger = slog.New(handler)
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

// exitCode maps an error to a process exit status: 0 success, 1 I/O
// error, 2 bad input parameters, 3 reconstruction failed to converge
// within the iteration budget.
func exitCode(err error) int {
	if err == nil {
		return 0
	}

	var paramErr *geom.ParamError
	switch {
	case errors.Is(err, icd.ErrNonConvergence):
		return 3
	case errors.As(err, &paramErr),
		errors.Is(err, sysmatrix.ErrSourceBehindVoxel),
		errors.Is(err, sysmatrix.ErrDegenerateNU):
		return 2
	case errors.Is(err, sysmatrix.ErrIO),
		errors.Is(err, sysmatrix.ErrLengthMismatch),
		errors.Is(err, volume.ErrIO):
		return 1
	default:
		return 1
	}
}
