package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("mbirgo failed", "error", err)
		os.Exit(exitCode(err))
	}
}
