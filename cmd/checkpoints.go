package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/conebeam-mbir/internal/store"
)

var (
	checkpointDataDir string
	keepLast          int
	olderThanDays     int
	forceClean        bool
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Manage reconstruction checkpoints",
	Long:  `List and clean up reconstruction checkpoints written during --checkpoint-interval runs.`,
}

var listCheckpointsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all available checkpoints",
	RunE:  runListCheckpoints,
}

var cleanCheckpointsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete checkpoints matching a retention policy",
	RunE:  runCleanCheckpoints,
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(listCheckpointsCmd)
	checkpointsCmd.AddCommand(cleanCheckpointsCmd)

	checkpointsCmd.PersistentFlags().StringVar(&checkpointDataDir, "data-dir", "./data", "Base directory for checkpoint storage")

	cleanCheckpointsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the N most recently checkpointed runs (0 = keep all)")
	cleanCheckpointsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete checkpoints older than N days (0 = no age limit)")
	cleanCheckpointsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func runListCheckpoints(cmd *cobra.Command, args []string) error {
	s, err := store.NewFSStore(checkpointDataDir)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	infos, err := s.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No checkpoints found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tTIMESTAMP\tITERATION\tCOST\tPRIOR\tSINOGRAM")
	fmt.Fprintln(w, "------\t---------\t---------\t----\t-----\t--------")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.6f\t%s\t%s\n",
			info.RunID, info.Timestamp.Format("2006-01-02 15:04:05"), info.Iteration, info.Cost, info.Prior, info.SinogramPath)
	}
	w.Flush()
	fmt.Printf("\nTotal checkpoints: %d\n", len(infos))
	return nil
}

func runCleanCheckpoints(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	s, err := store.NewFSStore(checkpointDataDir)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	infos, err := s.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No checkpoints to clean.")
		return nil
	}

	toDelete := selectCheckpointsForDeletion(infos, keepLast, olderThanDays)
	if len(toDelete) == 0 {
		fmt.Println("No checkpoints match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d checkpoint(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Printf("  - %s (iteration %d, %s)\n", info.RunID, info.Iteration, info.Timestamp.Format("2006-01-02 15:04:05"))
	}

	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted, failed := 0, 0
	for _, info := range toDelete {
		if err := s.DeleteCheckpoint(info.RunID); err != nil {
			slog.Error("failed to delete checkpoint", "runID", info.RunID, "error", err)
			failed++
		} else {
			slog.Info("deleted checkpoint", "runID", info.RunID)
			deleted++
		}
	}

	fmt.Printf("\nDeleted %d checkpoint(s), %d failed.\n", deleted, failed)
	return nil
}

// selectCheckpointsForDeletion applies the age and count retention
// policies independently; a checkpoint matching either is deleted.
func selectCheckpointsForDeletion(infos []store.CheckpointInfo, keepLast, olderThanDays int) []store.CheckpointInfo {
	marked := make(map[string]bool)
	var toDelete []store.CheckpointInfo

	mark := func(info store.CheckpointInfo) {
		if !marked[info.RunID] {
			marked[info.RunID] = true
			toDelete = append(toDelete, info)
		}
	}

	if olderThanDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.Timestamp.Before(cutoff) {
				mark(info)
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := make([]store.CheckpointInfo, len(infos))
		copy(sorted, infos)
		for i := 0; i < len(sorted)-1; i++ {
			for j := 0; j < len(sorted)-i-1; j++ {
				if sorted[j].Timestamp.After(sorted[j+1].Timestamp) {
					sorted[j], sorted[j+1] = sorted[j+1], sorted[j]
				}
			}
		}
		for i := 0; i < len(sorted)-keepLast; i++ {
			mark(sorted[i])
		}
	}

	return toDelete
}
