package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brucehart/harlite/internal/merge"
)

var (
	mergeOutput  string
	mergeDryRun  bool
	mergeDedup   string
)

var mergeCmd = &cobra.Command{
	Use:   "merge <db>...",
	Short: "Merge multiple harlite databases, deduplicating blobs and entries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy := merge.DedupHash
		if mergeDedup == "exact" {
			strategy = merge.DedupExact
		}

		stats, err := merge.Merge(args, merge.Options{
			Output:  mergeOutput,
			DryRun:  mergeDryRun,
			Dedup:   strategy,
		})
		if err != nil {
			return err
		}

		if jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "imports: %d total, %d added, %d deduped\n", stats.ImportsTotal, stats.ImportsAdded, stats.ImportsDeduped)
		fmt.Fprintf(cmd.OutOrStdout(), "entries: %d total, %d added, %d deduped\n", stats.EntriesTotal, stats.EntriesAdded, stats.EntriesDeduped)
		fmt.Fprintf(cmd.OutOrStdout(), "blobs:   %d total, %d added, %d deduped\n", stats.BlobsTotal, stats.BlobsAdded, stats.BlobsDeduped)
		return nil
	},
}

func init() {
	mergeCmd.Flags().StringVar(&mergeOutput, "output", "", "output database path (default: <first input stem>-merged.db)")
	mergeCmd.Flags().BoolVar(&mergeDryRun, "dry-run", false, "report what would merge without writing")
	mergeCmd.Flags().StringVar(&mergeDedup, "dedup", "hash", "dedup strategy: hash or exact")
	rootCmd.AddCommand(mergeCmd)
}
