package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/brucehart/harlite/internal/importer"
	"github.com/brucehart/harlite/internal/storage/sqlite"
)

var pruneCmd = &cobra.Command{
	Use:   "prune <import-id>...",
	Short: "Remove an import and garbage-collect its orphaned blobs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := sqlite.OpenWriter(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		results := make([]importer.PruneResult, 0, len(args))
		for _, arg := range args {
			id, perr := strconv.ParseInt(arg, 10, 64)
			if perr != nil {
				return fmt.Errorf("invalid import id %q: %w", arg, perr)
			}
			res, err := importer.Prune(db, id)
			if err != nil {
				return err
			}
			if !jsonOut {
				fmt.Fprintf(cmd.OutOrStdout(), "pruned import %d (%s): %d entries, %d pages, %d blobs, %d fts rows\n",
					id, res.SourceFile, res.EntriesDeleted, res.PagesDeleted, res.BlobsDeleted, res.FTSDeleted)
			}
			results = append(results, res)
		}

		if jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}
