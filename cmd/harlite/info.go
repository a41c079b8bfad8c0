package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brucehart/harlite/internal/storage/sqlite"
)

type importSummary struct {
	ID         int64  `json:"id"`
	SourceFile string `json:"source_file"`
	ImportedAt string `json:"imported_at"`
	EntryCount int64  `json:"entry_count"`
	Status     string `json:"status"`
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "List imports recorded in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := sqlite.OpenReadOnly(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		rows, err := db.Query(`SELECT id, source_file, imported_at, entry_count, status FROM imports ORDER BY id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		var summaries []importSummary
		for rows.Next() {
			var s importSummary
			if err := rows.Scan(&s.ID, &s.SourceFile, &s.ImportedAt, &s.EntryCount, &s.Status); err != nil {
				return err
			}
			summaries = append(summaries, s)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summaries)
		}

		for _, s := range summaries {
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%d\t%s\n", s.ID, s.SourceFile, s.ImportedAt, s.EntryCount, s.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
