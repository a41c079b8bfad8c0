package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brucehart/harlite/internal/storage/sqlite"
)

type dbStats struct {
	Imports int64 `json:"imports"`
	Entries int64 `json:"entries"`
	Pages   int64 `json:"pages"`
	Blobs   int64 `json:"blobs"`
	FTSRows int64 `json:"fts_rows"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show row counts across the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := sqlite.OpenReadOnly(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		var s dbStats
		if err := db.QueryRow(`SELECT count(*) FROM imports`).Scan(&s.Imports); err != nil {
			return err
		}
		if err := db.QueryRow(`SELECT count(*) FROM entries`).Scan(&s.Entries); err != nil {
			return err
		}
		if err := db.QueryRow(`SELECT count(*) FROM pages`).Scan(&s.Pages); err != nil {
			return err
		}
		if err := db.QueryRow(`SELECT count(*) FROM blobs`).Scan(&s.Blobs); err != nil {
			return err
		}

		var ftsExists int
		if err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='response_body_fts'`).Scan(&ftsExists); err != nil {
			return err
		}
		if ftsExists > 0 {
			if err := db.QueryRow(`SELECT count(*) FROM response_body_fts`).Scan(&s.FTSRows); err != nil {
				return err
			}
		}

		if jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "imports: %d\nentries: %d\npages:   %d\nblobs:   %d\nfts rows: %d\n",
			s.Imports, s.Entries, s.Pages, s.Blobs, s.FTSRows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
