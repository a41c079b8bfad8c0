package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brucehart/harlite/internal/config"
	"github.com/brucehart/harlite/internal/fts"
	"github.com/brucehart/harlite/internal/storage/sqlite"
)

var ftsTokenizer string

var ftsCmd = &cobra.Command{
	Use:   "fts",
	Short: "Manage the full-text index over response bodies",
}

var ftsRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Drop and rebuild the full-text index",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := sqlite.OpenWriter(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		tok := fts.Unicode61
		switch ftsTokenizer {
		case "porter":
			tok = fts.Porter
		case "trigram":
			tok = fts.Trigram
		}

		indexed, err := fts.Rebuild(db, fts.RebuildOptions{
			Tokenizer:    tok,
			MaxBodySize:  config.MaxIndexableSize(),
			ExternalRoot: config.ExternalBlobRoot(),
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d body(ies)\n", indexed)
		return nil
	},
}

func init() {
	ftsRebuildCmd.Flags().StringVar(&ftsTokenizer, "tokenizer", "unicode61", "FTS5 tokenizer: unicode61, porter, or trigram")
	ftsCmd.AddCommand(ftsRebuildCmd)
	rootCmd.AddCommand(ftsCmd)
}
