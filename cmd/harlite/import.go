package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brucehart/harlite/internal/config"
	"github.com/brucehart/harlite/internal/importer"
	"github.com/brucehart/harlite/internal/storage/sqlite"
)

var (
	importStoreBodies  bool
	importDecompress   bool
	importKeepCompressed bool
	importTextOnly     bool
	importExtractDir   string
)

var importCmd = &cobra.Command{
	Use:   "import <file.har>...",
	Short: "Import one or more HAR archives",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := sqlite.OpenWriter(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		opts := importer.InsertEntryOptions{
			StoreBodies:      importStoreBodies,
			MaxBodySize:      config.MaxBodySize(),
			TextOnly:         importTextOnly,
			DecompressBodies: importDecompress,
			KeepCompressed:   importKeepCompressed,
			ExtractBodiesDir: importExtractDir,
			MaxIndexableSize: config.MaxIndexableSize(),
			ExternalRoot:     config.ExternalBlobRoot(),
		}

		coord := importer.Coordinator{DB: db}
		totals := make([]importer.ImportStats, 0, len(args))
		for _, path := range args {
			stats, err := coord.Import(path, opts, func(done, total int) {
				if !jsonOut {
					fmt.Fprintf(cmd.ErrOrStderr(), "\r%s: %d/%d", path, done, total)
				}
			})
			if err != nil {
				return err
			}
			if !jsonOut {
				fmt.Fprintln(cmd.OutOrStdout())
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries (request %d new/%d dedup, response %d new/%d dedup)\n",
					path, stats.EntriesImported,
					stats.Request.Created, stats.Request.Deduplicated,
					stats.Response.Created, stats.Response.Deduplicated)
			}
			totals = append(totals, stats)
		}

		if jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(totals)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().BoolVar(&importStoreBodies, "store-bodies", true, "store request/response bodies as blobs")
	importCmd.Flags().BoolVar(&importDecompress, "decompress", true, "decompress gzip/br bodies before storage")
	importCmd.Flags().BoolVar(&importKeepCompressed, "keep-compressed", false, "also retain the raw compressed body")
	importCmd.Flags().BoolVar(&importTextOnly, "text-only", false, "only store bodies with a text-like MIME type")
	importCmd.Flags().StringVar(&importExtractDir, "extract-dir", "", "extract bodies to this directory instead of storing inline")
	rootCmd.AddCommand(importCmd)
}
