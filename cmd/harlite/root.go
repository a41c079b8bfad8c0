// Command harlite is the CLI surface over the harlite capture/storage
// engine: import, prune, query, merge, redact, pii, fts rebuild, watch,
// cdp, info, and stats, mirroring original_source/src/main.rs's command
// surface. Every subcommand parses flags into an options struct and calls
// exactly one core entry point (spec §9) — no business logic lives here.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brucehart/harlite/internal/config"
)

var (
	dbPath  string
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:           "harlite",
	Short:         "Capture, store, and query HAR/DevTools network archives",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.Initialize()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "harlite.db", "path to the harlite SQLite database")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "emit machine-readable JSON output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fatal(err)
	}
}

// fatal prints err to stderr and exits with a status derived from its
// harerr.Kind when present, mirroring the teacher's FatalErrorRespectJSON.
func fatal(err error) {
	fmt.Fprintf(os.Stderr, "harlite: %v\n", err)
	os.Exit(exitCodeFor(err))
}
