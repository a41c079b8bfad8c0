package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brucehart/harlite/internal/config"
	"github.com/brucehart/harlite/internal/importer"
	"github.com/brucehart/harlite/internal/logging"
	"github.com/brucehart/harlite/internal/watch"
)

var (
	watchOutput         string
	watchRecursive      bool
	watchImportExisting bool
	watchLogFile        string
)

var watchCmd = &cobra.Command{
	Use:   "watch <directory>",
	Short: "Watch a directory for new/updated HAR files and import them as they stabilize",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		logger, closer, err := logging.New("watch: ", logging.Options{Path: watchLogFile})
		if err != nil {
			return err
		}
		defer closer.Close()

		opts := watch.Options{
			Directory:      args[0],
			Output:         watchOutput,
			Recursive:      watchRecursive,
			DebounceMs:     config.WatchDebounce(),
			StableMs:       config.WatchStable(),
			ImportExisting: watchImportExisting,
			ImportOptions: importer.InsertEntryOptions{
				StoreBodies:      true,
				MaxBodySize:      config.MaxBodySize(),
				MaxIndexableSize: config.MaxIndexableSize(),
				ExternalRoot:     config.ExternalBlobRoot(),
			},
			OnImported: func(path string, stats importer.ImportStats) {
				logger.Printf("imported %s: %d entries", path, stats.EntriesImported)
				fmt.Fprintf(cmd.OutOrStdout(), "imported %s: %d entries\n", path, stats.EntriesImported)
			},
			OnError: func(path string, err error) {
				logger.Printf("error (%s): %v", path, err)
				fmt.Fprintf(cmd.ErrOrStderr(), "watch error (%s): %v\n", path, err)
			},
		}

		return watch.Run(ctx, opts)
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchOutput, "output", "", "output database path (default: <dirname>.db)")
	watchCmd.Flags().BoolVar(&watchRecursive, "recursive", true, "watch subdirectories too")
	watchCmd.Flags().BoolVar(&watchImportExisting, "import-existing", false, "import files already present at startup")
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "rotate diagnostic output to this file in addition to stderr")
	rootCmd.AddCommand(watchCmd)
}
