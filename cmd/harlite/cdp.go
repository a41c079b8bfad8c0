package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brucehart/harlite/internal/capture"
	"github.com/brucehart/harlite/internal/config"
	"github.com/brucehart/harlite/internal/logging"
	"github.com/brucehart/harlite/internal/storage/sqlite"
)

var (
	cdpHost        string
	cdpPort        int
	cdpTarget      string
	cdpDuration    time.Duration
	cdpStoreBodies bool
	cdpTextOnly    bool
	cdpOutHar      string
	cdpLogFile     string
)

var cdpCmd = &cobra.Command{
	Use:   "cdp",
	Short: "Capture live network traffic from a Chrome DevTools Protocol target",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		if cdpDuration > 0 {
			var cancelTimeout context.CancelFunc
			ctx, cancelTimeout = context.WithTimeout(ctx, cdpDuration)
			defer cancelTimeout()
		}

		logger, closer, err := logging.New("cdp: ", logging.Options{Path: cdpLogFile})
		if err != nil {
			return err
		}
		defer closer.Close()

		host := cdpHost
		if host == "" {
			host = config.CDPHost()
		}
		port := cdpPort
		if port == 0 {
			port = config.CDPPort()
		}

		opts := capture.Options{
			Host:        host,
			Port:        port,
			Target:      cdpTarget,
			StoreBodies: cdpStoreBodies,
			MaxBodySize: config.MaxBodySize(),
			TextOnly:    cdpTextOnly,
			Duration:    cdpDuration,
		}

		entries, browser, err := capture.Run(ctx, opts)
		if err != nil {
			logger.Printf("capture failed: %v", err)
			return err
		}

		logger.Printf("captured %d entries from %s", len(entries), browser)
		fmt.Fprintf(cmd.ErrOrStderr(), "captured %d entries from %s\n", len(entries), browser)

		if cdpOutHar != "" {
			doc := capture.BuildHar(browser, entries)
			f, err := os.Create(cdpOutHar)
			if err != nil {
				return err
			}
			defer f.Close()
			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			if err := enc.Encode(doc); err != nil {
				return err
			}
		}

		db, err := sqlite.OpenWriter(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := capture.ImportCaptured(db, entries, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries\n", stats.EntriesImported)
		return nil
	},
}

func init() {
	cdpCmd.Flags().StringVar(&cdpHost, "host", "", "DevTools host (default from config, normally localhost)")
	cdpCmd.Flags().IntVar(&cdpPort, "port", 0, "DevTools port (default from config, normally 9222)")
	cdpCmd.Flags().StringVar(&cdpTarget, "target", "", "target id or URL substring to capture (default: sole page target)")
	cdpCmd.Flags().DurationVar(&cdpDuration, "duration", 0, "stop capturing after this long (0 = until interrupted)")
	cdpCmd.Flags().BoolVar(&cdpStoreBodies, "store-bodies", true, "fetch and store response bodies")
	cdpCmd.Flags().BoolVar(&cdpTextOnly, "text-only", false, "only fetch bodies with a text-like MIME type")
	cdpCmd.Flags().StringVar(&cdpOutHar, "out-har", "", "also write a standalone .har file to this path")
	cdpCmd.Flags().StringVar(&cdpLogFile, "log-file", "", "rotate diagnostic output to this file in addition to stderr")
	rootCmd.AddCommand(cdpCmd)
}
