package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brucehart/harlite/internal/config"
	"github.com/brucehart/harlite/internal/redact"
	"github.com/brucehart/harlite/internal/storage/sqlite"
)

var (
	piiRedact       bool
	piiDryRun       bool
	piiToken        string
	piiNoDefaults   bool
	piiNoEmail      bool
	piiNoPhone      bool
	piiNoSSN        bool
	piiNoCreditCard bool
)

var piiCmd = &cobra.Command{
	Use:   "pii",
	Short: "Scan (and optionally redact) emails, phone numbers, SSNs, and credit card numbers",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := sqlite.OpenWriter(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		findings, err := redact.RunPII(db, config.ExternalBlobRoot(), redact.PiiOptions{
			Redact:       piiRedact,
			DryRun:       piiDryRun,
			Token:        piiToken,
			NoDefaults:   piiNoDefaults,
			NoEmail:      piiNoEmail,
			NoPhone:      piiNoPhone,
			NoSSN:        piiNoSSN,
			NoCreditCard: piiNoCreditCard,
		})
		if err != nil {
			return err
		}

		if jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(findings)
		}

		for _, f := range findings {
			fmt.Fprintf(cmd.OutOrStdout(), "entry %d [%s] %s in %s: %d match(es)\n", f.EntryID, f.Kind, f.URL, f.Location, f.Count)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d finding(s)\n", len(findings))
		return nil
	},
}

func init() {
	piiCmd.Flags().BoolVar(&piiRedact, "redact", false, "rewrite matched bodies with the replacement token")
	piiCmd.Flags().BoolVar(&piiDryRun, "dry-run", false, "scan only, never write")
	piiCmd.Flags().StringVar(&piiToken, "token", "REDACTED", "replacement token")
	piiCmd.Flags().BoolVar(&piiNoDefaults, "no-defaults", false, "disable all built-in patterns")
	piiCmd.Flags().BoolVar(&piiNoEmail, "no-email", false, "disable email detection")
	piiCmd.Flags().BoolVar(&piiNoPhone, "no-phone", false, "disable phone number detection")
	piiCmd.Flags().BoolVar(&piiNoSSN, "no-ssn", false, "disable SSN detection")
	piiCmd.Flags().BoolVar(&piiNoCreditCard, "no-credit-card", false, "disable credit card detection")
	rootCmd.AddCommand(piiCmd)
}
