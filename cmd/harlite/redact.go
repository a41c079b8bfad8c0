package main

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/brucehart/harlite/internal/config"
	"github.com/brucehart/harlite/internal/redact"
	"github.com/brucehart/harlite/internal/storage/sqlite"
)

var (
	redactHeaders  []string
	redactCookies  []string
	redactQuery    []string
	redactBody     []string
	redactMode     string
	redactToken    string
	redactDryRun   bool
)

var redactCmd = &cobra.Command{
	Use:   "redact",
	Short: "Redact matching headers, cookies, query params, and body text",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := parseMatchMode(redactMode)
		if err != nil {
			return err
		}

		headerM, err := matcherOrDefault(mode, redactHeaders, redact.DefaultHeaderPatterns())
		if err != nil {
			return err
		}
		cookieM, err := matcherOrDefault(mode, redactCookies, redact.DefaultCookiePatterns())
		if err != nil {
			return err
		}
		var queryM *redact.NameMatcher
		if len(redactQuery) > 0 {
			queryM, err = redact.NewNameMatcher(mode, redactQuery)
			if err != nil {
				return err
			}
		}

		bodyPatterns := make([]*regexp.Regexp, 0, len(redactBody))
		for _, p := range redactBody {
			re, err := regexp.Compile(p)
			if err != nil {
				return fmt.Errorf("invalid body pattern %q: %w", p, err)
			}
			bodyPatterns = append(bodyPatterns, re)
		}

		db, err := sqlite.OpenWriter(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		report, err := redact.RedactEntries(db, redact.Options{
			HeaderMatcher: headerM,
			CookieMatcher: cookieM,
			QueryMatcher:  queryM,
			BodyPatterns:  bodyPatterns,
			Token:         redactToken,
			DryRun:        redactDryRun,
			ExternalRoot:  config.ExternalBlobRoot(),
		})
		if err != nil {
			return err
		}

		if jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "headers: %d, cookies: %d, query params: %d, body: %d (total %d)\n",
			report.HeaderMatches, report.CookieMatches, report.QueryMatches, report.BodyMatches, report.Total())
		return nil
	},
}

func parseMatchMode(s string) (redact.NameMatchMode, error) {
	switch s {
	case "exact":
		return redact.Exact, nil
	case "wildcard":
		return redact.Wildcard, nil
	case "regex":
		return redact.Regex, nil
	default:
		return 0, fmt.Errorf("unknown match mode %q (want exact, wildcard, or regex)", s)
	}
}

func matcherOrDefault(mode redact.NameMatchMode, patterns []string, defaults []string) (*redact.NameMatcher, error) {
	if len(patterns) == 0 {
		return redact.NewNameMatcher(redact.Wildcard, defaults)
	}
	return redact.NewNameMatcher(mode, patterns)
}

func init() {
	redactCmd.Flags().StringSliceVar(&redactHeaders, "header", nil, "header name patterns to redact (default: common auth/session headers)")
	redactCmd.Flags().StringSliceVar(&redactCookies, "cookie", nil, "cookie name patterns to redact (default: every cookie)")
	redactCmd.Flags().StringSliceVar(&redactQuery, "query-param", nil, "query parameter name patterns to redact")
	redactCmd.Flags().StringSliceVar(&redactBody, "body-pattern", nil, "regex patterns to redact within bodies")
	redactCmd.Flags().StringVar(&redactMode, "mode", "wildcard", "name match mode: exact, wildcard, or regex")
	redactCmd.Flags().StringVar(&redactToken, "token", "REDACTED", "replacement token")
	redactCmd.Flags().BoolVar(&redactDryRun, "dry-run", false, "report matches without modifying the database")
	rootCmd.AddCommand(redactCmd)
}
