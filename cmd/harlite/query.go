package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brucehart/harlite/internal/querygate"
)

var (
	queryLimit  int64
	queryOffset int64
)

var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run a read-only SQL query through the safe query gateway",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := querygate.Options{}
		if cmd.Flags().Changed("limit") {
			opts.Limit = &queryLimit
		}
		if cmd.Flags().Changed("offset") {
			opts.Offset = &queryOffset
		}

		cols, rows, err := querygate.Execute(dbPath, args[0], opts)
		if err != nil {
			return err
		}

		if jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}

		for _, c := range cols {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t", c)
		}
		fmt.Fprintln(cmd.OutOrStdout())
		for _, row := range rows {
			for _, c := range cols {
				fmt.Fprintf(cmd.OutOrStdout(), "%v\t", row[c])
			}
			fmt.Fprintln(cmd.OutOrStdout())
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().Int64Var(&queryLimit, "limit", 0, "maximum rows to return")
	queryCmd.Flags().Int64Var(&queryOffset, "offset", 0, "rows to skip before returning results")
	rootCmd.AddCommand(queryCmd)
}
