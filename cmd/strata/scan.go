package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stratadb/strata/internal/app"
	"github.com/stratadb/strata/pkg/types"
)

func (c *cli) scanCmd() *cobra.Command {
	var (
		where   string
		limit   int
		columns []string
	)

	cmd := &cobra.Command{
		Use:   "scan <archive> <table>",
		Short: "Print the rows of an archived table that match a filter",
		Long: `Scan prints matching rows as tab-separated values. Row groups whose
statistics rule out the filter are not decompressed.

Example:
  strata scan app.strata events --where "kind = 'login' AND ts >= 1700000000" --limit 20`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}

			out := bufio.NewWriter(c.stdout)
			defer out.Flush()

			res, err := application.Scan(cmd.Context(), args[0], app.ScanRequest{
				Table:   args[1],
				Where:   where,
				Columns: columns,
				Limit:   limit,
				OnHeader: func(cols []string) error {
					_, err := fmt.Fprintln(out, strings.Join(cols, "\t"))
					return err
				},
			}, func(row []types.Value) error {
				fields := make([]string, len(row))
				for i, v := range row {
					fields[i] = tsvField(v)
				}
				_, err := fmt.Fprintln(out, strings.Join(fields, "\t"))
				return err
			})
			if err != nil {
				return err
			}
			if err := out.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(c.stderr, "%d rows matched; scanned %d rows; skipped %d of %d row groups\n",
				res.Stats.RowsMatched, res.Stats.RowsScanned, res.Stats.RowGroupsSkipped, res.Stats.RowGroups)
			for _, p := range res.Pruning {
				fmt.Fprintf(c.stderr, "  %s %s: ruled out %d of %d row groups checked\n",
					p.Column, p.Operator, p.Skipped, p.Evaluated)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&where, "where", "", "Filter, e.g. \"id > 10 AND name IS NOT NULL\"")
	f.IntVar(&limit, "limit", 0, "Stop after this many rows (0 = no limit)")
	f.StringSliceVar(&columns, "columns", nil, "Columns to print (default all)")
	return cmd
}

var tsvEscaper = strings.NewReplacer(`\`, `\\`, "\t", `\t`, "\n", `\n`, "\r", `\r`)

// tsvField renders a value for TSV output. NULL is written as \N.
func tsvField(v types.Value) string {
	if v.IsNull() {
		return `\N`
	}
	return tsvEscaper.Replace(v.String())
}
