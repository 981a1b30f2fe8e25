package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/stratadb/strata/internal/app"
)

func (c *cli) inspectCmd() *cobra.Command {
	var (
		asJSON bool
		tables []string
	)

	cmd := &cobra.Command{
		Use:   "inspect <archive>",
		Short: "Describe the tables and columns of an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			insp, err := application.Inspect(cmd.Context(), args[0], tables)
			if err != nil {
				return err
			}
			if asJSON {
				data, err := gojson.MarshalIndent(insp, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(c.stdout, string(data))
				return nil
			}
			printInspection(c, insp)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	cmd.Flags().StringArrayVar(&tables, "table", nil, "Table to describe (repeatable, default all)")
	return cmd
}

func printInspection(c *cli, insp *app.Inspection) {
	fmt.Fprintf(c.stdout, "archive %s  created %s  source %s  version %s  size %s\n",
		insp.Info.ID, insp.Info.CreatedAt.Format("2006-01-02 15:04:05Z07:00"),
		orDash(insp.Info.Source), orDash(insp.Info.ToolVersion), formatBytes(insp.Size))

	for _, t := range insp.Tables {
		fmt.Fprintf(c.stdout, "\ntable %s: %d rows, %d row groups", t.Name, t.Rows, t.RowGroups)
		if t.WithoutRowID {
			fmt.Fprint(c.stdout, ", WITHOUT ROWID")
		}
		if len(t.Indexes) > 0 {
			fmt.Fprintf(c.stdout, ", indexes %s", strings.Join(t.Indexes, ", "))
		}
		fmt.Fprintln(c.stdout)

		tw := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  COLUMN\tDECLARED\tPHYSICAL\tLOGICAL\tCODEC\tENCODING\tSTORED\tRAW\tNULLS\tMIN\tMAX")
		for _, col := range t.Columns {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				col.Name, orDash(col.DeclaredType), col.Physical, orDash(col.Logical),
				strings.Join(col.Codecs, ","), strings.Join(col.Encodings, ","),
				formatBytes(col.CompressedBytes), formatBytes(col.RawBytes), col.NullCount,
				truncate(orDash(col.MinText), 24), truncate(orDash(col.MaxText), 24))
		}
		tw.Flush()
	}
}
