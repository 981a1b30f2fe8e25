package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) restoreCmd() *cobra.Command {
	var (
		tables      []string
		overwrite   bool
		skipIndexes bool
		batchSize   int
		failFast    bool
	)

	cmd := &cobra.Command{
		Use:   "restore <archive> <database>",
		Short: "Restore a SQLite database from an archive",
		Long: `Restore rebuilds tables and their indexes from an archive. The archive may
be a local path, storage:<key> for the configured storage, or s3://bucket/key.

Example:
  strata restore s3://backups/app.strata restored.db --overwrite`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := &c.cfg.Restore
			if len(tables) > 0 {
				r.Tables = tables
			}
			if overwrite {
				r.Overwrite = true
			}
			if skipIndexes {
				r.SkipIndexes = true
			}
			if cmd.Flags().Changed("batch-size") {
				r.BatchSize = batchSize
			}

			progress := newProgress(c.stderr)
			application, err := c.newApp(cmd.Context(), progress)
			if err != nil {
				return err
			}

			report, err := application.Restore(cmd.Context(), args[0], args[1], failFast)
			progress.Close()
			if report != nil {
				printRestoreSummary(c.stdout, report)
			}
			if err != nil {
				return err
			}
			if n := len(report.Failed()); n > 0 {
				fmt.Fprintf(c.stderr, "%d of %d tables failed\n", n, len(report.Results))
				return errTablesFailed
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&tables, "table", nil, "Table to restore (repeatable, default all)")
	f.BoolVar(&overwrite, "overwrite", false, "Replace tables that already exist in the destination")
	f.BoolVar(&skipIndexes, "skip-indexes", false, "Do not rebuild declared indexes")
	f.IntVar(&batchSize, "batch-size", 0, "Rows per insert batch (default 1000)")
	f.BoolVar(&failFast, "fail-fast", false, "Stop at the first failed table")
	return cmd
}
