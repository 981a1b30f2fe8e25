package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stratadb/strata/internal/config"
)

func (c *cli) archiveCmd() *cobra.Command {
	var (
		groupSize int
		codec     string
		level     string
		tables    []string
		noBloom   bool
		noDict    bool
		probe     string
		failFast  bool
		upload    string
	)

	cmd := &cobra.Command{
		Use:   "archive <database> <archive>",
		Short: "Archive a SQLite database",
		Long: `Archive converts every table of a SQLite database into a columnar archive.
A table that fails is reported and left out of the archive; the other tables
are still archived unless --fail-fast is set.

Example:
  strata archive app.db app.strata --codec zstd --table users:id,email --table events`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := &c.cfg.Archive
			if cmd.Flags().Changed("group-size") {
				a.RowGroupSize = groupSize
			}
			if cmd.Flags().Changed("codec") {
				a.Compression.Codec = codec
			}
			if cmd.Flags().Changed("level") {
				a.Compression.Level = level
			}
			if cmd.Flags().Changed("probe") {
				a.TypeProbe = probe
			}
			if noBloom {
				a.BloomFilters = false
			}
			if noDict {
				a.Dictionary = false
			}
			if len(tables) > 0 {
				a.Tables = make(map[string][]string, len(tables))
				for _, spec := range tables {
					table, columns, err := config.ParseTableSpec(spec)
					if err != nil {
						return err
					}
					a.Tables[table] = append(a.Tables[table], columns...)
				}
			}

			progress := newProgress(c.stderr)
			application, err := c.newApp(cmd.Context(), progress)
			if err != nil {
				return err
			}

			report, err := application.Archive(cmd.Context(), args[0], args[1], failFast, upload)
			progress.Close()
			if report != nil {
				printArchiveSummary(c.stdout, report)
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
	f.IntVar(&groupSize, "group-size", 0, "Rows per row group (default 50000)")
	f.StringVar(&codec, "codec", "", "Compression codec: none, snappy, zstd, lz4, s2, gzip (default zstd)")
	f.StringVar(&level, "level", "", "Compression level: fastest, default, better, best")
	f.StringArrayVar(&tables, "table", nil, "Table to archive, as table or table:col1,col2 (repeatable)")
	f.BoolVar(&noBloom, "no-bloom", false, "Do not build per-chunk bloom filters")
	f.BoolVar(&noDict, "no-dict", false, "Disable dictionary encoding")
	f.StringVar(&probe, "probe", "", "Type probe: first_group or full")
	f.BoolVar(&failFast, "fail-fast", false, "Stop at the first failed table")
	f.StringVar(&upload, "upload", "", "Upload the finished archive to this storage key")
	return cmd
}
