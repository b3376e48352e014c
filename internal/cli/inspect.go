package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/arkilian/csvbulkload/internal/sstable"
)

var errStopScan = errors.New("stop scan")

var inspectCmd = &cobra.Command{
	Use:   "inspect <table_dir>",
	Short: "List the segments of a table directory",
	Long: `Inspect lists every complete segment in a table directory with its
generation, row and partition counts, size and token range.

Incomplete segments (no TOC) are not listed.`,
	Example: `  bulkload inspect ./data/whyso/visit
  bulkload inspect ./data/whyso/visit --verify --rows 5`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var inspectFlags struct {
	verify bool
	rows   int
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectFlags.verify, "verify", false, "Check digests and block checksums")
	inspectCmd.Flags().IntVar(&inspectFlags.rows, "rows", 0, "Print the first N rows of each segment")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	return inspectDir(cmd.OutOrStdout(), args[0], inspectFlags.verify, inspectFlags.rows)
}

func inspectDir(out io.Writer, dir string, verify bool, rows int) error {
	descs, err := sstable.ListSegments(dir)
	if err != nil {
		return err
	}
	if len(descs) == 0 {
		fmt.Fprintf(out, "no segments in %s\n", dir)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEGMENT\tROWS\tPARTITIONS\tSIZE\tCOMPRESSION\tMIN TOKEN\tMAX TOKEN\tCREATED\tSTATUS")

	var totalRows, totalSize int64
	var samples []string
	var failed int
	for _, desc := range descs {
		r, err := sstable.Open(desc)
		if err != nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t-\t-\t-\t%v\n", desc, err)
			failed++
			continue
		}

		stats := r.Stats()
		status := "ok"
		if verify {
			if err := r.Verify(); err != nil {
				status = err.Error()
				failed++
			} else {
				status = "verified"
			}
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			desc,
			humanize.Comma(stats.Stats.RowCount),
			humanize.Comma(stats.Stats.PartitionCount),
			humanize.IBytes(uint64(stats.Stats.DataSizeBytes)),
			stats.Compression,
			stats.Stats.MinToken,
			stats.Stats.MaxToken,
			humanize.Time(stats.CreatedAtTime()),
			status,
		)
		totalRows += stats.Stats.RowCount
		totalSize += stats.Stats.DataSizeBytes

		if rows > 0 {
			samples = append(samples, sampleRows(r, rows)...)
		}
		r.Close()
	}
	tw.Flush()

	fmt.Fprintf(out, "\n%d segments, %s rows, %s\n", len(descs), humanize.Comma(totalRows), humanize.IBytes(uint64(totalSize)))
	for _, s := range samples {
		fmt.Fprintln(out, s)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d segments failed to open or verify", failed, len(descs))
	}
	return nil
}

func sampleRows(r *sstable.Reader, n int) []string {
	cols := r.Stats().Columns
	var lines []string
	err := r.Scan(func(row sstable.Row) error {
		if len(lines) >= n {
			return errStopScan
		}
		parts := make([]string, len(row.Values))
		for i, v := range row.Values {
			name := fmt.Sprintf("c%d", i)
			if i < len(cols) {
				name = cols[i].Name
			}
			val := "null"
			if v != nil {
				val = fmt.Sprintf("%q", *v)
			}
			parts[i] = name + "=" + val
		}
		lines = append(lines, fmt.Sprintf("%s token=%s %s", r.Descriptor(), row.Token, strings.Join(parts, " ")))
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		lines = append(lines, fmt.Sprintf("%s scan failed: %v", r.Descriptor(), err))
	}
	return lines
}
