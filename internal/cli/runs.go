package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	bulkerr "github.com/arkilian/csvbulkload/internal/errors"
	"github.com/arkilian/csvbulkload/internal/manifest"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent load runs recorded in the manifest",
	Example: `  bulkload runs --output ./data
  bulkload runs --manifest /var/lib/bulkload/manifest.db --limit 50`,
	Args: cobra.NoArgs,
	RunE: runRuns,
}

var runsFlags struct {
	output   string
	manifest string
	limit    int
}

func init() {
	runsCmd.Flags().StringVarP(&runsFlags.output, "output", "o", "./data", "Output root directory holding manifest.db")
	runsCmd.Flags().StringVar(&runsFlags.manifest, "manifest", "", "Manifest file (default <output>/manifest.db)")
	runsCmd.Flags().IntVarP(&runsFlags.limit, "limit", "n", 20, "Number of runs to show (0 for all)")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	path := runsFlags.manifest
	if path == "" {
		path = filepath.Join(runsFlags.output, "manifest.db")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return listRuns(ctx, cmd.OutOrStdout(), path, runsFlags.limit)
}

func listRuns(ctx context.Context, out io.Writer, path string, limit int) error {
	if _, err := os.Stat(path); err != nil {
		return bulkerr.NewConfigError(fmt.Sprintf("no manifest at %s", path), err)
	}

	catalog, err := manifest.NewCatalog(path)
	if err != nil {
		return err
	}
	defer catalog.Close()

	runs, err := catalog.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tTABLE\tSTARTED\tSTATUS\tREAD\tWRITTEN\tREJECTED\tSKIPPED\tINPUT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s.%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.Keyspace, r.Table,
			humanize.Time(r.StartedAt),
			r.Status,
			humanize.Comma(r.RowsRead),
			humanize.Comma(r.RowsWritten),
			humanize.Comma(r.RowsRejected),
			humanize.Comma(r.RowsSkipped),
			r.InputPath,
		)
	}
	return tw.Flush()
}
