// Package cli implements the bulkload command line.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bulkload",
	Short: "Bulk-load a CSV file into sorted table segments",
	Long: `bulkload streams a delimited text file into immutable, sorted table
segments under <output>/<keyspace>/<table>/, ready to be handed to the
storage engine's bulk import.

Running bulkload without a subcommand performs a load.

Exit Codes:
  0  - Success (row rejections do not change the exit code)
  1  - General error
  2  - CLI usage error (invalid arguments or flags)
  10 - Invalid configuration
  11 - Output directory cannot be created
  12 - Input file not found
  13 - Invalid schema or insert statement
  14 - Malformed row (or rejected row with --on-reject=abort)
  15 - Segment flush failed
  16 - Publishing failed`,
	Args:          cobra.NoArgs,
	RunE:          runLoad,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	addLoadFlags(rootCmd)
}
