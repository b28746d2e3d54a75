package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/killswitch/internal/census"
	"github.com/hugo-lorenzo-mato/killswitch/internal/host/hprof"
)

var histogramCmd = &cobra.Command{
	Use:   "histogram <file.hprof>",
	Short: "Print the class histogram of a heap dump",
	Long: `Print the per-class instance count and size of the live objects in an
HPROF heap dump, in the same format used during an escalation.

Examples:
  killswitch histogram java_pid4242.hprof
  killswitch histogram --max-entries 0 heap.hprof   # every class`,
	Args: cobra.ExactArgs(1),
	RunE: runHistogram,
}

var (
	histogramMaxEntries int
	histogramJSON       bool
)

func init() {
	rootCmd.AddCommand(histogramCmd)

	histogramCmd.Flags().IntVar(&histogramMaxEntries, "max-entries", 100, "rows to print (0 = all)")
	histogramCmd.Flags().BoolVar(&histogramJSON, "json", false, "print the rows as JSON")
}

func runHistogram(cmd *cobra.Command, args []string) error {
	if histogramMaxEntries < 0 {
		return fmt.Errorf("--max-entries must not be negative")
	}

	dump, err := hprof.Open(args[0])
	if err != nil {
		return err
	}
	h, err := census.Run(dump)
	if err != nil {
		return err
	}

	entries, demangleErr := census.Demangle(h.Entries(histogramMaxEntries))
	if histogramJSON {
		if err := outputJSON(cmd.OutOrStdout(), entries); err != nil {
			return err
		}
		return demangleErr
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Heap dump %s: %d classes, %d objects, taken %s\n",
		args[0], dump.ClassCount(), dump.ObjectCount(), dump.Timestamp().UTC().Format("2006-01-02 15:04:05 MST"))
	if err := census.Render(out, entries); err != nil {
		return err
	}
	return demangleErr
}
