package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/killswitch/internal/incident"
)

var incidentsCmd = &cobra.Command{
	Use:   "incidents [id]",
	Short: "List recorded incidents",
	Long: `List the escalations recorded in the incident ledger, newest first, or
show one incident in full.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIncidents,
}

var (
	incidentsLimit int
	incidentsJSON  bool
)

func init() {
	rootCmd.AddCommand(incidentsCmd)

	incidentsCmd.Flags().IntVar(&incidentsLimit, "limit", 20, "maximum incidents to list")
	incidentsCmd.Flags().BoolVar(&incidentsJSON, "json", false, "output as JSON")
}

func runIncidents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Incidents.DBPath == "" {
		return fmt.Errorf("incidents.db_path is not configured")
	}
	if _, err := os.Stat(cfg.Incidents.DBPath); os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), "No incidents recorded.")
		return nil
	}

	store, err := incident.NewStore(cfg.Incidents.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		inc, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return outputJSON(cmd.OutOrStdout(), inc)
	}

	list, err := store.List(cmd.Context(), incidentsLimit)
	if err != nil {
		return err
	}
	if incidentsJSON {
		if list == nil {
			list = []*incident.Incident{}
		}
		return outputJSON(cmd.OutOrStdout(), list)
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No incidents recorded.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tPID\tFLAGS\tEVENTS\tKILLED\tFAILED\tDURATION")
	for _, inc := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d/%d\t%t\t%d\t%s\n",
			inc.ID,
			inc.StartedAt.Local().Format("2006-01-02 15:04:05"),
			inc.PID,
			inc.Flags,
			inc.Count, inc.Threshold,
			inc.Killed,
			inc.Failed,
			inc.Duration().Round(time.Millisecond))
	}
	return w.Flush()
}
