package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		dbPath string
		name   string
		limit  int
		asJSON bool
		prune  int
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()

			if prune > 0 {
				n, err := store.Prune(prune)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted %d run(s)\n", n)
				return nil
			}

			if len(args) == 1 {
				e, err := store.Get(args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(e)
			}

			entries, err := store.List(name, limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tNAME\tSTARTED\tDURATION\tRESULT\tREQS\tRPS\tERRORS\tP95")
			for _, e := range entries {
				result := "passed"
				switch {
				case !e.Passed:
					result = "failed"
				case e.Aborted:
					result = "stopped"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%.1f\t%.2f%%\t%.0fms\n",
					e.RunID, e.Name, e.StartTime.Local().Format("2006-01-02 15:04"),
					e.Duration.Round(time.Second), result,
					e.Requests, e.RPS, e.ErrorRate*100, e.LatencyP95Ms)
			}
			return tw.Flush()
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&dbPath, "db", "", "History database (default ~/.rampvu/history.db)")
	fl.StringVar(&name, "name", "", "Only list runs with this test name")
	fl.IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list (0 for all)")
	fl.BoolVar(&asJSON, "json", false, "Print the list as JSON")
	fl.IntVar(&prune, "prune", 0, "Keep only the newest N runs")

	return cmd
}
