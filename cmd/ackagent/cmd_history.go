package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/moosh3/ack-agent/internal/reasoning/report"
)

var historyFlags struct {
	service  string
	limit    int
	offset   int
	insights bool
	lookback int
	format   string
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past incidents and mined insights",
	Example: "  ackagent history --service checkout\n" +
		"  ackagent history --service checkout --insights --lookback 14",
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	f := historyCmd.Flags()
	f.StringVarP(&historyFlags.service, "service", "s", "", "only incidents of this service")
	f.IntVarP(&historyFlags.limit, "limit", "n", 20, "maximum incidents to list")
	f.IntVar(&historyFlags.offset, "offset", 0, "incidents to skip")
	f.BoolVar(&historyFlags.insights, "insights", false, "show recurring causes and symptoms (requires --service)")
	f.IntVar(&historyFlags.lookback, "lookback", 0, "insight window in days (default investigation.lookback_days)")
	f.StringVarP(&historyFlags.format, "output", "o", "table", "output format: table or json")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if historyFlags.insights && historyFlags.service == "" {
		return fmt.Errorf("--insights requires --service")
	}
	ctx := cmd.Context()
	a, _, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	if historyFlags.insights {
		lookback := historyFlags.lookback
		if lookback <= 0 {
			lookback = a.Config.Investigation.LookbackDays
		}
		insight, err := a.Miner.Insights(ctx, historyFlags.service, "", lookback)
		if err != nil {
			return err
		}
		if historyFlags.format == "json" {
			return printJSON(out, insight)
		}
		if insight.PastIncidentsCount == 0 {
			fmt.Fprintf(out, "No incidents of %s in the last %d days.\n", historyFlags.service, lookback)
			return nil
		}
		fmt.Fprint(out, report.HistoryText(insight))
		rows := make([][]string, 0, len(insight.CommonRootCauses))
		for _, c := range insight.CommonRootCauses {
			rows = append(rows, []string{truncate(c.Cause, 80), strconv.Itoa(c.Count)})
		}
		if len(rows) == 0 {
			return nil
		}
		fmt.Fprintln(out)
		return renderTable(out, []string{"Root cause", "Seen"}, rows)
	}

	incidents, err := a.Store.ListIncidents(ctx, historyFlags.service, historyFlags.limit, historyFlags.offset)
	if err != nil {
		return err
	}
	if historyFlags.format == "json" {
		return printJSON(out, incidents)
	}
	if len(incidents) == 0 {
		fmt.Fprintln(out, "No incidents recorded.")
		return nil
	}
	rows := make([][]string, 0, len(incidents))
	for _, inc := range incidents {
		rows = append(rows, []string{
			inc.ID,
			inc.ServiceName,
			inc.IncidentType,
			inc.Severity,
			inc.Timestamp.UTC().Format(time.RFC3339),
			truncate(inc.Description, 50),
		})
	}
	return renderTable(out, []string{"Incident", "Service", "Type", "Severity", "Occurred", "Description"}, rows)
}
