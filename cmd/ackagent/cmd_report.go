package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/moosh3/ack-agent/internal/artifact"
)

var reportFlags struct {
	findings  bool
	artifacts bool
	source    string
	kind      string
	format    string
}

var reportCmd = &cobra.Command{
	Use:   "report <incident-id>",
	Short: "Print the stored report, findings or artifacts of an incident",
	Example: "  ackagent report INC-1234\n" +
		"  ackagent report INC-1234 --findings --source root_cause\n" +
		"  ackagent report INC-1234 --artifacts --type code",
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	f := reportCmd.Flags()
	f.BoolVar(&reportFlags.findings, "findings", false, "list findings instead of the report")
	f.BoolVar(&reportFlags.artifacts, "artifacts", false, "list artifacts instead of the report")
	f.StringVar(&reportFlags.source, "source", "", "finding source filter (with --findings)")
	f.StringVar(&reportFlags.kind, "type", "", "artifact type filter (with --artifacts)")
	f.StringVarP(&reportFlags.format, "output", "o", "table", "list output format: table or json")
	reportCmd.MarkFlagsMutuallyExclusive("findings", "artifacts")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	incidentID := args[0]

	a, _, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	if _, err := a.Store.GetIncident(ctx, incidentID); err != nil {
		return err
	}

	switch {
	case reportFlags.findings:
		findings, err := a.Store.ListFindings(ctx, incidentID, reportFlags.source)
		if err != nil {
			return err
		}
		if reportFlags.format == "json" {
			return printJSON(out, findings)
		}
		rows := make([][]string, 0, len(findings))
		for _, f := range findings {
			rows = append(rows, []string{
				f.Timestamp.UTC().Format(time.RFC3339),
				f.Source,
				percent(f.Confidence),
				truncate(f.Description, 70),
			})
		}
		return renderTable(out, []string{"Time", "Source", "Confidence", "Description"}, rows)

	case reportFlags.artifacts:
		list, err := a.Artifacts.List(ctx, incidentID, reportFlags.kind)
		if err != nil {
			return err
		}
		if reportFlags.format == "json" {
			return printJSON(out, list)
		}
		rows := make([][]string, 0, len(list))
		for _, art := range list {
			rows = append(rows, []string{art.ID, art.Type, strconv.FormatInt(art.Size, 10), truncate(art.Description, 60)})
		}
		return renderTable(out, []string{"Artifact", "Type", "Bytes", "Description"}, rows)
	}

	reports, err := a.Artifacts.List(ctx, incidentID, artifact.TypeReport)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		return fmt.Errorf("no report stored for incident %s", incidentID)
	}
	latest, err := a.Artifacts.Get(ctx, reports[len(reports)-1].ID)
	if err != nil {
		return err
	}
	_, err = out.Write(latest.Content)
	return err
}
