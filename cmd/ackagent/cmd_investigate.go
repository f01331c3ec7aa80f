package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/moosh3/ack-agent/internal/models"
	"github.com/moosh3/ack-agent/internal/reasoning/engine"
)

var investigateFlags struct {
	file         string
	incidentID   string
	service      string
	incidentType string
	severity     string
	description  string
	timestamp    string
	format       string
	quiet        bool
}

var investigateCmd = &cobra.Command{
	Use:   "investigate",
	Short: "Investigate one incident and print the result",
	Long: "Investigate runs every planned domain for one incident, streams progress and\n" +
		"prints the ranked root causes. The payload comes from flags or from --file\n" +
		"(JSON or YAML).",
	Example: "  ackagent investigate --service checkout --type availability --severity high \\\n" +
		"    --description \"pods crashing after deployment\"",
	Args: cobra.NoArgs,
	RunE: runInvestigate,
}

func init() {
	f := investigateCmd.Flags()
	f.StringVarP(&investigateFlags.file, "file", "f", "", "incident payload file (JSON or YAML)")
	f.StringVar(&investigateFlags.incidentID, "incident-id", "", "incident id (derived when empty)")
	f.StringVarP(&investigateFlags.service, "service", "s", "", "affected service")
	f.StringVarP(&investigateFlags.incidentType, "type", "t", "", "incident type, e.g. availability or latency")
	f.StringVar(&investigateFlags.severity, "severity", "", "incident severity")
	f.StringVarP(&investigateFlags.description, "description", "d", "", "free-text description")
	f.StringVar(&investigateFlags.timestamp, "timestamp", "", "incident time, RFC 3339 (default now)")
	f.StringVarP(&investigateFlags.format, "output", "o", "text", "output format: text, markdown or json")
	f.BoolVarP(&investigateFlags.quiet, "quiet", "q", false, "do not print progress events")
}

func investigatePayload() (models.IncidentPayload, error) {
	var p models.IncidentPayload
	if investigateFlags.file != "" {
		data, err := os.ReadFile(investigateFlags.file)
		if err != nil {
			return p, fmt.Errorf("read payload: %w", err)
		}
		// YAML is a superset of JSON.
		if err := yaml.Unmarshal(data, &p); err != nil {
			return p, fmt.Errorf("parse payload: %w", err)
		}
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&p.IncidentID, investigateFlags.incidentID)
	set(&p.ServiceName, investigateFlags.service)
	set(&p.IncidentType, investigateFlags.incidentType)
	set(&p.Severity, investigateFlags.severity)
	set(&p.Description, investigateFlags.description)
	set(&p.Timestamp, investigateFlags.timestamp)
	if p.Timestamp == "" {
		p.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return p, nil
}

func runInvestigate(cmd *cobra.Command, _ []string) error {
	switch investigateFlags.format {
	case "text", "markdown", "json":
	default:
		return fmt.Errorf("unknown output format %q", investigateFlags.format)
	}
	payload, err := investigatePayload()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, _, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.Engine.Start(ctx, payload)
	if err != nil {
		return err
	}

	errOut := cmd.ErrOrStderr()
	for ev := range run.Follow(ctx) {
		if investigateFlags.quiet || ev.Type != engine.EventProgress {
			continue
		}
		fmt.Fprintf(errOut, "[%s] %s\n", ev.Timestamp.Format("15:04:05"), ev.Message)
	}

	// Interrupting stops the output only; the run finishes and is archived.
	result, err := run.Wait(cmd.Context())
	if err != nil {
		return fmt.Errorf("investigation %s failed: %w", run.ID, err)
	}

	out := cmd.OutOrStdout()
	switch investigateFlags.format {
	case "json":
		return printJSON(out, result)
	case "markdown":
		_, err := fmt.Fprint(out, result.Report)
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprint(out, result.FinalSummary)
	fmt.Fprintln(out)

	rows := make([][]string, 0, len(result.RootCauses))
	for i, rc := range result.RootCauses {
		rows = append(rows, []string{strconv.Itoa(i + 1), rc.Domain, percent(rc.Confidence), truncate(rc.Description, 70)})
	}
	if len(rows) > 0 {
		if err := renderTable(out, []string{"#", "Domain", "Confidence", "Root cause"}, rows); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "\nIncident %s, run %s, report artifact %s (%s)\n",
		result.Incident.IncidentID, result.RunID, result.ReportArtifactID, result.Duration.Round(time.Millisecond))
	return nil
}
