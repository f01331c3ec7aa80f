package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// writeConfig writes a config that keeps all state under a temp dir and
// answers investigators from the sample fixtures.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	fixture, err := filepath.Abs(filepath.Join("..", "..", "config", "fixtures", "checkout.yaml"))
	require.NoError(t, err)

	var investigators string
	for _, d := range []string{"infrastructure", "logs", "code", "metrics"} {
		investigators += fmt.Sprintf("  %s:\n    kind: static\n    fixture: %s\n", d, fixture)
	}
	cfg := fmt.Sprintf(`
database:
  sqlite_path: %s
artifacts:
  dir: %s
investigators:
%slogging:
  level: warn
  app_log_path: %s
  audit_log_path: %s
`,
		filepath.Join(dir, "ack.db"),
		filepath.Join(dir, "artifacts"),
		investigators,
		filepath.Join(dir, "app.log"),
		filepath.Join(dir, "audit.log"),
	)
	path := filepath.Join(dir, "ack-agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ackagent dev")
}

func TestInvestigatePayload(t *testing.T) {
	t.Cleanup(func() { investigateFlags.file, investigateFlags.severity, investigateFlags.timestamp = "", "", "" })

	path := filepath.Join(t.TempDir(), "incident.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "service_name": "checkout",
  "incident_type": "availability",
  "severity": "high",
  "description": "5xx spike"
}`), 0o644))

	investigateFlags.file = path
	investigateFlags.severity = "critical"

	p, err := investigatePayload()
	require.NoError(t, err)
	assert.Equal(t, "checkout", p.ServiceName)
	assert.Equal(t, "critical", p.Severity, "flags override the file")
	assert.NotEmpty(t, p.Timestamp)
}

func TestInvestigateAndReport(t *testing.T) {
	cfgPath := writeConfig(t)
	t.Cleanup(func() {
		investigateFlags.incidentID, investigateFlags.service, investigateFlags.incidentType = "", "", ""
		investigateFlags.severity, investigateFlags.description, investigateFlags.timestamp = "", "", ""
		investigateFlags.quiet = false
		reportFlags.findings, reportFlags.source = false, ""
		historyFlags.service = ""
	})

	out, err := execute(t, "--config", cfgPath, "investigate",
		"--incident-id", "INC-CLI-1",
		"--service", "checkout",
		"--type", "availability",
		"--severity", "high",
		"--description", "checkout pods crashing",
		"--timestamp", "2024-03-05T14:00:00Z",
		"--quiet",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "## Investigation Results for checkout availability incident")
	assert.Contains(t, out, "INC-CLI-1")

	out, err = execute(t, "--config", cfgPath, "report", "INC-CLI-1")
	require.NoError(t, err)
	assert.Contains(t, out, "*Report generated on ")

	out, err = execute(t, "--config", cfgPath, "report", "INC-CLI-1", "--findings", "--source", "root_cause")
	require.NoError(t, err)
	assert.Contains(t, out, "root_cause")

	out, err = execute(t, "--config", cfgPath, "history", "--service", "checkout")
	require.NoError(t, err)
	assert.Contains(t, out, "INC-CLI-1")
}

func TestHistoryInsightsRequiresService(t *testing.T) {
	t.Cleanup(func() { historyFlags.insights = false })

	_, err := execute(t, "history", "--insights")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--service")
}
