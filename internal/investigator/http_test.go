package investigator

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moosh3/ack-agent/pkg/contracts"
)

const testBaseURL = "http://logs-investigator.local"

func newMockedHTTPInvestigator(t *testing.T) (*HTTPInvestigator, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	inv, err := NewHTTPInvestigator(testBaseURL+"/", &http.Client{Transport: transport}, time.Second)
	require.NoError(t, err)
	return inv, transport
}

func TestHTTPInvestigator_Invoke(t *testing.T) {
	inv, transport := newMockedHTTPInvestigator(t)

	var got contracts.TaskRequest
	transport.RegisterResponder(http.MethodPost, testBaseURL+"/tasks/search_logs",
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"status":    "success",
				"task_name": "search_logs",
				"result": []map[string]any{
					{"level": "ERROR", "message": "payment gateway timeout"},
				},
			})
		})

	resp, err := inv.Invoke(context.Background(), TaskSearchLogs, LogSearchParams{
		Query:     `service="checkout" AND level IN ("ERROR","CRITICAL")`,
		TimeRange: "1h",
	})
	require.NoError(t, err)
	require.NoError(t, resp.Validate())

	assert.Equal(t, TaskSearchLogs, got.Task)
	var params LogSearchParams
	require.NoError(t, json.Unmarshal(got.Parameters, &params))
	assert.Equal(t, "1h", params.TimeRange)

	var logs []LogEntry
	require.NoError(t, resp.DecodeResult(&logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "payment gateway timeout", logs[0].Message)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestHTTPInvestigator_PartialKeepsResult(t *testing.T) {
	inv, transport := newMockedHTTPInvestigator(t)
	transport.RegisterResponder(http.MethodPost, testBaseURL+"/tasks/extract_patterns",
		httpmock.NewStringResponder(http.StatusOK,
			`{"status":"partial","error_message":"index lagging","result":[{"pattern":"TimeoutException","count":12}]}`))

	resp, err := inv.Invoke(context.Background(), TaskExtractPatterns, nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusPartial, resp.Status)
	assert.Equal(t, TaskExtractPatterns, resp.TaskName)
	assert.True(t, resp.HasResult())
}

func TestHTTPInvestigator_Errors(t *testing.T) {
	inv, transport := newMockedHTTPInvestigator(t)
	transport.RegisterResponder(http.MethodPost, testBaseURL+"/tasks/search_logs",
		httpmock.NewStringResponder(http.StatusBadGateway, "upstream down"))
	transport.RegisterResponder(http.MethodPost, testBaseURL+"/tasks/analyze_log_volume",
		httpmock.NewStringResponder(http.StatusOK, "not json"))

	_, err := inv.Invoke(context.Background(), TaskSearchLogs, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")

	_, err = inv.Invoke(context.Background(), TaskAnalyzeLogVolume, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode analyze_log_volume response")

	// No responder registered.
	_, err = inv.Invoke(context.Background(), TaskExtractPatterns, nil)
	require.Error(t, err)
}
