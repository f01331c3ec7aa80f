package investigator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/moosh3/ack-agent/pkg/contracts"
)

// maxResponseBytes bounds how much of an investigator reply is read.
const maxResponseBytes = 16 << 20

// HTTPInvestigator calls a remote investigator over HTTP. Each task is a
// POST of a contracts.TaskRequest to <baseURL>/tasks/<task>.
type HTTPInvestigator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPInvestigator creates an HTTP investigator. A nil client gets a
// default with the given timeout.
func NewHTTPInvestigator(baseURL string, client *http.Client, timeout time.Duration) (*HTTPInvestigator, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid investigator url %q: %w", baseURL, err)
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPInvestigator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}, nil
}

// Invoke posts the task and decodes the contract response.
func (h *HTTPInvestigator) Invoke(ctx context.Context, task string, params any) (*contracts.TaskResponse, error) {
	paramData, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s parameters: %w", task, err)
	}
	body, err := json.Marshal(contracts.TaskRequest{Task: task, Parameters: paramData})
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", task, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/tasks/"+url.PathEscape(task), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", task, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", task, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", task, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("call %s: unexpected status %d: %s", task, resp.StatusCode, truncate(string(data), 200))
	}

	var out contracts.TaskResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", task, err)
	}
	if out.TaskName == "" {
		out.TaskName = task
	}
	if out.ExecutionTimeMs == 0 {
		out.ExecutionTimeMs = time.Since(start).Milliseconds()
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
