package investigator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moosh3/ack-agent/internal/models"
	"github.com/moosh3/ack-agent/pkg/contracts"
)

// FixtureTask is a canned answer for one task.
type FixtureTask struct {
	Status       contracts.TaskStatus `yaml:"status"`
	ErrorMessage string               `yaml:"error_message"`
	Delay        time.Duration        `yaml:"delay"`
	Result       any                  `yaml:"result"`
}

// Static answers tasks from fixtures. It backs offline runs, demos and tests.
type Static struct {
	domain models.Domain
	tasks  map[string]FixtureTask

	mu    sync.Mutex
	calls []string
}

// NewStatic creates a fixture investigator for a domain.
func NewStatic(domain models.Domain, tasks map[string]FixtureTask) *Static {
	if tasks == nil {
		tasks = map[string]FixtureTask{}
	}
	return &Static{domain: domain, tasks: tasks}
}

// LoadFixtureFile reads a YAML document keyed by domain then task name:
//
//	infrastructure:
//	  check_pod_status:
//	    status: success
//	    result:
//	      unhealthy_pods: [{name: checkout-1, status: CrashLoopBackOff}]
func LoadFixtureFile(path string) (map[models.Domain]*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture file: %w", err)
	}
	return ParseFixtures(data)
}

// ParseFixtures parses fixture YAML. Unknown domains are rejected.
func ParseFixtures(data []byte) (map[models.Domain]*Static, error) {
	var raw map[string]map[string]FixtureTask
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	known := map[models.Domain]bool{}
	for _, d := range models.AllDomains {
		known[d] = true
	}
	out := make(map[models.Domain]*Static, len(raw))
	for name, tasks := range raw {
		d := models.Domain(name)
		if !known[d] {
			return nil, fmt.Errorf("parse fixtures: unknown domain %q", name)
		}
		out[d] = NewStatic(d, tasks)
	}
	return out, nil
}

// Invoke returns the fixture for task. Tasks without a fixture succeed with an
// empty result.
func (s *Static) Invoke(ctx context.Context, task string, _ any) (*contracts.TaskResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, task)
	s.mu.Unlock()

	start := time.Now()
	ft, ok := s.tasks[task]
	if ft.Delay > 0 {
		select {
		case <-time.After(ft.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	resp := &contracts.TaskResponse{
		Status:   contracts.StatusSuccess,
		TaskName: task,
		Metadata: map[string]any{"domain": string(s.domain), "source": "fixture"},
	}
	if !ok {
		resp.ExecutionTimeMs = time.Since(start).Milliseconds()
		return resp, nil
	}
	if ft.Status != "" {
		resp.Status = ft.Status
	}
	resp.ErrorMessage = ft.ErrorMessage
	if ft.Result != nil {
		data, err := json.Marshal(ft.Result)
		if err != nil {
			return nil, fmt.Errorf("encode fixture result for %s: %w", task, err)
		}
		resp.Result = data
	}
	resp.ExecutionTimeMs = time.Since(start).Milliseconds()
	return resp, nil
}

// Calls returns the task names invoked so far, in order.
func (s *Static) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}
