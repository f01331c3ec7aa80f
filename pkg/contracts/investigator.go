package contracts

// Package contracts defines the wire contract between the ack-agent
// orchestrator and domain investigators.
//
// The same JSON shapes travel over HTTP (POST <base>/tasks/<task>) and over
// gRPC (ackagent.v1.Investigator/Invoke, carried as google.protobuf.Struct).

import (
	"encoding/json"
	"fmt"
)

// TaskStatus is the outcome of one investigator task.
type TaskStatus string

const (
	StatusSuccess TaskStatus = "success"
	StatusError   TaskStatus = "error"
	StatusPartial TaskStatus = "partial"
)

// TaskRequest invokes a named task with a typed parameter object.
type TaskRequest struct {
	TaskID     string          `json:"task_id,omitempty"`
	Task       string          `json:"task"`
	Parameters json.RawMessage `json:"parameters"`
}

// TaskResponse is returned by every investigator task.
type TaskResponse struct {
	Status          TaskStatus      `json:"status"`
	TaskID          string          `json:"task_id,omitempty"`
	TaskName        string          `json:"task_name"`
	Result          json.RawMessage `json:"result,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ExecutionTimeMs int64           `json:"execution_time_ms,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// Validate checks the response invariants: a known status, and a non-empty
// error message on any non-success status.
func (r *TaskResponse) Validate() error {
	switch r.Status {
	case StatusSuccess:
		return nil
	case StatusError, StatusPartial:
		if r.ErrorMessage == "" {
			return fmt.Errorf("task %s returned status %s without an error message", r.TaskName, r.Status)
		}
		return nil
	default:
		return fmt.Errorf("task %s returned unknown status %q", r.TaskName, r.Status)
	}
}

// IsSuccess reports whether the task completed fully.
func (r *TaskResponse) IsSuccess() bool { return r.Status == StatusSuccess }

// HasResult reports whether the response carries a usable result payload.
// Partial responses may carry one.
func (r *TaskResponse) HasResult() bool {
	return (r.Status == StatusSuccess || r.Status == StatusPartial) &&
		len(r.Result) > 0 && string(r.Result) != "null"
}

// DecodeResult unmarshals the result payload into v.
func (r *TaskResponse) DecodeResult(v any) error {
	if !r.HasResult() {
		return nil
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("decode %s result: %w", r.TaskName, err)
	}
	return nil
}
