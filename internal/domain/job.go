package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Job is the work descriptor handed out by the coordinator.
type Job struct {
	UUID   string `json:"uuid"`
	Target string `json:"target"`
	Port   int    `json:"port"`
}

// UnmarshalJSON accepts the port as a number or a numeric string.
func (j *Job) UnmarshalJSON(data []byte) error {
	var raw struct {
		UUID   string          `json:"uuid"`
		Target string          `json:"target"`
		Port   json.RawMessage `json:"port"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	j.UUID = raw.UUID
	j.Target = raw.Target
	j.Port = 0
	if len(raw.Port) == 0 || string(raw.Port) == "null" {
		return nil
	}

	var port int
	if err := json.Unmarshal(raw.Port, &port); err == nil {
		j.Port = port
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.Port, &s); err != nil {
		return fmt.Errorf("port: %w", err)
	}
	port, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("port: %w", err)
	}
	j.Port = port
	return nil
}

// Validate checks that the coordinator sent a usable job.
func (j *Job) Validate() error {
	switch {
	case j.UUID == "":
		return errors.New("work has no uuid")
	case j.Target == "":
		return errors.New("work has no target")
	case j.Port < 1 || j.Port > 65535:
		return fmt.Errorf("work has invalid port %d", j.Port)
	}
	return nil
}

// ScanResult is whatever the scan engine produced. The worker never looks
// inside it; it only has to be JSON serializable.
type ScanResult any

// JobFailure is posted in place of a scan result when the engine failed,
// so the coordinator can reschedule the job instead of waiting on it.
type JobFailure struct {
	UUID     string    `json:"uuid"`
	Status   string    `json:"status"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// NewJobFailure builds the failure document for a job.
func NewJobFailure(jobID string, err error) JobFailure {
	return JobFailure{
		UUID:     jobID,
		Status:   "failed",
		Error:    err.Error(),
		FailedAt: time.Now().UTC(),
	}
}

// WorkResponse is the raw body returned by GET /api/v1/work.
type WorkResponse struct {
	Work  json.RawMessage `json:"work,omitempty"`
	Error *string         `json:"error,omitempty"`
}
