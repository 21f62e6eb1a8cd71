package domain

import "fmt"

// ErrConfiguration reports a missing or malformed connection parameter.
// It is only ever returned at startup.
type ErrConfiguration struct {
	Field  string
	Reason string
}

func (e ErrConfiguration) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("configuration: %s not specified", e.Field)
	}
	return fmt.Sprintf("configuration: %s %s", e.Field, e.Reason)
}

// ErrUnreachable means the coordinator could not be reached at the network
// level (refused, no route, DNS failure, dial timeout).
type ErrUnreachable struct {
	Op   string
	Addr string
	Err  error
}

func (e ErrUnreachable) Error() string {
	return fmt.Sprintf("%s: cannot reach %s: %v", e.Op, e.Addr, e.Err)
}

func (e ErrUnreachable) Unwrap() error {
	return e.Err
}

// ErrProtocol covers every other coordinator failure: non-2xx statuses,
// unreadable bodies and payloads that do not parse.
type ErrProtocol struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e ErrProtocol) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Body)
	}
}

func (e ErrProtocol) Unwrap() error {
	return e.Err
}

// ErrJob wraps a scan engine failure for a single job.
type ErrJob struct {
	JobID string
	Err   error
}

func (e ErrJob) Error() string {
	return fmt.Sprintf("job %s: %v", e.JobID, e.Err)
}

func (e ErrJob) Unwrap() error {
	return e.Err
}

// ErrResultEncoding means a job result could not be serialized for posting.
type ErrResultEncoding struct {
	JobID string
	Err   error
}

func (e ErrResultEncoding) Error() string {
	return fmt.Sprintf("encode result for job %s: %v", e.JobID, e.Err)
}

func (e ErrResultEncoding) Unwrap() error {
	return e.Err
}
