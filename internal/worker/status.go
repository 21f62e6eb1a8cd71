package worker

import (
	"sync/atomic"
	"time"
)

// State is the loop state shown by the status server.
type State string

const (
	StatePolling     State = "polling"
	StateIdle        State = "idle"
	StateWorking     State = "working"
	StateUnreachable State = "unreachable"
	StateStopped     State = "stopped"
)

// Status publishes loop progress to readers on other goroutines. The loop
// is its only writer.
type Status struct {
	workerID string

	state      atomic.Value // State
	currentJob atomic.Value // string
	lastError  atomic.Value // string
	lastPollAt atomic.Int64

	polls         atomic.Uint64
	jobsCompleted atomic.Uint64
	jobsFailed    atomic.Uint64
	unreachable   atomic.Uint64
}

// StatusSnapshot is a point-in-time copy of Status.
type StatusSnapshot struct {
	WorkerID      string     `json:"worker_id"`
	State         State      `json:"state"`
	CurrentJob    string     `json:"current_job,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastPollAt    *time.Time `json:"last_poll_at,omitempty"`
	Polls         uint64     `json:"polls"`
	JobsCompleted uint64     `json:"jobs_completed"`
	JobsFailed    uint64     `json:"jobs_failed"`
	Unreachable   uint64     `json:"unreachable"`
}

func newStatus(workerID string) *Status {
	s := &Status{workerID: workerID}
	s.state.Store(StatePolling)
	s.currentJob.Store("")
	s.lastError.Store("")
	return s
}

func (s *Status) setState(state State) {
	s.state.Store(state)
}

func (s *Status) polled() {
	s.polls.Add(1)
	s.lastPollAt.Store(time.Now().UnixNano())
}

func (s *Status) startJob(jobID string) {
	s.currentJob.Store(jobID)
	s.setState(StateWorking)
}

func (s *Status) finishJob(err error) {
	s.currentJob.Store("")
	if err != nil {
		s.jobsFailed.Add(1)
		s.fail(err)
		return
	}
	s.jobsCompleted.Add(1)
}

func (s *Status) fail(err error) {
	s.lastError.Store(err.Error())
}

func (s *Status) markUnreachable(err error) {
	s.unreachable.Add(1)
	s.fail(err)
	s.setState(StateUnreachable)
}

// Snapshot returns the current counters.
func (s *Status) Snapshot() StatusSnapshot {
	snap := StatusSnapshot{
		WorkerID:      s.workerID,
		State:         s.state.Load().(State),
		CurrentJob:    s.currentJob.Load().(string),
		LastError:     s.lastError.Load().(string),
		Polls:         s.polls.Load(),
		JobsCompleted: s.jobsCompleted.Load(),
		JobsFailed:    s.jobsFailed.Load(),
		Unreachable:   s.unreachable.Load(),
	}
	if ns := s.lastPollAt.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		snap.LastPollAt = &t
	}
	return snap
}
