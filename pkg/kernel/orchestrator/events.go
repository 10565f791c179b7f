package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/ormasoftchile/tcrun/pkg/kernel/verify"
)

// EventType names an orchestration lifecycle event.
type EventType string

const (
	EventStarted         EventType = "started"
	EventAttemptStarted  EventType = "attempt_started"
	EventAttemptFinished EventType = "attempt_finished"
	EventFinished        EventType = "finished"
)

// Event reports progress of one test case.
type Event struct {
	Type       EventType
	TestCaseID string
	Worker     int
	Attempt    int
	Result     *Result // attempt_finished and finished only
	Time       time.Time
}

// Attempt is the persisted record of one attempt.
type Attempt struct {
	RunID      string
	TestCaseID string
	Number     int
	Verdict    verify.Verdict
	StartedAt  time.Time
	Duration   time.Duration
	Error      string
	ErrKind    ErrorKind
	LogPath    string
}

// Recorder persists attempts, e.g. to a history database.
type Recorder interface {
	SaveAttempt(ctx context.Context, a Attempt) error
}

// Stats is a running tally built from events.
type Stats struct {
	mu            sync.Mutex
	Total         int
	Running       int
	Completed     int
	Passed        int
	Failed        int
	NotExecuted   int
	TotalAttempts int
}

// NewStats returns a tally for total test cases.
func NewStats(total int) *Stats { return &Stats{Total: total} }

// Observe folds e into the tally.
func (s *Stats) Observe(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch e.Type {
	case EventStarted:
		s.Running++
	case EventAttemptStarted:
		s.TotalAttempts++
	case EventFinished:
		if e.Attempt > 0 {
			s.Running--
		}
		s.Completed++
		if e.Result == nil {
			return
		}
		switch e.Result.Verdict {
		case verify.Pass:
			s.Passed++
		case verify.Fail:
			s.Failed++
		default:
			s.NotExecuted++
		}
	}
}

// Snapshot returns a copy safe to read without locking.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Total:         s.Total,
		Running:       s.Running,
		Completed:     s.Completed,
		Passed:        s.Passed,
		Failed:        s.Failed,
		NotExecuted:   s.NotExecuted,
		TotalAttempts: s.TotalAttempts,
	}
}
