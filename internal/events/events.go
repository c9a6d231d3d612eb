// Package events publishes submission lifecycle events for downstream
// consumers. Emission is best effort: failures are logged, never surfaced
// to users.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hpungsan/modrelay/internal/logging"
)

// Event types, also used as routing keys.
const (
	TypeReceived      = "submission.received"
	TypeDirect        = "submission.direct"
	TypeApproved      = "submission.approved"
	TypeRejected      = "submission.rejected"
	TypePublishFailed = "publish.failed"
)

// Event is one lifecycle notification.
type Event struct {
	Type         string    `json:"type"`
	SubmissionID string    `json:"submission_id,omitempty"`
	SubmitterID  int64     `json:"submitter_id"`
	Role         string    `json:"role,omitempty"`
	Subject      string    `json:"subject,omitempty"`
	Kind         string    `json:"kind,omitempty"`
	Items        int       `json:"items"`
	DecidedBy    int64     `json:"decided_by,omitempty"`
	Error        string    `json:"error,omitempty"`
	Time         time.Time `json:"time"`
}

// Sink receives events.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }
func (Nop) Close() error                      { return nil }

// Emit sends ev to sink, stamping the time, and logs a failure instead of
// returning it. A nil sink is a no-op.
func Emit(ctx context.Context, sink Sink, logger *slog.Logger, ev Event) {
	if sink == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if err := sink.Emit(ctx, ev); err != nil {
		logging.OrDiscard(logger).Warn("event emission failed", "type", ev.Type, "submission_id", ev.SubmissionID, "error", err)
	}
}

// Memory keeps events in order. Safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Emit(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) Close() error { return nil }

// Events returns a copy of the recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Types returns the recorded event types in order.
func (m *Memory) Types() []string {
	var out []string
	for _, ev := range m.Events() {
		out = append(out, ev.Type)
	}
	return out
}
