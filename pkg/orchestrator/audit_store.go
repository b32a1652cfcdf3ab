package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/jllopis/telos/pkg/errors"
)

// AuditEvent records one step execution for later inspection.
type AuditEvent struct {
	PlanID        string      `json:"plan_id"`
	RunID         string      `json:"run_id"`
	StepID        string      `json:"step_id"`
	AgentID       string      `json:"agent_id,omitempty"`
	Status        string      `json:"status"`
	ErrorKind     errors.Kind `json:"error_kind,omitempty"`
	Output        string      `json:"output,omitempty"`
	RetryAttempts int         `json:"retry_attempts"`
	LatencyMs     int64       `json:"latency_ms"`
	StartedAt     time.Time   `json:"started_at"`
	FinishedAt    time.Time   `json:"finished_at"`
}

// AuditFilter narrows a Query. Zero-value fields match everything.
type AuditFilter struct {
	PlanID string
	RunID  string
	StepID string
	Limit  int
}

// AuditStore persists workflow step outcomes.
type AuditStore interface {
	Record(ctx context.Context, ev AuditEvent) error
	Query(ctx context.Context, f AuditFilter) ([]AuditEvent, error)
	Close() error
}

// MemoryAuditStore keeps events in memory. It is the default store and is
// also used by tests.
type MemoryAuditStore struct {
	mu     sync.RWMutex
	events []AuditEvent
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Record(_ context.Context, ev AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryAuditStore) Query(_ context.Context, f AuditFilter) ([]AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AuditEvent
	for _, ev := range s.events {
		if !matches(ev, f) {
			continue
		}
		out = append(out, ev)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryAuditStore) Close() error { return nil }

func matches(ev AuditEvent, f AuditFilter) bool {
	if f.PlanID != "" && ev.PlanID != f.PlanID {
		return false
	}
	if f.RunID != "" && ev.RunID != f.RunID {
		return false
	}
	if f.StepID != "" && ev.StepID != f.StepID {
		return false
	}
	return true
}
