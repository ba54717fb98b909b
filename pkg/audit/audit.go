// Package audit records the opaque per-step input/output trail of a
// collaboration. The engine only appends records and reads them back; no
// particular storage schema is required of implementations.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record kinds.
const (
	KindInput  = "input"
	KindOutput = "output"
	KindError  = "error"
)

// Record is one audit-trail entry for a step.
type Record struct {
	ID              string
	CollaborationID string
	StepID          string
	Worker          string
	Kind            string
	Content         string
	CreatedAt       time.Time
}

// Store appends and lists audit records.
type Store interface {
	// Append stores the record and returns its identifier.
	Append(ctx context.Context, rec *Record) (string, error)

	// List returns all records for a collaboration in append order.
	List(ctx context.Context, collaborationID string) ([]*Record, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores the record and returns its identifier.
func (s *MemoryStore) Append(_ context.Context, rec *Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.records = append(s.records, &cp)
	return cp.ID, nil
}

// List returns all records for a collaboration in append order.
func (s *MemoryStore) List(_ context.Context, collaborationID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, rec := range s.records {
		if rec.CollaborationID == collaborationID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}
