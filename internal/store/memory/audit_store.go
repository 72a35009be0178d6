package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

// AuditStore implements domain.AuditStore in memory.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	nextID  int64
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{nextID: 1}
}

// Log appends an audit entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, domain.AuditEntry{
		ID:        s.nextID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	s.nextID++
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.AuditEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		out = append(out, s.entries[i])
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
