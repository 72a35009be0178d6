package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

type redemptionKey struct {
	marketID    string
	participant string
}

// RedemptionStore implements domain.RedemptionStore in memory.
type RedemptionStore struct {
	mu      sync.RWMutex
	records map[redemptionKey]domain.RedemptionRecord
}

// NewRedemptionStore creates an empty RedemptionStore.
func NewRedemptionStore() *RedemptionStore {
	return &RedemptionStore{records: make(map[redemptionKey]domain.RedemptionRecord)}
}

// Create inserts a record, rejecting duplicates with ErrAlreadyRedeemed.
func (s *RedemptionStore) Create(_ context.Context, rec domain.RedemptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := redemptionKey{rec.MarketID, rec.Participant}
	if _, ok := s.records[key]; ok {
		return domain.ErrAlreadyRedeemed
	}
	s.records[key] = rec
	return nil
}

// Get returns the record for (market, participant).
func (s *RedemptionStore) Get(_ context.Context, marketID, participant string) (domain.RedemptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[redemptionKey{marketID, participant}]
	if !ok {
		return domain.RedemptionRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// ListByMarket returns every redemption for a market.
func (s *RedemptionStore) ListByMarket(_ context.Context, marketID string) ([]domain.RedemptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.RedemptionRecord
	for key, rec := range s.records {
		if key.marketID == marketID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].Participant < out[b].Participant
	})
	return out, nil
}

var _ domain.RedemptionStore = (*RedemptionStore)(nil)
