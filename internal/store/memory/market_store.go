// Package memory implements the domain store and treasury interfaces with
// in-process maps. It backs the engine tests and the sim mode; the postgres
// package is the durable production path.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

// MarketStore implements domain.MarketStore in memory.
type MarketStore struct {
	mu      sync.RWMutex
	markets map[string]domain.Market
}

// NewMarketStore creates an empty MarketStore.
func NewMarketStore() *MarketStore {
	return &MarketStore{markets: make(map[string]domain.Market)}
}

func cloneMarket(m domain.Market) domain.Market {
	c := m
	c.Outcomes = append([]string(nil), m.Outcomes...)
	c.Q = append([]uint64(nil), m.Q...)
	if m.WinningOutcome != nil {
		w := *m.WinningOutcome
		c.WinningOutcome = &w
	}
	if m.ResolvedAt != nil {
		ts := *m.ResolvedAt
		c.ResolvedAt = &ts
	}
	return c
}

// Create inserts a new market.
func (s *MarketStore) Create(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.ID] = cloneMarket(m)
	return nil
}

// Update replaces an existing market.
func (s *MarketStore) Update(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; !ok {
		return domain.ErrNotFound
	}
	s.markets[m.ID] = cloneMarket(m)
	return nil
}

// GetByID returns a market by id.
func (s *MarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return cloneMarket(m), nil
}

func (s *MarketStore) list(filter func(domain.Market) bool, opts domain.ListOpts) []domain.Market {
	s.mu.RLock()
	var out []domain.Market
	for _, m := range s.markets {
		if filter == nil || filter(m) {
			out = append(out, cloneMarket(m))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// List returns markets newest first.
func (s *MarketStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return s.list(nil, opts), nil
}

// ListByStatus returns markets with the given stored status, newest first.
func (s *MarketStore) ListByStatus(_ context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	return s.list(func(m domain.Market) bool { return m.Status == status }, opts), nil
}

// Count returns the number of markets.
func (s *MarketStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.markets)), nil
}

var _ domain.MarketStore = (*MarketStore)(nil)
