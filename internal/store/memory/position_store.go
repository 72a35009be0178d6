package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

type positionKey struct {
	marketID    string
	participant string
	outcome     uint8
}

// PositionStore implements domain.PositionStore in memory.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[positionKey]domain.Position
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[positionKey]domain.Position)}
}

// AddShares increments a position's balance, creating it on first purchase.
func (s *PositionStore) AddShares(_ context.Context, marketID, participant string, outcome uint8, shares, collateral uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey{marketID, participant, outcome}
	now := time.Now().UTC()

	pos, ok := s.positions[key]
	if !ok {
		pos = domain.Position{
			MarketID:    marketID,
			Participant: participant,
			Outcome:     outcome,
			CreatedAt:   now,
		}
	}
	pos.Shares += shares
	pos.CollateralPaid += collateral
	pos.UpdatedAt = now
	s.positions[key] = pos
	return nil
}

// Get returns one position.
func (s *PositionStore) Get(_ context.Context, marketID, participant string, outcome uint8) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[positionKey{marketID, participant, outcome}]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

// ListByMarket returns every position in a market.
func (s *PositionStore) ListByMarket(_ context.Context, marketID string) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Position
	for key, pos := range s.positions {
		if key.marketID == marketID {
			out = append(out, pos)
		}
	}
	sortPositions(out)
	return out, nil
}

// ListByParticipant returns every position a participant holds.
func (s *PositionStore) ListByParticipant(_ context.Context, participant string, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.RLock()
	var out []domain.Position
	for key, pos := range s.positions {
		if key.participant == participant {
			out = append(out, pos)
		}
	}
	s.mu.RUnlock()

	sortPositions(out)
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

// TotalShares sums balances across participants for one outcome.
func (s *PositionStore) TotalShares(_ context.Context, marketID string, outcome uint8) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total uint64
	for key, pos := range s.positions {
		if key.marketID == marketID && key.outcome == outcome {
			total += pos.Shares
		}
	}
	return total, nil
}

func sortPositions(positions []domain.Position) {
	sort.Slice(positions, func(a, b int) bool {
		if positions[a].MarketID != positions[b].MarketID {
			return positions[a].MarketID < positions[b].MarketID
		}
		if positions[a].Participant != positions[b].Participant {
			return positions[a].Participant < positions[b].Participant
		}
		return positions[a].Outcome < positions[b].Outcome
	})
}

var _ domain.PositionStore = (*PositionStore)(nil)
