package storage

import (
	"context"
	"sync"

	"github.com/koi-auction/bidding-engine/internal/hub"
	"github.com/koi-auction/bidding-engine/internal/lot"
)

// MemorySource is an in-memory hub.Source for tests and DB-less local
// runs.
type MemorySource struct {
	mu   sync.RWMutex
	lots map[int64]lot.Config
}

func NewMemorySource(lots ...lot.Config) *MemorySource {
	m := &MemorySource{lots: make(map[int64]lot.Config, len(lots))}
	for _, cfg := range lots {
		m.lots[cfg.LotID] = cfg
	}
	return m
}

func (m *MemorySource) Put(cfg lot.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lots[cfg.LotID] = cfg
}

func (m *MemorySource) LoadLot(_ context.Context, lotID int64) (lot.Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.lots[lotID]
	if !ok {
		return lot.Config{}, hub.ErrLotNotFound
	}
	return cfg, nil
}
