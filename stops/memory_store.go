package stops

import (
	"context"
	"sort"
	"sync"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps stops in process memory, one cache entry per account
// holding that account's stops by ticker. Entries never expire.
type MemoryStore struct {
	mu sync.Mutex
	c  *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: cache.New(cache.NoExpiration, 0)}
}

func (m *MemoryStore) account(accountID string) map[string]State {
	if v, ok := m.c.Get(accountID); ok {
		return v.(map[string]State)
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, accountID, ticker string) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.account(accountID)[ticker]
	return s, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byTicker := m.account(s.AccountID)
	if byTicker == nil {
		byTicker = make(map[string]State)
		m.c.Set(s.AccountID, byTicker, cache.NoExpiration)
	}
	byTicker[s.Ticker] = s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, accountID, ticker string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byTicker := m.account(accountID)
	delete(byTicker, ticker)
	if len(byTicker) == 0 {
		m.c.Delete(accountID)
	}
	return nil
}

func (m *MemoryStore) List(_ context.Context, accountID string) ([]State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byTicker := m.account(accountID)
	out := make([]State, 0, len(byTicker))
	for _, s := range byTicker {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}
