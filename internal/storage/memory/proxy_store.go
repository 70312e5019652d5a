package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/sparkling-owl/spin/internal/engine"
)

// ProxyStore keeps proxy endpoint health rows in memory.
type ProxyStore struct {
	mu        sync.RWMutex
	endpoints map[string]engine.ProxyEndpoint
}

// NewProxyStore constructs a ProxyStore.
func NewProxyStore() *ProxyStore {
	return &ProxyStore{endpoints: make(map[string]engine.ProxyEndpoint)}
}

// SaveEndpoint upserts an endpoint row keyed by address.
func (s *ProxyStore) SaveEndpoint(_ context.Context, endpoint engine.ProxyEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[endpoint.Address] = endpoint
	return nil
}

// ListEndpoints returns all endpoints ordered by address.
func (s *ProxyStore) ListEndpoints(_ context.Context) ([]engine.ProxyEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]engine.ProxyEndpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}
