package storage

import (
	"context"
	"sync"

	"github.com/your-org/facegate/internal/models"
)

// MemoryCache keeps reference embeddings for the life of the process.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[models.RefKey][]float32
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[models.RefKey][]float32)}
}

func (c *MemoryCache) Get(_ context.Context, key models.RefKey) ([]float32, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	emb, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]float32(nil), emb...), true, nil
}

func (c *MemoryCache) Put(_ context.Context, key models.RefKey, embedding []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append([]float32(nil), embedding...)
	return nil
}

func (c *MemoryCache) DeleteMember(_ context.Context, memberID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.MemberID == memberID {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
