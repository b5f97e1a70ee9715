package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/your-org/facegate/internal/models"
)

type cacheFile struct {
	Model   string       `json:"model"`
	Entries []cacheEntry `json:"entries"`
}

type cacheEntry struct {
	MemberID  string    `json:"member_id"`
	Image     string    `json:"image"`
	Embedding []float32 `json:"embedding"`
}

var cacheEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor enc mode: %v", err))
	}
	return em
}()

// FileCache persists reference embeddings in a CBOR file so a restart does
// not re-embed every reference image. The file records the model id; a
// file written for another model is ignored.
type FileCache struct {
	path  string
	model string

	mu      sync.Mutex
	entries map[models.RefKey][]float32
}

func OpenFileCache(path, model string) (*FileCache, error) {
	c := &FileCache{
		path:    path,
		model:   model,
		entries: make(map[models.RefKey][]float32),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read embedding cache: %w", err)
	}

	var f cacheFile
	if err := cbor.Unmarshal(data, &f); err != nil {
		slog.Warn("discarding unreadable embedding cache", "path", path, "error", err)
		return c, nil
	}
	if f.Model != model {
		slog.Info("discarding embedding cache for another model", "path", path, "cached_model", f.Model)
		return c, nil
	}
	for _, e := range f.Entries {
		c.entries[models.RefKey{MemberID: e.MemberID, Image: e.Image}] = e.Embedding
	}
	return c, nil
}

func (c *FileCache) Get(_ context.Context, key models.RefKey) ([]float32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	emb, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]float32(nil), emb...), true, nil
}

func (c *FileCache) Put(_ context.Context, key models.RefKey, embedding []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, had := c.entries[key]
	c.entries[key] = append([]float32(nil), embedding...)
	if err := c.flush(); err != nil {
		if had {
			c.entries[key] = prev
		} else {
			delete(c.entries, key)
		}
		return err
	}
	return nil
}

func (c *FileCache) DeleteMember(_ context.Context, memberID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := false
	for key := range c.entries {
		if key.MemberID == memberID {
			delete(c.entries, key)
			removed = true
		}
	}
	if !removed {
		return nil
	}
	return c.flush()
}

// flush rewrites the whole file; callers hold mu.
func (c *FileCache) flush() error {
	f := cacheFile{Model: c.model, Entries: make([]cacheEntry, 0, len(c.entries))}
	for key, emb := range c.entries {
		f.Entries = append(f.Entries, cacheEntry{MemberID: key.MemberID, Image: key.Image, Embedding: emb})
	}
	sort.Slice(f.Entries, func(i, j int) bool {
		if f.Entries[i].MemberID != f.Entries[j].MemberID {
			return f.Entries[i].MemberID < f.Entries[j].MemberID
		}
		return f.Entries[i].Image < f.Entries[j].Image
	})

	data, err := cacheEncMode.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode embedding cache: %w", err)
	}
	return WriteFileAtomic(c.path, data, 0o600)
}
