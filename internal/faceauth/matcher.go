package faceauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
)

// Match is the nearest enrolled reference image to a query embedding.
type Match struct {
	MemberID string
	Image    string
	Distance float64
}

// Matcher searches every reference image of every member for the smallest
// distance to a query. Reference embeddings come from the cache or are
// computed from the stored image and cached.
type Matcher struct {
	store  *Store
	engine FaceEngine
	cache  EmbeddingCache
}

func NewMatcher(store *Store, engine FaceEngine, cache EmbeddingCache) *Matcher {
	return &Matcher{store: store, engine: engine, cache: cache}
}

// FindBestMatch returns nil when no member is enrolled or no reference
// embedding could be obtained. Unusable references are skipped. Ties keep
// the first reference in store order.
func (m *Matcher) FindBestMatch(ctx context.Context, query []float32) (*Match, error) {
	members := m.store.List()
	if len(members) == 0 {
		return nil, nil
	}

	start := time.Now()
	defer func() {
		observability.InferenceDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())
	}()

	var best *Match
	for _, member := range members {
		for _, image := range member.Images {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			key := models.RefKey{MemberID: member.ID, Image: image}
			ref, err := m.reference(ctx, key)
			if err != nil {
				slog.Warn("skip reference image", "member", member.ID, "image", image, "error", err)
				observability.ReferencesSkipped.Inc()
				continue
			}
			if len(ref) != len(query) {
				slog.Warn("skip reference image", "member", member.ID, "image", image,
					"error", fmt.Sprintf("embedding dimension %d, query %d", len(ref), len(query)))
				observability.ReferencesSkipped.Inc()
				continue
			}
			d := m.engine.Distance(query, ref)
			if best == nil || d < best.Distance {
				best = &Match{MemberID: member.ID, Image: image, Distance: d}
			}
		}
	}
	return best, nil
}

func (m *Matcher) reference(ctx context.Context, key models.RefKey) ([]float32, error) {
	if m.cache != nil {
		emb, ok, err := m.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("embedding cache read", "member", key.MemberID, "image", key.Image, "error", err)
		} else if ok {
			return emb, nil
		}
	}

	data, err := m.store.ReadImage(ctx, key.MemberID, key.Image)
	if err != nil {
		return nil, fmt.Errorf("read reference: %w", err)
	}
	faces, err := m.engine.DetectAndEmbed(data)
	if err != nil {
		return nil, fmt.Errorf("embed reference: %w", err)
	}
	face, ok := bestFace(faces)
	if !ok {
		return nil, ErrNoFaceDetected
	}

	m.remember(ctx, key, face.Embedding)
	return face.Embedding, nil
}

// remember caches a reference embedding; failures only cost a recompute.
func (m *Matcher) remember(ctx context.Context, key models.RefKey, emb []float32) {
	if m.cache == nil || len(emb) == 0 {
		return
	}
	if err := m.cache.Put(ctx, key, emb); err != nil {
		slog.Warn("embedding cache write", "member", key.MemberID, "image", key.Image, "error", err)
	}
}

// forget drops a member's cached embeddings.
func (m *Matcher) forget(ctx context.Context, memberID string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.DeleteMember(ctx, memberID); err != nil {
		slog.Warn("embedding cache delete", "member", memberID, "error", err)
	}
}
