package faceauth

import (
	"context"

	"github.com/your-org/facegate/internal/models"
)

// FaceEngine is the detection and embedding capability the core depends on.
// Distance defines the metric: lower means more similar.
type FaceEngine interface {
	DetectFaces(image []byte) ([]models.Region, error)
	DetectAndEmbed(image []byte) ([]models.Face, error)
	Distance(a, b []float32) float64
	// ModelID namespaces cached reference embeddings.
	ModelID() string
}

// ImageStore holds reference images, grouped per member.
type ImageStore interface {
	Put(ctx context.Context, memberID, name string, data []byte) error
	Get(ctx context.Context, memberID, name string) ([]byte, error)
	Delete(ctx context.Context, memberID, name string) error
	// DeleteMember removes every image of the member. Absent members are not an error.
	DeleteMember(ctx context.Context, memberID string) error
	List(ctx context.Context, memberID string) ([]string, error)
}

// EmbeddingCache stores reference embeddings derived from stored images.
// Implementations are scoped to one embedding model.
type EmbeddingCache interface {
	Get(ctx context.Context, key models.RefKey) ([]float32, bool, error)
	Put(ctx context.Context, key models.RefKey, embedding []float32) error
	DeleteMember(ctx context.Context, memberID string) error
}

// Publisher receives member events. Delivery failures never fail the
// operation that produced the event.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

// CaptureSource supplies one still frame on request.
type CaptureSource interface {
	Capture(ctx context.Context) ([]byte, error)
}

// bestFace picks the most confident face; the first wins ties.
func bestFace(faces []models.Face) (models.Face, bool) {
	if len(faces) == 0 {
		return models.Face{}, false
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Confidence > best.Confidence {
			best = f
		}
	}
	return best, true
}
