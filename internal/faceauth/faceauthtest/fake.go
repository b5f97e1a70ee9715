// Package faceauthtest provides in-memory collaborators for testing code
// built on faceauth.
package faceauthtest

import (
	"context"
	"math"
	"sync"

	"github.com/your-org/facegate/internal/models"
)

// Engine is a FaceEngine keyed by image bytes. Images that were never
// registered with AddFace or SetFaces contain no face. Distance is
// Euclidean, so test embeddings can be placed at exact distances.
type Engine struct {
	mu     sync.Mutex
	faces  map[string][]models.Face
	errs   map[string]error
	embeds int
}

func NewEngine() *Engine {
	return &Engine{
		faces: make(map[string][]models.Face),
		errs:  make(map[string]error),
	}
}

// AddFace makes image contain one face with the given embedding.
func (e *Engine) AddFace(image []byte, embedding ...float32) {
	e.SetFaces(image, models.Face{
		Region:    models.Region{BBox: [4]float32{10, 10, 110, 110}, Confidence: 0.9},
		Embedding: embedding,
	})
}

func (e *Engine) SetFaces(image []byte, faces ...models.Face) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faces[string(image)] = faces
}

// Fail makes every call for image return err.
func (e *Engine) Fail(image []byte, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs[string(image)] = err
}

func (e *Engine) DetectFaces(image []byte) ([]models.Region, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errs[string(image)]; err != nil {
		return nil, err
	}
	var regions []models.Region
	for _, f := range e.faces[string(image)] {
		regions = append(regions, f.Region)
	}
	return regions, nil
}

func (e *Engine) DetectAndEmbed(image []byte) ([]models.Face, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.embeds++
	if err := e.errs[string(image)]; err != nil {
		return nil, err
	}
	faces := e.faces[string(image)]
	out := make([]models.Face, len(faces))
	for i, f := range faces {
		f.Embedding = append([]float32(nil), f.Embedding...)
		out[i] = f
	}
	return out, nil
}

func (e *Engine) Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func (e *Engine) ModelID() string { return "fake-engine" }

// EmbedCalls counts DetectAndEmbed invocations.
func (e *Engine) EmbedCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.embeds
}

// Publisher records published events.
type Publisher struct {
	mu     sync.Mutex
	events []models.Event
	Err    error
}

func (p *Publisher) Publish(_ context.Context, ev models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *Publisher) Events() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event(nil), p.events...)
}

func (p *Publisher) Types() []models.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]models.EventType, len(p.events))
	for i, ev := range p.events {
		types[i] = ev.Type
	}
	return types
}

// Capture is a CaptureSource returning a fixed frame or error.
type Capture struct {
	Frame []byte
	Err   error
}

func (c Capture) Capture(context.Context) ([]byte, error) {
	return c.Frame, c.Err
}
