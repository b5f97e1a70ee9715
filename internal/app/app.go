// Package app assembles the face authentication core from configuration.
// The daemon and the operator CLI share it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/faceauth"
	"github.com/your-org/facegate/internal/queue"
	"github.com/your-org/facegate/internal/storage"
	"github.com/your-org/facegate/internal/vision"
)

// Check is a named readiness test, such as a storage or broker ping.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// App is a wired Manager plus everything it owns.
type App struct {
	Manager  *faceauth.Manager
	Store    *faceauth.Store
	Engine   *vision.Engine
	Producer *queue.Producer // nil when event publishing is disabled
	Checks   []Check

	closers []func()
}

// Open loads the models and the enrollment store and connects the optional
// backends. Events go to NATS when configured and to every extra publisher.
func Open(ctx context.Context, cfg *config.Config, extra ...faceauth.Publisher) (*App, error) {
	a := &App{}
	if err := a.open(ctx, cfg, extra); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context, cfg *config.Config, extra []faceauth.Publisher) error {
	destroy, err := vision.InitRuntime(cfg.Vision.ONNXLibrary)
	if err != nil {
		return err
	}
	a.onClose(destroy)

	engine, err := vision.NewEngine(cfg.Vision)
	if err != nil {
		return fmt.Errorf("load face engine: %w", err)
	}
	a.Engine = engine
	a.onClose(engine.Close)

	images, err := openImages(ctx, cfg)
	if err != nil {
		return err
	}
	a.Checks = append(a.Checks, Check{Name: "images", Fn: images.Ping})

	cache, err := a.openCache(ctx, cfg, engine.ModelID())
	if err != nil {
		return err
	}

	store, err := faceauth.OpenStore(cfg.Storage.MetadataFile, images, nil)
	if err != nil {
		return fmt.Errorf("open enrollment store: %w", err)
	}
	a.Store = store

	publishers := faceauth.Publishers(extra)
	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		a.Producer = producer
		a.onClose(producer.Close)
		if err := producer.EnsureStream(ctx); err != nil {
			slog.Warn("ensure nats stream", "error", err)
		}
		publishers = append(publishers, producer)
		a.Checks = append(a.Checks, Check{Name: "nats", Fn: func(context.Context) error { return producer.Ping() }})
	}

	policy, err := faceauth.NewPolicy(cfg.Matching.AcceptThreshold, cfg.Matching.ConfidenceDivisor)
	if err != nil {
		return err
	}

	opts := faceauth.Options{
		Store:  store,
		Engine: engine,
		Cache:  cache,
		Policy: policy,
	}
	if len(publishers) > 0 {
		opts.Publisher = publishers
	}
	a.Manager, err = faceauth.NewManager(opts)
	if err != nil {
		return err
	}

	slog.Info("face authentication ready",
		"members", store.Len(),
		"images", cfg.Storage.ImagesDriver,
		"cache", cfg.Embeddings.Cache,
		"model_id", engine.ModelID(),
	)
	return nil
}

type imageBackend interface {
	faceauth.ImageStore
	Ping(ctx context.Context) error
}

func openImages(ctx context.Context, cfg *config.Config) (imageBackend, error) {
	switch cfg.Storage.ImagesDriver {
	case "filesystem":
		return storage.NewFileImages(cfg.Storage.ImagesDir)
	case "minio":
		images, err := storage.NewMinIOImages(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := images.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure minio bucket: %w", err)
		}
		return images, nil
	default:
		return nil, fmt.Errorf("unknown images driver %q", cfg.Storage.ImagesDriver)
	}
}

func (a *App) openCache(ctx context.Context, cfg *config.Config, model string) (faceauth.EmbeddingCache, error) {
	switch cfg.Embeddings.Cache {
	case "memory":
		return storage.NewMemoryCache(), nil
	case "file":
		path := cfg.Embeddings.File
		if path == "" {
			path = filepath.Join(cfg.Storage.DataDir, "embeddings.cbor")
		}
		return storage.OpenFileCache(path, model)
	case "postgres":
		cache, err := storage.NewPostgresCache(ctx, cfg.Database, model)
		if err != nil {
			return nil, err
		}
		a.onClose(cache.Close)
		a.Checks = append(a.Checks, Check{Name: "postgres", Fn: cache.Ping})
		return cache, nil
	default:
		return nil, fmt.Errorf("unknown embeddings cache %q", cfg.Embeddings.Cache)
	}
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
