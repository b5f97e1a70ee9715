package vision

import (
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"github.com/zeebo/blake3"

	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/faceauth"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
)

// InitRuntime loads the ONNX Runtime shared library. The returned func
// tears the environment down.
func InitRuntime(libPath string) (func(), error) {
	if libPath == "" {
		libPath = defaultONNXLibrary()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnx runtime (%s): %w", libPath, err)
	}
	return func() {
		if err := ort.DestroyEnvironment(); err != nil {
			slog.Warn("destroy onnx runtime", "error", err)
		}
	}, nil
}

func defaultONNXLibrary() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// Engine is the ONNX face engine: RetinaFace detection followed by ArcFace
// embedding of each detected face. Calls are serialised because the ONNX
// sessions reuse their tensors.
type Engine struct {
	mu       sync.Mutex
	detector *Detector
	embedder *Embedder
	modelID  string
}

var _ faceauth.FaceEngine = (*Engine)(nil)

// NewEngine loads both models. InitRuntime must have been called.
func NewEngine(cfg config.VisionConfig) (*Engine, error) {
	modelID, err := fingerprint(cfg.EmbedderPath())
	if err != nil {
		return nil, err
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(max(1, runtime.NumCPU()/2)); err != nil {
		return nil, fmt.Errorf("set intra-op threads: %w", err)
	}

	slog.Info("loading detection model", "path", cfg.DetectorPath())
	det, err := NewDetector(cfg.DetectorPath(), float32(cfg.DetectionThreshold), opts)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", cfg.EmbedderPath(), "model_id", modelID)
	emb, err := NewEmbedder(cfg.EmbedderPath(), opts)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &Engine{detector: det, embedder: emb, modelID: modelID}, nil
}

// fingerprint names the embedding model by the BLAKE3 digest of its file,
// so cached embeddings are never reused across model versions.
func fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open embedder model: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash embedder model: %w", err)
	}
	return fmt.Sprintf("arcface-%x", h.Sum(nil)[:12]), nil
}

func (e *Engine) DetectFaces(data []byte) ([]models.Region, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", faceauth.ErrInvalidInput, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	dets, err := e.detect(img)
	if err != nil {
		return nil, err
	}
	regions := make([]models.Region, len(dets))
	for i, d := range dets {
		regions[i] = d.Region()
	}
	return regions, nil
}

func (e *Engine) DetectAndEmbed(data []byte) ([]models.Face, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", faceauth.ErrInvalidInput, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	dets, err := e.detect(img)
	if err != nil {
		return nil, err
	}

	faces := make([]models.Face, 0, len(dets))
	for _, d := range dets {
		crop := cropFace(img, d.BBox)
		if crop == nil {
			continue
		}
		start := time.Now()
		emb, err := e.embedder.Extract(toCHW(crop, embInputSize, embInputSize, embMean, embStd))
		if err != nil {
			return nil, fmt.Errorf("embed: %w", err)
		}
		observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
		faces = append(faces, models.Face{Region: d.Region(), Embedding: emb})
	}
	return faces, nil
}

// detect runs the detector; callers hold mu.
func (e *Engine) detect(img image.Image) ([]Detection, error) {
	b := img.Bounds()
	start := time.Now()
	dets, err := e.detector.Detect(toCHW(img, e.detector.size, e.detector.size, detMean, detStd), b.Dx(), b.Dy())
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	return dets, nil
}

func (e *Engine) Distance(a, b []float32) float64 {
	return CosineDistance(a, b)
}

func (e *Engine) ModelID() string {
	return e.modelID
}

// Close releases both ONNX sessions.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detector.Close()
	e.embedder.Close()
}
