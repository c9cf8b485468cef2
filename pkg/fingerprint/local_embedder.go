package fingerprint

// Local ONNX embedding via Hugot feature extraction. Runs fully offline -
// no API key needed for cross-session fingerprint matching.
//
// Build:
// - Standard: go build (Go backend, slower but no native dependencies)
// - With ORT: go build -tags ORT (ONNX Runtime, faster)

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
)

// LocalEmbedder embeds behavioral summaries with a local sentence-transformer
// ONNX model (MiniLM-class).
type LocalEmbedder struct {
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	mu       sync.RWMutex
	dim      int
	ready    bool
}

// LocalEmbedderConfig configures the local embedder.
type LocalEmbedderConfig struct {
	// ModelPath is the local path to the ONNX model directory.
	ModelPath string

	// OnnxLibraryPath is the path to libonnxruntime.so. Empty means
	// fall back to the pure Go backend.
	OnnxLibraryPath string
}

// localModelSearchPaths lists where embedding models are looked for,
// in priority order.
var localModelSearchPaths = []string{
	"./models/all-MiniLM-L6-v2",
	"./models/bge-small-en-v1.5",
}

// NewAutoDetectedLocalEmbedder returns a local embedder if an ONNX model is
// found on disk, nil otherwise.
func NewAutoDetectedLocalEmbedder() *LocalEmbedder {
	cfg := LocalEmbedderConfig{OnnxLibraryPath: defaultOnnxPath()}

	if envPath := os.Getenv("DECOY_ONNX_MODEL_PATH"); envPath != "" {
		if _, err := os.Stat(filepath.Join(envPath, "model.onnx")); err == nil {
			cfg.ModelPath = envPath
		}
	}
	if cfg.ModelPath == "" {
		for _, p := range localModelSearchPaths {
			if _, err := os.Stat(filepath.Join(p, "model.onnx")); err == nil {
				cfg.ModelPath = p
				break
			}
		}
	}
	if cfg.ModelPath == "" {
		return nil
	}

	emb, err := NewLocalEmbedder(cfg)
	if err != nil {
		log.Printf("[EMBEDDER] Local ONNX embedder initialization failed: %v", err)
		return nil
	}
	log.Printf("[EMBEDDER] Local ONNX embedder ready (model: %s)", cfg.ModelPath)
	return emb
}

// NewLocalEmbedder creates an embedder for the given ONNX model directory.
func NewLocalEmbedder(cfg LocalEmbedderConfig) (*LocalEmbedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path is required")
	}

	e := &LocalEmbedder{}
	session, err := createSession(cfg.OnnxLibraryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	e.session = session

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: cfg.ModelPath,
		Name:      "fingerprint-embedder",
	})
	if err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	e.pipeline = pipeline
	e.ready = true
	return e, nil
}

// createSession tries the ONNX Runtime backend first, then the Go backend.
func createSession(onnxLibraryPath string) (*hugot.Session, error) {
	if onnxLibraryPath != "" {
		session, err := hugot.NewORTSession(options.WithOnnxLibraryPath(onnxLibraryPath))
		if err == nil {
			return session, nil
		}
		log.Printf("[EMBEDDER] ONNX Runtime unavailable, falling back to Go backend: %v", err)
	}
	return hugot.NewGoSession()
}

func defaultOnnxPath() string {
	paths := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Dir(p)
		}
	}
	return ""
}

// Embed runs the feature-extraction pipeline on one summary.
func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ready {
		return nil, fmt.Errorf("local embedder not ready")
	}

	out, err := e.pipeline.RunPipeline([]string{text})
	if err != nil {
		return nil, fmt.Errorf("feature extraction failed: %w", err)
	}
	if len(out.Embeddings) == 0 {
		return nil, fmt.Errorf("no embedding produced")
	}

	if e.dim == 0 {
		e.dim = len(out.Embeddings[0])
	}
	return out.Embeddings[0], nil
}

// Dimension returns the embedding dimension (known after the first call,
// 384 for MiniLM-class models before that).
func (e *LocalEmbedder) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.dim > 0 {
		return e.dim
	}
	return 384
}

// IsReady reports whether the pipeline initialized successfully.
func (e *LocalEmbedder) IsReady() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// Close releases the underlying ONNX session.
func (e *LocalEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = false
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}
