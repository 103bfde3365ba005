package server

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/agenthands/prism/internal/config"
	"github.com/agenthands/prism/internal/embed"
	"github.com/agenthands/prism/internal/frames"
	"github.com/agenthands/prism/internal/index"
	"github.com/agenthands/prism/internal/retention"
	"github.com/agenthands/prism/internal/screen"
	"github.com/agenthands/prism/internal/store"
	"github.com/agenthands/prism/internal/vision"
	"github.com/agenthands/prism/internal/watcher"
)

// App owns every long-lived component: the store, the embedding
// clients, the semantic index, the capture watcher and the retention
// scheduler. The process entry point constructs exactly one App and
// shares it between the background loop and the query routes; there
// are no package-level singletons.
type App struct {
	Config    *config.Config
	Store     store.Store
	Index     *index.SemanticIndex
	Builder   *screen.Builder
	Watcher   *watcher.Watcher // nil when no capture sidecar is configured
	Archive   *frames.Archive  // nil when frames_dir is unset
	Retention *retention.Scheduler
}

// NewApp wires the App from config. Environment variables override the
// file for the settings that differ per deployment.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	applyEnvOverrides(cfg)

	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	embedder, err := embed.NewClient(ctx, cfg.Embedding)
	if err != nil {
		_ = st.Close(ctx)
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	var searcher embed.EmbedderClient
	if cfg.Embedding.Search != nil {
		searcher, err = embed.NewClient(ctx, *cfg.Embedding.Search)
		if err != nil {
			_ = st.Close(ctx)
			return nil, fmt.Errorf("init search embedder: %w", err)
		}
	}

	idx := index.New(st, embedder, searcher)
	if err := idx.Initialize(ctx); err != nil {
		_ = st.Close(ctx)
		return nil, fmt.Errorf("initialize index: %w", err)
	}

	app := &App{
		Config:  cfg,
		Store:   st,
		Index:   idx,
		Builder: screen.NewBuilder(),
	}

	if dir := cfg.Retention.FramesDir; dir != "" {
		app.Archive, err = frames.NewArchive(dir)
		if err != nil {
			_ = idx.Close(ctx)
			return nil, err
		}
	}

	if cfg.Vision.CaptureURL != "" {
		app.Watcher = buildWatcher(cfg, app.Builder, idx, app.Archive)
	} else {
		log.Println("no capture sidecar configured, watcher disabled")
	}

	var pruner retention.Pruner
	if app.Archive != nil {
		pruner = app.Archive
	}
	app.Retention = retention.NewScheduler(idx, pruner, cfg.Retention)

	return app, nil
}

// buildWatcher assembles the capture loop's collaborators: the remote
// capture/window sidecar, the detector chain with its heuristic
// fallback, and OCR behind the content-hash cache.
func buildWatcher(cfg *config.Config, builder *screen.Builder, idx *index.SemanticIndex, archive *frames.Archive) *watcher.Watcher {
	timeout := time.Duration(cfg.Vision.TimeoutSeconds) * time.Second
	capture := vision.NewRemoteCapture(cfg.Vision.CaptureURL, timeout)

	var detectors []vision.Detector
	if cfg.Vision.DetectorURL != "" {
		detectors = append(detectors, vision.NewRemoteDetector("remote", cfg.Vision.DetectorURL, timeout))
	}
	if cfg.Vision.HeuristicFallback {
		detectors = append(detectors, vision.NewHeuristicDetector())
	}
	var detector vision.Detector
	if len(detectors) > 0 {
		detector = vision.NewDetectorChain(detectors...)
	}

	var ocr vision.OCRProvider
	if cfg.Vision.OCRURL != "" {
		cache := vision.NewOCRCache(cfg.Vision.CacheSize, time.Duration(cfg.Vision.CacheTTLSeconds)*time.Second)
		ocr = vision.NewCachedOCR(vision.NewRemoteOCR(cfg.Vision.OCRURL, timeout), cache)
	}

	providers := watcher.Providers{
		Capture:  capture,
		Windows:  capture,
		Detector: detector,
		OCR:      ocr,
	}
	change := watcher.NewChangeDetector(cfg.Detector)

	var sink watcher.FrameSink
	if archive != nil {
		sink = archive
	}
	return watcher.New(cfg.Watcher, providers, builder, idx, change, sink)
}

// Start launches the background goroutines. The HTTP surface works
// without them; a query-only deployment never calls Start.
func (a *App) Start() error {
	if a.Watcher != nil && a.Config.Watcher.Enabled {
		if err := a.Watcher.Start(); err != nil {
			return err
		}
	}
	a.Retention.Start()
	return nil
}

// Close tears down in reverse construction order. Safe to call after a
// failed Start.
func (a *App) Close(ctx context.Context) error {
	a.Retention.Stop()
	if a.Watcher != nil {
		a.Watcher.Stop()
	}
	return a.Index.Close(ctx)
}

func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("PRISM_STORE_PROVIDER"); v != "" {
		cfg.Store.Provider = v
	}
	if v := os.Getenv("PRISM_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("MEMGRAPH_URI"); v != "" {
		cfg.Store.URI = v
	}
	if v := os.Getenv("MEMGRAPH_USER"); v != "" {
		cfg.Store.Username = v
	}
	if v := os.Getenv("MEMGRAPH_PASSWORD"); v != "" {
		cfg.Store.Password = v
	}
	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("PRISM_CAPTURE_URL"); v != "" {
		cfg.Vision.CaptureURL = v
	}
}
