package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type StoreConfig struct {
	Provider string `toml:"provider"` // sqlite | memgraph
	Path     string `toml:"path"`     // sqlite file
	URI      string `toml:"uri"`      // memgraph bolt uri
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type EmbeddingConfig struct {
	Provider  string `toml:"provider"` // openai | ollama | gemini | hash
	Model     string `toml:"model"`
	APIKey    string `toml:"api_key"`
	BaseURL   string `toml:"base_url"`
	Dimension int    `toml:"dimension"`

	// Search overrides the provider used for query embeddings. Nil means
	// queries go through the same client as indexing.
	Search *EmbeddingConfig `toml:"search"`
}

type WatcherConfig struct {
	Enabled               bool    `toml:"enabled"`
	FPS                   float64 `toml:"fps"`
	MaxRetries            int     `toml:"max_retries"`
	RetryDelaySeconds     int     `toml:"retry_delay_seconds"`
	CaptureTimeoutSeconds int     `toml:"capture_timeout_seconds"`
	FastMode              bool    `toml:"fast_mode"` // OCR-only builds on background ticks
}

type DetectorConfig struct {
	Method          string  `toml:"method"` // hash | sampling | pixels
	GridSize        int     `toml:"grid_size"`
	PixelThreshold  int     `toml:"pixel_threshold"`  // per-channel 0..255
	ChangeThreshold float64 `toml:"change_threshold"` // fraction of changed samples
	DebounceMs      int64   `toml:"debounce_ms"`
}

type VisionConfig struct {
	CaptureURL        string `toml:"capture_url"` // screenshot/window sidecar; empty disables the watcher
	DetectorURL       string `toml:"detector_url"`
	OCRURL            string `toml:"ocr_url"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	CacheSize         int    `toml:"cache_size"`
	CacheTTLSeconds   int    `toml:"cache_ttl_seconds"`
	HeuristicFallback bool   `toml:"heuristic_fallback"`
}

type RetentionConfig struct {
	ElementTTLHours      int    `toml:"element_ttl_hours"`
	FrameTTLHours        int    `toml:"frame_ttl_hours"`
	SweepIntervalMinutes int    `toml:"sweep_interval_minutes"`
	CompactIntervalHours int    `toml:"compact_interval_hours"`
	FramesDir            string `toml:"frames_dir"` // empty disables the frame archive
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type Config struct {
	Store     StoreConfig     `toml:"store"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Watcher   WatcherConfig   `toml:"watcher"`
	Detector  DetectorConfig  `toml:"detector"`
	Vision    VisionConfig    `toml:"vision"`
	Retention RetentionConfig `toml:"retention"`
	Server    ServerConfig    `toml:"server"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a config usable without any file on disk.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func (c *Config) ApplyDefaults() {
	if c.Store.Provider == "" {
		c.Store.Provider = "sqlite"
	}
	if c.Store.Path == "" {
		c.Store.Path = "prism.db"
	}
	if c.Store.URI == "" {
		c.Store.URI = "bolt://localhost:7687"
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "ollama"
		c.Embedding.BaseURL = "http://localhost:11434"
	}
	if c.Embedding.Provider == "ollama" && c.Embedding.Model == "" {
		c.Embedding.Model = "all-minilm"
	}
	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = 384
	}
	if s := c.Embedding.Search; s != nil {
		if s.Dimension == 0 {
			s.Dimension = c.Embedding.Dimension
		}
		if s.Provider == "ollama" && s.Model == "" {
			s.Model = "all-minilm"
		}
	}

	if c.Watcher.FPS <= 0 {
		c.Watcher.FPS = 1.0
	}
	if c.Watcher.MaxRetries == 0 {
		c.Watcher.MaxRetries = 3
	}
	if c.Watcher.RetryDelaySeconds == 0 {
		c.Watcher.RetryDelaySeconds = 30
	}
	if c.Watcher.CaptureTimeoutSeconds == 0 {
		c.Watcher.CaptureTimeoutSeconds = 30
	}

	if c.Detector.Method == "" {
		c.Detector.Method = "sampling"
	}
	if c.Detector.GridSize <= 0 {
		c.Detector.GridSize = 4
	}
	if c.Detector.PixelThreshold <= 0 {
		c.Detector.PixelThreshold = 30
	}
	if c.Detector.ChangeThreshold <= 0 {
		c.Detector.ChangeThreshold = 0.1
	}
	if c.Detector.DebounceMs == 0 {
		c.Detector.DebounceMs = 500
	}

	if c.Vision.TimeoutSeconds == 0 {
		c.Vision.TimeoutSeconds = 15
	}
	if c.Vision.CacheSize == 0 {
		c.Vision.CacheSize = 64
	}
	if c.Vision.CacheTTLSeconds == 0 {
		c.Vision.CacheTTLSeconds = 300
	}

	if c.Retention.ElementTTLHours == 0 {
		c.Retention.ElementTTLHours = 7 * 24
	}
	if c.Retention.FrameTTLHours == 0 {
		c.Retention.FrameTTLHours = 24
	}
	if c.Retention.SweepIntervalMinutes == 0 {
		c.Retention.SweepIntervalMinutes = 60
	}
	if c.Retention.CompactIntervalHours == 0 {
		c.Retention.CompactIntervalHours = 24
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}
