// Package config handles configuration loading for the pathview viewer.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the viewer's top-level configuration.
type Config struct {
	Slide   SlideConfig   `yaml:"slide"`
	Tiles   TilesConfig   `yaml:"tiles"`
	Cache   CacheConfig   `yaml:"cache"`
	Remote  RemoteConfig  `yaml:"remote"`
	Heatmap HeatmapConfig `yaml:"heatmap"`
}

// SlideConfig selects which slide source backs the viewer.
type SlideConfig struct {
	// Path is a local pyramid file path. Set instead of Remote fields to
	// use internal/slidesource/local.
	Path string `yaml:"path"`
	// SegmentationPath is an optional local .segfile companion holding
	// polygon and tissue-class overlay data.
	SegmentationPath string `yaml:"segmentation_path"`
}

// TilesConfig sizes the tile engine's fetch worker pool.
type TilesConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// CacheConfig sizes the byte-capped tile cache and the snapshot cache.
type CacheConfig struct {
	TileCacheMaxMB        int `yaml:"tile_cache_max_mb"`
	SnapshotMaxEntries    int `yaml:"snapshot_max_entries"`
	SnapshotTTLSeconds    int `yaml:"snapshot_ttl_seconds"`
	SnapshotSweepSeconds  int `yaml:"snapshot_sweep_seconds"`
	SnapshotFrameRingSize int `yaml:"snapshot_frame_ring_size"`
}

// RemoteConfig configures the HTTP tile-server slide source. Left zero to
// stay local-only.
type RemoteConfig struct {
	BaseURL         string `yaml:"base_url"`
	SlideID         string `yaml:"slide_id"`
	SigningSecret   string `yaml:"signing_secret"`
	ReadTimeoutMS   int    `yaml:"read_timeout_ms"`
	ValiditySeconds int64  `yaml:"validity_seconds"`
}

// HeatmapConfig controls the cell-density heatmap export (internal/polygon's
// ExportDensityPNG).
type HeatmapConfig struct {
	// DefaultColormap is one of "viridis", "plasma", "inferno", "magma".
	DefaultColormap string `yaml:"default_colormap"`
	GridSize        int    `yaml:"grid_size"`
}

// Load reads configuration from a YAML file, falling back to defaults for
// any field the file omits. A missing file yields DefaultConfig().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// DefaultConfig returns the viewer's default configuration.
func DefaultConfig() *Config {
	return &Config{
		Slide: SlideConfig{
			Path: "./data/slide.pyramid",
		},
		Tiles: TilesConfig{
			Workers:   4,
			QueueSize: 64,
		},
		Cache: CacheConfig{
			TileCacheMaxMB:        512,
			SnapshotMaxEntries:    64,
			SnapshotTTLSeconds:    300,
			SnapshotSweepSeconds:  30,
			SnapshotFrameRingSize: 16,
		},
		Heatmap: HeatmapConfig{
			DefaultColormap: "viridis",
			GridSize:        64,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Slide.Path == "" && cfg.Remote.BaseURL == "" {
		cfg.Slide.Path = defaults.Slide.Path
	}
	if cfg.Tiles.Workers <= 0 {
		cfg.Tiles.Workers = defaults.Tiles.Workers
	}
	if cfg.Tiles.QueueSize <= 0 {
		cfg.Tiles.QueueSize = defaults.Tiles.QueueSize
	}
	if cfg.Cache.TileCacheMaxMB <= 0 {
		cfg.Cache.TileCacheMaxMB = defaults.Cache.TileCacheMaxMB
	}
	if cfg.Cache.SnapshotMaxEntries <= 0 {
		cfg.Cache.SnapshotMaxEntries = defaults.Cache.SnapshotMaxEntries
	}
	if cfg.Cache.SnapshotTTLSeconds <= 0 {
		cfg.Cache.SnapshotTTLSeconds = defaults.Cache.SnapshotTTLSeconds
	}
	if cfg.Cache.SnapshotSweepSeconds <= 0 {
		cfg.Cache.SnapshotSweepSeconds = defaults.Cache.SnapshotSweepSeconds
	}
	if cfg.Cache.SnapshotFrameRingSize <= 0 {
		cfg.Cache.SnapshotFrameRingSize = defaults.Cache.SnapshotFrameRingSize
	}
	if cfg.Remote.ReadTimeoutMS <= 0 && cfg.Remote.BaseURL != "" {
		cfg.Remote.ReadTimeoutMS = 10000
	}
	if cfg.Remote.ValiditySeconds <= 0 && cfg.Remote.BaseURL != "" {
		cfg.Remote.ValiditySeconds = 300
	}
	if cfg.Heatmap.DefaultColormap == "" {
		cfg.Heatmap.DefaultColormap = defaults.Heatmap.DefaultColormap
	}
	if cfg.Heatmap.GridSize <= 0 {
		cfg.Heatmap.GridSize = defaults.Heatmap.GridSize
	}
}
