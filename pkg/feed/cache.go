package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CacheMetadata stores metadata about cached data
type CacheMetadata struct {
	Source   string    `json:"source"`
	Symbol   string    `json:"symbol"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	PullDate time.Time `json:"pull_date"` // When data was pulled
	BarCount int       `json:"bar_count"`
}

// CachedBar is a serializable version of Bar
type CachedBar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// CacheManager handles caching of downloaded bars on disk
type CacheManager struct {
	cacheDir string
}

// NewCacheManager creates a new cache manager
func NewCacheManager(cacheDir string) *CacheManager {
	if cacheDir == "" {
		cacheDir = "data/cache"
	}
	return &CacheManager{
		cacheDir: cacheDir,
	}
}

func (cm *CacheManager) key(source, symbol string, start, end time.Time) string {
	safe := strings.NewReplacer("/", "-", ":", "-", " ", "_").Replace(symbol)
	return fmt.Sprintf("%s_%s_%s_%s", source, safe,
		start.UTC().Format("20060102T1504"), end.UTC().Format("20060102T1504"))
}

// GetCachePath returns the cache file path for a request
func (cm *CacheManager) GetCachePath(source, symbol string, start, end time.Time) string {
	return filepath.Join(cm.cacheDir, cm.key(source, symbol, start, end)+".json")
}

// GetMetadataPath returns the metadata file path for a request
func (cm *CacheManager) GetMetadataPath(source, symbol string, start, end time.Time) string {
	return filepath.Join(cm.cacheDir, cm.key(source, symbol, start, end)+"_metadata.json")
}

// LoadCachedData loads cached bars for the exact request. A missing or
// unreadable cache is reported as a miss (nil bars, nil error).
func (cm *CacheManager) LoadCachedData(source, symbol string, start, end time.Time) ([]Bar, *CacheMetadata, error) {
	metadataBytes, err := os.ReadFile(cm.GetMetadataPath(source, symbol, start, end))
	if err != nil {
		return nil, nil, nil // No cache exists, that's okay
	}

	var metadata CacheMetadata
	if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
		return nil, nil, nil // Invalid metadata, ignore cache
	}

	dataBytes, err := os.ReadFile(cm.GetCachePath(source, symbol, start, end))
	if err != nil {
		return nil, nil, nil
	}

	var cached []CachedBar
	if err := json.Unmarshal(dataBytes, &cached); err != nil {
		return nil, nil, nil // Invalid cache data
	}
	if len(cached) != metadata.BarCount {
		return nil, nil, nil // Truncated write
	}

	bars := make([]Bar, len(cached))
	for i, cb := range cached {
		bars[i] = Bar(cb)
		bars[i].Time = cb.Time.UTC()
	}
	return bars, &metadata, nil
}

// SaveCachedData saves bars to cache
func (cm *CacheManager) SaveCachedData(source, symbol string, start, end time.Time, bars []Bar) error {
	if err := os.MkdirAll(cm.cacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	cached := make([]CachedBar, len(bars))
	for i, bar := range bars {
		cached[i] = CachedBar(bar)
	}

	dataBytes, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	if err := os.WriteFile(cm.GetCachePath(source, symbol, start, end), dataBytes, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	metadata := CacheMetadata{
		Source:   source,
		Symbol:   symbol,
		Start:    start.UTC(),
		End:      end.UTC(),
		PullDate: time.Now().UTC(),
		BarCount: len(bars),
	}
	metadataBytes, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(cm.GetMetadataPath(source, symbol, start, end), metadataBytes, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	return nil
}

// CachedSource serves repeated downloads of the same range from disk
type CachedSource struct {
	name   string
	source Source
	cache  *CacheManager
	logger *zap.Logger
}

// NewCachedSource wraps source with an on-disk cache
func NewCachedSource(name string, source Source, cache *CacheManager, logger *zap.Logger) *CachedSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedSource{name: name, source: source, cache: cache, logger: logger}
}

// FetchBars returns cached bars when present, otherwise downloads and stores them
func (cs *CachedSource) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	bars, meta, err := cs.cache.LoadCachedData(cs.name, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		cs.logger.Info("using cached bars",
			zap.String("source", cs.name),
			zap.String("symbol", symbol),
			zap.Int("bars", len(bars)),
			zap.Time("pulled", meta.PullDate),
		)
		return bars, nil
	}

	bars, err = cs.source.FetchBars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if err := cs.cache.SaveCachedData(cs.name, symbol, start, end, bars); err != nil {
		// A failed cache write does not fail the run
		cs.logger.Warn("failed to cache bars", zap.Error(err))
	}
	return bars, nil
}
