package entity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"
)

// IndexConfig tunes the canonical-name shortlist index.
type IndexConfig struct {
	Fuzziness int // Levenshtein distance for fuzzy lookups
	BatchSize int // entities per indexing batch
}

// DefaultIndexConfig returns the settings used by the sidecar.
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		Fuzziness: 2,
		BatchSize: 500,
	}
}

// Index holds the canonical entity names in an in-memory Bleve index.
// Resolution does not trust Bleve scores: the index only shortlists
// candidates, the caller decides with its own similarity ratio. The
// index is rebuilt wholesale whenever the canonical registry refreshes.
type Index struct {
	config IndexConfig
	logger *zap.Logger

	mu    sync.RWMutex
	index bleve.Index
	count int
	built time.Time
}

type nameDoc struct {
	Name string `json:"name"`
}

// NewIndex creates an empty shortlist index.
func NewIndex(cfg IndexConfig, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Fuzziness <= 0 {
		cfg.Fuzziness = DefaultIndexConfig().Fuzziness
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultIndexConfig().BatchSize
	}

	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}

	return &Index{
		config: cfg,
		logger: logger,
		index:  idx,
	}, nil
}

func buildMapping() mapping.IndexMapping {
	nameField := bleve.NewTextFieldMapping()
	nameField.Index = true
	nameField.Store = true
	nameField.IncludeInAll = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("name", nameField)

	m := bleve.NewIndexMapping()
	m.AddDocumentMapping("entity", doc)
	m.DefaultAnalyzer = "standard"
	return m
}

// ReplaceAll swaps in a fresh index built from the given canonical
// names. The old index is closed after the swap.
func (ix *Index) ReplaceAll(ctx context.Context, names []string) error {
	fresh, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return fmt.Errorf("create replacement index: %w", err)
	}

	start := time.Now()
	batch := fresh.NewBatch()
	flushed := 0
	for _, name := range names {
		if name == "" {
			continue
		}
		if err := batch.Index(name, nameDoc{Name: name}); err != nil {
			ix.logger.Warn("Failed to add entity to batch",
				zap.String("name", name),
				zap.Error(err))
			continue
		}
		flushed++
		if flushed%ix.config.BatchSize == 0 {
			if err := fresh.Batch(batch); err != nil {
				fresh.Close()
				return fmt.Errorf("index batch: %w", err)
			}
			batch = fresh.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := fresh.Batch(batch); err != nil {
			fresh.Close()
			return fmt.Errorf("index batch: %w", err)
		}
	}

	ix.mu.Lock()
	old := ix.index
	ix.index = fresh
	ix.count = flushed
	ix.built = time.Now()
	ix.mu.Unlock()

	if old != nil {
		old.Close()
	}

	ix.logger.Debug("Rebuilt entity shortlist index",
		zap.Int("entities", flushed),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Shortlist returns up to limit canonical names that fuzzily match the
// term. The term must already be normalized (lowercase); fuzzy queries
// bypass the analyzer. An empty result means the caller should treat
// the term as new.
func (ix *Index) Shortlist(ctx context.Context, term string, limit int) ([]string, error) {
	if term == "" || limit <= 0 {
		return nil, nil
	}

	fuzzy := query.NewFuzzyQuery(term)
	fuzzy.SetField("name")
	fuzzy.SetFuzziness(ix.config.Fuzziness)

	req := bleve.NewSearchRequest(fuzzy)
	req.Size = limit
	req.Fields = []string{"name"}

	ix.mu.RLock()
	idx := ix.index
	ix.mu.RUnlock()

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("shortlist search: %w", err)
	}

	names := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if n, ok := hit.Fields["name"].(string); ok && n != "" {
			names = append(names, n)
		}
	}
	return names, nil
}

// Count returns the number of indexed canonical names.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.count
}

// Close releases the underlying index.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.index == nil {
		return nil
	}
	err := ix.index.Close()
	ix.index = nil
	return err
}
