package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/yegors/co-voice/internal/ai"
	"github.com/yegors/co-voice/pkg/logger"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrEmptyDocument is returned when ingested text contains nothing to index
	ErrEmptyDocument = errors.New("document has no text")
	// ErrNothingEmbedded is returned when no chunk of a document could be embedded
	ErrNothingEmbedded = errors.New("no chunk could be embedded")
)

// Chunk is a span of ingested text paired with its embedding
type Chunk struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Embedding []float32 `json:"-"`
}

// Result is a chunk scored against a query
type Result struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Store persists ingested chunks
type Store interface {
	SaveDocument(ctx context.Context, source string, chunks []Chunk) error
}

// IngestResult reports what an ingestion stored
type IngestResult struct {
	Source  string `json:"source"`
	Chunks  int    `json:"chunks"`
	Skipped int    `json:"skipped"`
}

// Options configures an Index
type Options struct {
	ChunkTargetChars  int
	IngestConcurrency int
	Store             Store // optional
}

// Index is an in-memory nearest-neighbour index over chunk embeddings.
// It is safe for concurrent use: searches share a read lock and only the
// final append of an ingestion takes the write lock.
type Index struct {
	embedder    ai.Embedder
	target      int
	concurrency int
	store       Store
	logger      *logger.Logger

	mu     sync.RWMutex
	chunks []Chunk
}

// NewIndex creates an empty index
func NewIndex(embedder ai.Embedder, opts Options, logger *logger.Logger) *Index {
	if opts.ChunkTargetChars <= 0 {
		opts.ChunkTargetChars = 500
	}
	if opts.IngestConcurrency <= 0 {
		opts.IngestConcurrency = 1
	}
	return &Index{
		embedder:    embedder,
		target:      opts.ChunkTargetChars,
		concurrency: opts.IngestConcurrency,
		store:       opts.Store,
		logger:      logger.Named("retrieval"),
	}
}

// Load adds already-embedded chunks, e.g. from persistent storage
func (idx *Index) Load(chunks []Chunk) {
	idx.mu.Lock()
	idx.chunks = append(idx.chunks, chunks...)
	total := len(idx.chunks)
	idx.mu.Unlock()

	idx.logger.Info("Loaded chunks into index",
		logger.Int("loaded", len(chunks)),
		logger.Int("total_chunks", total))
}

// Len returns the number of stored chunks
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks)
}

// Ingest chunks text, embeds every chunk and stores the ones that embedded.
// A chunk that no embedder can handle is skipped and logged.
func (idx *Index) Ingest(ctx context.Context, text, source string) (IngestResult, error) {
	result := IngestResult{Source: source}

	pieces := ChunkText(text, idx.target)
	if len(pieces) == 0 {
		return result, ErrEmptyDocument
	}

	idx.logger.Info("Processing document",
		logger.String("source", source),
		logger.Int("chunks", len(pieces)))

	embedded := make([]*Chunk, len(pieces))
	var lastErr error
	var errMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.concurrency)
	for i, piece := range pieces {
		g.Go(func() error {
			vec, err := idx.embedder.Embed(gctx, piece)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				idx.logger.Error("Embedding failed for all models, skipping chunk",
					logger.String("source", source),
					logger.Int("chunk_index", i),
					logger.Error(err))
				errMu.Lock()
				lastErr = err
				errMu.Unlock()
				return nil
			}
			embedded[i] = &Chunk{
				ID:        uuid.NewString(),
				Text:      piece,
				Source:    source,
				Embedding: vec,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("ingestion of %s cancelled: %w", source, err)
	}

	stored := make([]Chunk, 0, len(embedded))
	for _, c := range embedded {
		if c != nil {
			stored = append(stored, *c)
		}
	}
	result.Chunks = len(stored)
	result.Skipped = len(pieces) - len(stored)

	if len(stored) == 0 {
		return result, fmt.Errorf("%w: %w", ErrNothingEmbedded, lastErr)
	}

	idx.mu.Lock()
	idx.chunks = append(idx.chunks, stored...)
	total := len(idx.chunks)
	idx.mu.Unlock()

	if idx.store != nil {
		if err := idx.store.SaveDocument(ctx, source, stored); err != nil {
			idx.logger.Warn("Failed to persist document chunks",
				logger.String("source", source),
				logger.Error(err))
		}
	}

	idx.logger.Info("Added document",
		logger.String("source", source),
		logger.Int("stored", result.Chunks),
		logger.Int("skipped", result.Skipped),
		logger.Int("total_chunks", total))

	return result, nil
}

// Search returns the topK chunks most similar to query, best first.
// An empty index yields an empty result without calling the embedder.
func (idx *Index) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		return nil, nil
	}
	if idx.Len() == 0 {
		idx.logger.Debug("No documents in index")
		return []Result{}, nil
	}

	qvec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	idx.mu.RLock()
	scored := make([]Result, 0, len(idx.chunks))
	for _, c := range idx.chunks {
		scored = append(scored, Result{Chunk: c, Score: CosineSimilarity(qvec, c.Embedding)})
	}
	idx.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}
