package retrieval

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/co-voice/pkg/logger"
)

// wordEmbedder hashes lower-cased words into a fixed-size bag-of-words vector
type wordEmbedder struct {
	calls   atomic.Int32
	failOn  string
	failAll bool
}

func (e *wordEmbedder) Name() string { return "words" }

func (e *wordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.failAll || (e.failOn != "" && strings.Contains(text, e.failOn)) {
		return nil, errors.New("embedding unavailable")
	}
	vec := make([]float32, 64)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?")
		if w == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%64]++
	}
	return vec, nil
}

type memoryStore struct {
	mu   sync.Mutex
	docs map[string][]Chunk
}

func (s *memoryStore) SaveDocument(ctx context.Context, source string, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs == nil {
		s.docs = make(map[string][]Chunk)
	}
	s.docs[source] = chunks
	return nil
}

func TestChunkTextSentenceBounded(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		target int
		want   []string
	}{
		{name: "each sentence alone under tiny target", text: "A. B. C.", target: 4, want: []string{"A.", "B.", "C."}},
		{name: "target of one", text: "A. B. C.", target: 1, want: []string{"A.", "B.", "C."}},
		{name: "all fit", text: "A. B. C.", target: 500, want: []string{"A. B. C."}},
		{name: "long sentence kept whole", text: "This sentence is much longer than ten. Short.", target: 10,
			want: []string{"This sentence is much longer than ten.", "Short."}},
		{name: "no terminator", text: "just some words", target: 5, want: []string{"just some words"}},
		{name: "trailing text kept", text: "Refunds take 14 days. Contact support", target: 500,
			want: []string{"Refunds take 14 days. Contact support"}},
		{name: "mixed terminators", text: "Really?! Yes. Wow!", target: 8, want: []string{"Really?!", "Yes.", "Wow!"}},
		{name: "blank", text: "   ", target: 10, want: nil},
		{name: "span of exactly the target stays whole", text: "B. C.", target: 5, want: []string{"B. C."}},
		{name: "one past the target flushes", text: "B. C.", target: 4, want: []string{"B.", "C."}},
		{name: "exactly 500 characters", text: strings.Repeat("a", 248) + ". " + strings.Repeat("b", 249) + ".", target: 500,
			want: []string{strings.Repeat("a", 248) + ". " + strings.Repeat("b", 249) + "."}},
		{name: "multibyte counted in characters", text: strings.Repeat("é", 200) + ". " + strings.Repeat("é", 200) + ".", target: 500,
			want: []string{strings.Repeat("é", 200) + ". " + strings.Repeat("é", 200) + "."}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ChunkText(tc.text, tc.target))
		})
	}
}

func TestIngestABCProducesThreeChunks(t *testing.T) {
	idx := NewIndex(&wordEmbedder{}, Options{ChunkTargetChars: 4}, logger.NewNop())

	res, err := idx.Ingest(context.Background(), "A. B. C.", "doc1")
	require.NoError(t, err)
	require.Equal(t, 3, res.Chunks)
	require.Equal(t, 3, idx.Len())

	for _, c := range idx.chunks {
		require.NotEmpty(t, c.Text)
		require.Contains(t, ".!?", c.Text[len(c.Text)-1:])
		require.Equal(t, "doc1", c.Source)
		require.NotEmpty(t, c.ID)
	}
	// document order is preserved even with concurrent embedding
	require.Equal(t, "A.", idx.chunks[0].Text)
	require.Equal(t, "C.", idx.chunks[2].Text)
}

func TestCosineSimilarityProperties(t *testing.T) {
	vectors := [][]float32{
		{1, 0, 0},
		{0.3, -2, 5},
		{-1, -1, -1},
		{1e-3, 4e3, 7},
	}
	for _, a := range vectors {
		require.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-9)
		for _, b := range vectors {
			require.InDelta(t, CosineSimilarity(a, b), CosineSimilarity(b, a), 1e-12)
		}
	}

	require.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	require.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 1}))
	require.InDelta(t, -1.0, CosineSimilarity([]float32{1, 2}, []float32{-1, -2}), 1e-9)
	require.False(t, math.IsNaN(CosineSimilarity(nil, nil)))
}

func TestSearchEmptyIndex(t *testing.T) {
	emb := &wordEmbedder{failAll: true}
	idx := NewIndex(emb, Options{}, logger.NewNop())

	for _, q := range []string{"", "What is the refund policy?", "anything"} {
		res, err := idx.Search(context.Background(), q, 3)
		require.NoError(t, err)
		require.Empty(t, res)
	}
	require.Zero(t, emb.calls.Load())
}

func TestSearchRanksByCosine(t *testing.T) {
	idx := NewIndex(&wordEmbedder{}, Options{ChunkTargetChars: 40, IngestConcurrency: 3}, logger.NewNop())

	_, err := idx.Ingest(context.Background(),
		"Refunds are processed within 14 days. Shipping takes a week. Our office is in Berlin. Support answers email daily.",
		"policy.txt")
	require.NoError(t, err)

	res, err := idx.Search(context.Background(), "how are refunds processed", 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	require.Equal(t, "Refunds are processed within 14 days.", res[0].Chunk.Text)
	for i := 1; i < len(res); i++ {
		require.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
	}

	res, err = idx.Search(context.Background(), "refunds", 10)
	require.NoError(t, err)
	require.Len(t, res, idx.Len())
}

func TestIngestSkipsChunksThatCannotBeEmbedded(t *testing.T) {
	store := &memoryStore{}
	idx := NewIndex(&wordEmbedder{failOn: "Berlin"}, Options{ChunkTargetChars: 10, Store: store}, logger.NewNop())

	res, err := idx.Ingest(context.Background(), "Refunds take 14 days. Our office is in Berlin. Call us.", "faq.md")
	require.NoError(t, err)
	require.Equal(t, 2, res.Chunks)
	require.Equal(t, 1, res.Skipped)
	require.Len(t, store.docs["faq.md"], 2)
}

func TestIngestFailures(t *testing.T) {
	idx := NewIndex(&wordEmbedder{failAll: true}, Options{}, logger.NewNop())

	_, err := idx.Ingest(context.Background(), "  \n ", "empty.txt")
	require.ErrorIs(t, err, ErrEmptyDocument)

	_, err = idx.Ingest(context.Background(), "Nothing embeds.", "doc.txt")
	require.ErrorIs(t, err, ErrNothingEmbedded)
	require.Zero(t, idx.Len())
}

func TestSearchFailsWhenQueryCannotBeEmbedded(t *testing.T) {
	emb := &wordEmbedder{}
	idx := NewIndex(emb, Options{}, logger.NewNop())
	idx.Load([]Chunk{{ID: "1", Text: "Refunds.", Source: "a", Embedding: []float32{1}}})

	emb.failAll = true
	_, err := idx.Search(context.Background(), "refunds", 3)
	require.Error(t, err)
}

func TestConcurrentSearchAndIngest(t *testing.T) {
	idx := NewIndex(&wordEmbedder{}, Options{ChunkTargetChars: 20, IngestConcurrency: 4}, logger.NewNop())
	_, err := idx.Ingest(context.Background(), "Seed sentence one. Seed sentence two.", "seed")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := idx.Search(context.Background(), "seed sentence", 3)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := idx.Ingest(context.Background(), "More text here. And more.", "extra")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, 2+8*2, idx.Len())
}
