package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/yegors/co-voice/internal/agent"
	"github.com/yegors/co-voice/internal/config"
	"github.com/yegors/co-voice/internal/retrieval"
	"github.com/yegors/co-voice/internal/storage/sqlite"
	"github.com/yegors/co-voice/pkg/logger"
)

type fakeKnowledge struct {
	ingested  []string
	sources   []string
	ingestErr error
	results   []retrieval.Result
	lastTopK  int
	chunks    int
}

func (f *fakeKnowledge) Ingest(_ context.Context, text, source string) (retrieval.IngestResult, error) {
	if f.ingestErr != nil {
		return retrieval.IngestResult{}, f.ingestErr
	}
	f.ingested = append(f.ingested, text)
	f.sources = append(f.sources, source)
	f.chunks += 2
	return retrieval.IngestResult{Source: source, Chunks: 2}, nil
}

func (f *fakeKnowledge) Search(_ context.Context, _ string, topK int) ([]retrieval.Result, error) {
	f.lastTopK = topK
	return f.results, nil
}

func (f *fakeKnowledge) Len() int { return f.chunks }

type fakeSessions struct{ statuses []agent.SessionStatus }

func (f *fakeSessions) ListSessions() []agent.SessionStatus { return f.statuses }
func (f *fakeSessions) Count() int                          { return len(f.statuses) }

type fakeDocuments struct{ docs []*sqlite.DocumentRecord }

func (f *fakeDocuments) GetDocuments(_ context.Context, limit, offset int) ([]*sqlite.DocumentRecord, error) {
	return f.docs, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.MaxUploadKB = 64
	cfg.Server.CORSAllowedOrigins = []string{"http://localhost:5173"}
	cfg.Agent.TopK = 3
	return cfg
}

func newTestRouter(kb *fakeKnowledge, docs DocumentStore, cfg *config.Config) http.Handler {
	sessions := &fakeSessions{statuses: []agent.SessionStatus{{ID: "s1", State: agent.StateListening, Epoch: 4}}}
	h := NewHandler(kb, sessions, docs, nil, cfg, logger.NewNop())
	return NewRouter(h, cfg, logger.NewNop()).Routes()
}

func uploadRequest(t *testing.T, field, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload-kb", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestUploadKnowledge(t *testing.T) {
	kb := &fakeKnowledge{}
	router := newTestRouter(kb, nil, testConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "file", "policy.txt", "Refunds take 5 days. Call us."))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]any{
		"success": true,
		"message": "Document ingested into Knowledge Base",
		"chunks":  float64(2),
	}, decode(t, rec))
	require.Equal(t, []string{"Refunds take 5 days. Call us."}, kb.ingested)
	require.Equal(t, []string{"policy.txt"}, kb.sources)
}

func TestUploadKnowledgeWithoutFile(t *testing.T) {
	router := newTestRouter(&fakeKnowledge{}, nil, testConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "document", "policy.txt", "text"))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, map[string]any{"error": "No file"}, decode(t, rec))
}

func TestUploadKnowledgeIngestionFailure(t *testing.T) {
	router := newTestRouter(&fakeKnowledge{ingestErr: errors.New("embedding down")}, nil, testConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "file", "policy.txt", "text"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, map[string]any{"error": "Ingestion failed"}, decode(t, rec))
}

func TestHealthAndSessions(t *testing.T) {
	kb := &fakeKnowledge{chunks: 7}
	router := newTestRouter(kb, nil, testConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode(t, rec)
	require.Equal(t, "ok", health["status"])
	require.Equal(t, float64(1), health["sessions"])
	require.Equal(t, float64(7), health["index_chunks"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decode(t, rec)
	require.Equal(t, float64(1), sessions["count"])
	first := sessions["sessions"].([]any)[0].(map[string]any)
	require.Equal(t, "listening", first["state"])
	require.Equal(t, float64(4), first["epoch"])
}

func TestSearchKnowledge(t *testing.T) {
	kb := &fakeKnowledge{results: []retrieval.Result{
		{Chunk: retrieval.Chunk{ID: "c1", Text: "Refunds take 5 days.", Source: "policy.txt"}, Score: 0.9},
	}}
	router := newTestRouter(kb, nil, testConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge/search?q=refund", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	require.Equal(t, "refund", out["query"])
	require.Equal(t, float64(1), out["count"])
	require.Equal(t, 3, kb.lastTopK)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge/search?q=refund&k=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, kb.lastTopK)

	for _, target := range []string{"/api/v1/knowledge/search", "/api/v1/knowledge/search?q=x&k=zero"} {
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestDocumentsRequirePersistence(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(&fakeKnowledge{}, nil, testConfig()).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge/documents", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	docs := &fakeDocuments{docs: []*sqlite.DocumentRecord{{ID: "d1", Source: "policy.txt", ChunkCount: 2}}}
	rec = httptest.NewRecorder()
	newTestRouter(&fakeKnowledge{}, docs, testConfig()).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge/documents?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(1), decode(t, rec)["count"])
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(&fakeKnowledge{}, nil, testConfig())

	req := httptest.NewRequest(http.MethodOptions, "/upload-kb", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStaticFilesAndTraversal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>voice</h1>"), 0o644))

	cfg := testConfig()
	cfg.Server.StaticFilesDir = dir
	router := newTestRouter(&fakeKnowledge{}, nil, cfg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "voice")
	require.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing.js", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
