package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yegors/co-voice/internal/agent"
	"github.com/yegors/co-voice/internal/config"
	"github.com/yegors/co-voice/internal/retrieval"
	"github.com/yegors/co-voice/internal/storage/sqlite"
	"github.com/yegors/co-voice/internal/websocket"
	"github.com/yegors/co-voice/pkg/logger"
)

// KnowledgeBase is the retrieval index as seen by the HTTP surface
type KnowledgeBase interface {
	Ingest(ctx context.Context, text, source string) (retrieval.IngestResult, error)
	Search(ctx context.Context, query string, topK int) ([]retrieval.Result, error)
	Len() int
}

// SessionRegistry lists live conversation sessions
type SessionRegistry interface {
	ListSessions() []agent.SessionStatus
	Count() int
}

// DocumentStore lists persisted knowledge base documents
type DocumentStore interface {
	GetDocuments(ctx context.Context, limit, offset int) ([]*sqlite.DocumentRecord, error)
}

// Handler contains the API handlers
type Handler struct {
	knowledge KnowledgeBase
	sessions  SessionRegistry
	documents DocumentStore // nil when persistence is disabled
	wsServer  *websocket.Server
	config    *config.Config
	logger    *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(knowledge KnowledgeBase, sessions SessionRegistry, documents DocumentStore, wsServer *websocket.Server, config *config.Config, logger *logger.Logger) *Handler {
	return &Handler{
		knowledge: knowledge,
		sessions:  sessions,
		documents: documents,
		wsServer:  wsServer,
		config:    config,
		logger:    logger.Named("api-handler"),
	}
}

// HandleWebSocket upgrades the request into a conversation session
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsServer == nil {
		http.Error(w, "WebSocket transport not available", http.StatusServiceUnavailable)
		return
	}
	h.wsServer.HandleConnection(w, r)
}

// UploadKnowledge ingests an uploaded text document into the knowledge base.
// The upload is read into memory and never written to disk.
func (h *Handler) UploadKnowledge(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(h.config.Server.MaxUploadKB) * 1024
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "File too large"})
			return
		}
		h.logger.Debug("Upload without file", logger.Error(err))
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "No file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("Failed to read upload", logger.Error(err), logger.String("filename", header.Filename))
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "No file"})
		return
	}

	start := time.Now()
	result, err := h.knowledge.Ingest(r.Context(), string(data), header.Filename)
	if err != nil {
		h.logger.Error("Ingestion failed",
			logger.Error(err),
			logger.String("filename", header.Filename),
			logger.Int("bytes", len(data)))
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "Ingestion failed"})
		return
	}

	h.logger.Info("Document ingested",
		logger.String("filename", header.Filename),
		logger.Int("chunks", result.Chunks),
		logger.Int("skipped", result.Skipped),
		logger.Duration("duration", time.Since(start)))

	WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Document ingested into Knowledge Base",
		"chunks":  result.Chunks,
	})
}

// GetHealth returns the service health
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":       "ok",
		"sessions":     h.sessions.Count(),
		"index_chunks": h.knowledge.Len(),
		"timestamp":    time.Now().UTC(),
	}
	if h.wsServer != nil {
		response["connections"] = h.wsServer.ClientCount()
	}

	WriteJSON(w, http.StatusOK, response)
}

// GetConfig returns the public configuration
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	// API keys and prompts stay server-side
	publicConfig := map[string]any{
		"agent": map[string]any{
			"top_k":             h.config.Agent.TopK,
			"history_exchanges": h.config.Agent.HistoryExchanges,
			"segment_max_chars": h.config.Agent.SegmentMaxChars,
			"min_final_chars":   h.config.Agent.MinFinalChars,
			"synthesizers":      h.config.Agent.Synthesizers,
		},
		"listen": map[string]any{
			"model":           h.config.Deepgram.Listen.Model,
			"language":        h.config.Deepgram.Listen.Language,
			"sample_rate":     h.config.Deepgram.Listen.SampleRate,
			"encoding":        h.config.Deepgram.Listen.Encoding,
			"interim_results": h.config.Deepgram.Listen.InterimResults,
		},
		"retrieval": map[string]any{
			"chunk_target_chars": h.config.Retrieval.ChunkTargetChars,
			"embedding_models":   h.config.Retrieval.EmbeddingModels,
		},
		"storage": map[string]any{
			"enabled": h.config.Storage.Enabled,
		},
		"upload": map[string]any{
			"max_upload_kb": h.config.Server.MaxUploadKB,
		},
	}

	WriteJSON(w, http.StatusOK, publicConfig)
}

// GetSessions returns the live sessions
func (h *Handler) GetSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.ListSessions()

	WriteJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now().UTC(),
		"count":     len(sessions),
		"sessions":  sessions,
	})
}

// GetDocuments returns persisted knowledge base documents with pagination
func (h *Handler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	if h.documents == nil {
		http.Error(w, "Knowledge base persistence is disabled", http.StatusServiceUnavailable)
		return
	}

	limit, offset := parsePaginationParams(r)
	documents, err := h.documents.GetDocuments(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to retrieve documents", logger.Error(err))
		http.Error(w, "Failed to retrieve documents", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"count":     len(documents),
		"documents": documents,
	})
}

// SearchKnowledge runs a retrieval query against the index
func (h *Handler) SearchKnowledge(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		http.Error(w, "Missing query parameter q", http.StatusBadRequest)
		return
	}

	topK := h.config.Agent.TopK
	if k := r.URL.Query().Get("k"); k != "" {
		parsed, err := strconv.Atoi(k)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid k parameter", http.StatusBadRequest)
			return
		}
		topK = parsed
	}

	results, err := h.knowledge.Search(r.Context(), query, topK)
	if err != nil {
		h.logger.Error("Knowledge search failed", logger.Error(err), logger.String("query", query))
		http.Error(w, "Search failed", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

// parsePaginationParams reads limit and offset, defaulting to 100 and 0
func parsePaginationParams(r *http.Request) (int, int) {
	limit := 100
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = min(parsed, 1000)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return limit, offset
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
