package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gorillaws "github.com/gorilla/websocket"
	"github.com/yegors/co-voice/internal/config"
	"github.com/yegors/co-voice/pkg/logger"
)

// Router wires the API handlers, websocket entry points and static files
type Router struct {
	handler *Handler
	static  *StaticFileHandler
	config  *config.Config
	logger  *logger.Logger
}

// NewRouter creates a new router
func NewRouter(handler *Handler, cfg *config.Config, logger *logger.Logger) *Router {
	return &Router{
		handler: handler,
		static:  NewStaticFileHandler(cfg.Server.StaticFilesDir, logger),
		config:  cfg,
		logger:  logger.Named("router"),
	}
}

// Routes returns the HTTP handler for every server port
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(rt.cors)

	r.Get("/health", rt.handler.GetHealth)
	r.Get("/ws", rt.handler.HandleWebSocket)
	r.Post("/upload-kb", rt.handler.UploadKnowledge)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/config", rt.handler.GetConfig)
		r.Get("/sessions", rt.handler.GetSessions)
		r.Route("/knowledge", func(r chi.Router) {
			r.Get("/documents", rt.handler.GetDocuments)
			r.Get("/search", rt.handler.SearchKnowledge)
		})
	})

	r.Get("/*", rt.serveRoot)

	return r
}

// serveRoot accepts websocket upgrades on any path and serves the front-end otherwise
func (rt *Router) serveRoot(w http.ResponseWriter, r *http.Request) {
	if gorillaws.IsWebSocketUpgrade(r) {
		rt.handler.HandleWebSocket(w, r)
		return
	}
	if rt.static == nil {
		http.NotFound(w, r)
		return
	}
	rt.static.ServeHTTP(w, r)
}

func (rt *Router) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && rt.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Request-ID")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rt *Router) originAllowed(origin string) bool {
	for _, allowed := range rt.config.Server.CORSAllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
