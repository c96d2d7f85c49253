package deepgram

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/co-voice/pkg/logger"
)

const (
	// DefaultBaseURL is the default Deepgram REST endpoint
	DefaultBaseURL = "https://api.deepgram.com"
	// ListenPath is the streaming recognition path
	ListenPath = "/v1/listen"
	// SpeakPath is the Aura synthesis path
	SpeakPath = "/v1/speak"
)

// Client represents a Deepgram API client
type Client struct {
	apiKey     string
	baseURL    string
	logger     *logger.Logger
	dialer     *websocket.Dialer
	httpClient *http.Client
}

// Options configures a Client
type Options struct {
	BaseURL          string
	HandshakeTimeout time.Duration
	HTTPTimeout      time.Duration
}

// NewClient creates a new Deepgram client
func NewClient(apiKey string, opts Options, logger *logger.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 30 * time.Second
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 30 * time.Second
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		logger:  logger.Named("deepgram"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		httpClient: &http.Client{
			Timeout: opts.HTTPTimeout,
		},
	}
}

// toWebSocketBase converts an http(s) base URL into ws(s)
func toWebSocketBase(httpBase string) string {
	switch {
	case strings.HasPrefix(httpBase, "https://"):
		return "wss://" + strings.TrimPrefix(httpBase, "https://")
	case strings.HasPrefix(httpBase, "http://"):
		return "ws://" + strings.TrimPrefix(httpBase, "http://")
	default:
		return httpBase
	}
}

func (c *Client) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Token "+c.apiKey)
	return h
}
