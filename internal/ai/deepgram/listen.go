package deepgram

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/yegors/co-voice/internal/ai"
	"github.com/yegors/co-voice/pkg/logger"
)

var (
	keepAliveMessage   = []byte(`{"type":"KeepAlive"}`)
	closeStreamMessage = []byte(`{"type":"CloseStream"}`)
)

// ConnectTranscription opens a live recognition stream
func (c *Client) ConnectTranscription(ctx context.Context, config ai.TranscriptionConfig) (ai.AIConnection, error) {
	wsURL := toWebSocketBase(c.baseURL) + ListenPath + "?" + listenQuery(config).Encode()
	c.logger.Debug("Connecting to Deepgram listen stream",
		logger.String("model", config.Model),
		logger.String("language", config.Language),
		logger.Int("sample_rate", config.SampleRate))

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, c.authHeader())
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to Deepgram (status %s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	return &listenConnection{conn: conn}, nil
}

func listenQuery(config ai.TranscriptionConfig) url.Values {
	q := url.Values{}
	if config.Model != "" {
		q.Set("model", config.Model)
	}
	if config.Language != "" {
		q.Set("language", config.Language)
	}
	if config.Encoding != "" {
		q.Set("encoding", config.Encoding)
	}
	if config.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(config.SampleRate))
	}
	channels := config.Channels
	if channels <= 0 {
		channels = 1
	}
	q.Set("channels", strconv.Itoa(channels))
	q.Set("smart_format", strconv.FormatBool(config.SmartFormat))
	q.Set("interim_results", strconv.FormatBool(config.InterimResults))
	if config.EndpointingMs > 0 {
		q.Set("endpointing", strconv.Itoa(config.EndpointingMs))
	}
	if config.VADEvents {
		q.Set("vad_events", "true")
	}
	return q
}

// listenConnection wraps the upstream websocket; writes are serialized
type listenConnection struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (l *listenConnection) write(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("deepgram connection is closed")
	}
	return l.conn.WriteMessage(messageType, data)
}

func (l *listenConnection) Send(data []byte) error {
	return l.write(websocket.BinaryMessage, data)
}

func (l *listenConnection) SendControl(data []byte) error {
	return l.write(websocket.TextMessage, data)
}

func (l *listenConnection) Read() (int, []byte, error) {
	return l.conn.ReadMessage()
}

// Close asks Deepgram to finalize the stream and closes the socket
func (l *listenConnection) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	// best effort: the remote may already be gone
	_ = l.conn.WriteMessage(websocket.TextMessage, closeStreamMessage)
	return l.conn.Close()
}

// KeepAliveMessage returns the control frame that keeps an idle stream open
func KeepAliveMessage() []byte {
	return keepAliveMessage
}
