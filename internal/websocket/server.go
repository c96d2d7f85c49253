package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/co-voice/pkg/logger"
)

var (
	// ErrClosed is returned when sending to a closed client
	ErrClosed = errors.New("websocket client closed")
	// ErrQueueFull is returned when a client's send queue is full and the frame was dropped
	ErrQueueFull = errors.New("websocket send queue full")
)

// Session receives a connection's inbound traffic
type Session interface {
	OnAudioFrame(frame []byte)
	OnControlMessage(data []byte)
	OnClose()
}

// SessionFactory creates the session bound to a new client
type SessionFactory func(client *Client) Session

// Config contains websocket transport settings
type Config struct {
	SendQueueSize   int
	PingInterval    time.Duration
	WriteWait       time.Duration
	MaxMessageBytes int64
	AllowedOrigins  []string
}

// frame is one queued outbound websocket message
type frame struct {
	messageType int
	data        []byte
}

// Client represents a WebSocket client
type Client struct {
	conn      *websocket.Conn
	send      chan frame
	server    *Server
	session   Session
	mu        sync.Mutex
	closed    bool
	closeChan chan struct{}
	dropped   int
}

// Server represents a WebSocket server
type Server struct {
	clients    map[*Client]bool
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	config     Config
	newSession SessionFactory
	logger     *logger.Logger
}

// NewServer creates a new WebSocket server
func NewServer(config Config, newSession SessionFactory, logger *logger.Logger) *Server {
	if config.SendQueueSize <= 0 {
		config.SendQueueSize = 256
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.WriteWait <= 0 {
		config.WriteWait = 10 * time.Second
	}
	if config.MaxMessageBytes <= 0 {
		config.MaxMessageBytes = 1 << 20
	}

	s := &Server{
		clients:    make(map[*Client]bool),
		config:     config,
		newSession: newSession,
		logger:     logger.Named("web-socket"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleConnection upgrades the request and runs a session over it
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Handling new WebSocket connection request",
		String("remote_addr", r.RemoteAddr),
		String("user_agent", r.UserAgent()))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			Error(err),
			String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		conn:      conn,
		send:      make(chan frame, s.config.SendQueueSize),
		server:    s,
		closeChan: make(chan struct{}),
	}
	client.session = s.newSession(client)

	s.mu.Lock()
	s.clients[client] = true
	clientCount := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug("Client registered", Int("client_count", clientCount))

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// CloseAll closes every client connection
func (s *Server) CloseAll() {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	for _, client := range clients {
		client.Close()
	}
}

func (s *Server) unregister(client *Client) {
	s.mu.Lock()
	delete(s.clients, client)
	clientCount := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug("Client unregistered", Int("client_count", clientCount))
}

// readPump dispatches binary frames as audio and text frames as control messages
func (c *Client) readPump() {
	defer func() {
		c.session.OnClose()
		c.Close()
		c.server.unregister(c)
	}()

	pongWait := 2 * c.server.config.PingInterval
	c.conn.SetReadLimit(c.server.config.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Error("WebSocket read error", Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch messageType {
		case websocket.BinaryMessage:
			c.session.OnAudioFrame(data)
		case websocket.TextMessage:
			c.session.OnControlMessage(data)
		}
	}
}

// writePump is the only writer of the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(c.server.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := c.server.config.WriteWait
	for {
		select {
		case f := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(f.messageType, f.data); err != nil {
				c.server.logger.Debug("WebSocket write failed", Error(err))
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.closeChan:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// Close closes the client connection. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.closeChan)
	if c.dropped > 0 {
		c.server.logger.Warn("Client closed with dropped frames", Int("dropped", c.dropped))
	}
}

// SendJSON queues v as a text frame without blocking
func (c *Client) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.enqueue(frame{messageType: websocket.TextMessage, data: data})
}

// SendBinary queues data as a binary frame without blocking
func (c *Client) SendBinary(data []byte) error {
	return c.enqueue(frame{messageType: websocket.BinaryMessage, data: data})
}

func (c *Client) enqueue(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	select {
	case c.send <- f:
		return nil
	default:
		c.dropped++
		return ErrQueueFull
	}
}

// RemoteAddr returns the client's network address
func (c *Client) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Import logger functions
var (
	String = logger.String
	Int    = logger.Int
	Error  = logger.Error
)
