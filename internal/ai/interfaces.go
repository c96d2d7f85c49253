package ai

import (
	"context"
	"iter"
)

// Roles used in conversation history
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// AIConnection represents a streaming connection to a remote recognizer
type AIConnection interface {
	// Send transmits one binary audio frame
	Send(data []byte) error

	// SendControl transmits a JSON control message (keepalive, finish)
	SendControl(data []byte) error

	// Read reads a message from the connection
	// Returns message type (int), data ([]byte), and error
	// Message type matches websocket.TextMessage or websocket.BinaryMessage
	Read() (int, []byte, error)

	// Close finishes the remote stream and closes the connection
	Close() error
}

// TranscriptionConfig holds configuration for a streaming recognition session
type TranscriptionConfig struct {
	Model          string
	Language       string
	SampleRate     int // Audio sample rate in Hz
	Encoding       string
	Channels       int
	SmartFormat    bool
	InterimResults bool
	EndpointingMs  int
	VADEvents      bool // Ask the recognizer to report speech starts
}

// TranscriptionProvider opens streaming recognition connections
type TranscriptionProvider interface {
	ConnectTranscription(ctx context.Context, config TranscriptionConfig) (AIConnection, error)
}

// Embedder turns text into a vector
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChatMessage represents a message in a chat conversation
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationRequest is everything a generator needs for one answer
type GenerationRequest struct {
	Instruction string
	Context     []string
	History     []ChatMessage
	Query       string
	Language    string
}

// Generator streams answer tokens.
// The sequence is lazy: nothing is requested until it is ranged over,
// and breaking out of the range stops consumption.
type Generator interface {
	Stream(ctx context.Context, req GenerationRequest) iter.Seq2[string, error]
}

// Synthesizer turns text into audio bytes
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}
