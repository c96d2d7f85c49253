package transcription

import (
	"errors"
	"time"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice on one adapter
	ErrAlreadyStarted = errors.New("transcription already started")
	// ErrStopped is returned when Start is called after Stop
	ErrStopped = errors.New("transcription stopped")
)

// EventKind is the normalized kind of a transcription event
type EventKind string

const (
	EventPartial       EventKind = "partial"
	EventFinal         EventKind = "final"
	EventSpeechStarted EventKind = "speech_started"
)

// Event represents a normalized transcription event
type Event struct {
	Kind        EventKind
	Text        string    // Empty for speech starts
	SpeechFinal bool      // The recognizer detected the end of the utterance
	Timestamp   time.Time // When the event was received
}

// Handler receives normalized events. It runs on the adapter's read loop and must not block.
type Handler func(Event)

// Options are negotiated per session when the client configures audio
type Options struct {
	SampleRate int
	Language   string
}

// Config represents the configuration for the transcription adapter
type Config struct {
	// Recognition settings
	Model          string
	Language       string // Used when Options.Language is empty
	SampleRate     int    // Used when Options.SampleRate is zero
	Encoding       string
	SmartFormat    bool
	InterimResults bool
	EndpointingMs  int

	// Connection management
	BufferFrames      int           // Frames held while the stream is not ready
	ConnectTimeout    time.Duration // Diagnostic logged if the stream is not ready after this long
	KeepAliveInterval time.Duration
	KeepAliveMessage  []byte // Control frame sent every KeepAliveInterval
	MaxRetries        int    // Reconnection attempts after a drop
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
}

// Stats reports buffer counters for diagnostics
type Stats struct {
	Ready    bool `json:"ready"`
	Buffered int  `json:"buffered"`
	Dropped  int  `json:"dropped"`
	Sent     int  `json:"sent"`
}

func (c Config) withDefaults() Config {
	if c.BufferFrames <= 0 {
		c.BufferFrames = 1000
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
	return c
}
