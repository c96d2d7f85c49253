package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server     ServerConfig     `toml:"server"`     // HTTP server settings
	Logging    LoggingConfig    `toml:"logging"`    // Application logging settings
	Storage    StorageConfig    `toml:"storage"`    // Knowledge base persistence settings
	Deepgram   DeepgramConfig   `toml:"deepgram"`   // Speech recognition and synthesis settings
	Gemini     GeminiConfig     `toml:"gemini"`     // Generation, embedding and fallback synthesis settings
	Agent      AgentConfig      `toml:"agent"`      // Conversation behaviour settings
	Retrieval  RetrievalConfig  `toml:"retrieval"`  // Knowledge base chunking and search settings
	Templating TemplatingConfig `toml:"templating"` // Prompt templating settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // Primary HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, recommended for websockets)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
	AdditionalPorts    []int    `toml:"additional_ports"`      // Additional HTTP ports to listen on (useful for multiple interfaces)
	StaticFilesDir     string   `toml:"static_files_dir"`      // Directory to serve the front-end from (optional)
	MaxUploadKB        int      `toml:"max_upload_kb"`         // Maximum accepted knowledge base upload size in kilobytes
	SendQueueSize      int      `toml:"send_queue_size"`       // Outbound frames buffered per websocket connection
	PingIntervalSecs   int      `toml:"ping_interval_seconds"` // Websocket keepalive ping interval
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains knowledge base persistence configuration
type StorageConfig struct {
	Enabled    bool   `toml:"enabled"`     // Persist ingested chunks and reload them at startup
	SQLitePath string `toml:"sqlite_path"` // Path of the SQLite database file
}

// DeepgramConfig contains Deepgram API settings
type DeepgramConfig struct {
	APIKey  string       `toml:"api_key"`  // Deepgram API key (falls back to DEEPGRAM_API_KEY)
	BaseURL string       `toml:"base_url"` // REST base URL, the websocket URL is derived from it
	Listen  ListenConfig `toml:"listen"`   // Streaming recognition settings
	Speak   SpeakConfig  `toml:"speak"`    // Aura synthesis settings
}

// ListenConfig contains streaming recognition settings
type ListenConfig struct {
	Model                string `toml:"model"`                     // Recognition model (e.g., "nova-2")
	Language             string `toml:"language"`                  // Default language tag when configure omits one
	SampleRate           int    `toml:"sample_rate"`               // Default sample rate in Hz when configure omits one
	Encoding             string `toml:"encoding"`                  // Inbound audio encoding (e.g., "linear16")
	SmartFormat          bool   `toml:"smart_format"`              // Enable punctuation and formatting
	InterimResults       bool   `toml:"interim_results"`           // Emit partial transcripts
	EndpointingMs        int    `toml:"endpointing_ms"`            // Silence in milliseconds that finalizes an utterance
	BufferFrames         int    `toml:"buffer_frames"`             // Frames held while the stream is not ready
	ConnectTimeoutSecs   int    `toml:"connect_timeout_seconds"`   // Log a diagnostic if the stream is not ready after this long
	KeepAliveSecs        int    `toml:"keepalive_seconds"`         // Interval between KeepAlive control messages
	MaxRetries           int    `toml:"max_retries"`               // Reconnection attempts after an unexpected drop
	HandshakeTimeoutSecs int    `toml:"handshake_timeout_seconds"` // Websocket dial handshake timeout
}

// SpeakConfig contains Aura synthesis settings
type SpeakConfig struct {
	Model          string `toml:"model"`           // Voice model (e.g., "aura-asteria-en")
	Encoding       string `toml:"encoding"`        // Output encoding
	Container      string `toml:"container"`       // Output container
	SampleRate     int    `toml:"sample_rate"`     // Output sample rate in Hz
	TimeoutSeconds int    `toml:"timeout_seconds"` // HTTP timeout per synthesis request
}

// GeminiConfig contains Gemini API settings
type GeminiConfig struct {
	APIKey          string  `toml:"api_key"`           // Gemini API key (falls back to GEMINI_API_KEY)
	BaseURL         string  `toml:"base_url"`          // Optional API base URL override (proxies)
	GenerationModel string  `toml:"generation_model"`  // Model used for streamed answers
	Temperature     float64 `toml:"temperature"`       // Sampling temperature (0 = provider default)
	MaxOutputTokens int     `toml:"max_output_tokens"` // 0 = provider default
	TTSModel        string  `toml:"tts_model"`         // Model used when Gemini is a synthesizer
	TTSVoice        string  `toml:"tts_voice"`         // Prebuilt voice name
	TTSSampleRate   int     `toml:"tts_sample_rate"`   // PCM rate returned by the TTS model
}

// AgentConfig contains conversation behaviour settings
type AgentConfig struct {
	SystemPrompt           string   `toml:"system_prompt"`                // Initial system instruction for new sessions
	MinFinalChars          int      `toml:"min_final_chars"`              // Final transcripts shorter than this (trimmed) are ignored
	HistoryExchanges       int      `toml:"history_exchanges"`            // User/agent pairs kept per session
	SegmentMaxChars        int      `toml:"segment_max_chars"`            // Flush a speakable segment once it grows past this length
	PreviewChars           int      `toml:"preview_chars"`                // Length of source previews sent to the client
	TopK                   int      `toml:"top_k"`                        // Chunks retrieved per utterance
	CollaboratorTimeoutSec int      `toml:"collaborator_timeout_seconds"` // Upper bound for one response run
	Synthesizers           []string `toml:"synthesizers"`                 // Ordered synthesis fallback list ("deepgram", "gemini")
	GenerationErrorMessage string   `toml:"generation_error_message"`     // Spoken when generation fails
}

// RetrievalConfig contains knowledge base settings
type RetrievalConfig struct {
	ChunkTargetChars  int      `toml:"chunk_target_chars"` // Target chunk size in characters
	EmbeddingModels   []string `toml:"embedding_models"`   // Ordered embedding fallback list
	IngestConcurrency int      `toml:"ingest_concurrency"` // Chunks embedded in parallel during ingestion
}

// TemplatingConfig contains prompt templating settings
type TemplatingConfig struct {
	InstructionTemplatePath string `toml:"instruction_template_path"` // Optional template file for the generation instruction
}

const (
	DefaultSystemPrompt           = "You are a helpful voice assistant. Keep answers concise."
	DefaultGenerationErrorMessage = "I'm sorry, I encountered an error generating the response."
)

// DefaultEmbeddingModels is the embedding fallback order used when none is configured
var DefaultEmbeddingModels = []string{"gemini-embedding-001", "text-embedding-004", "embedding-001"}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyEnv()

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// applyEnv fills API keys missing from the file from the environment
func (c *Config) applyEnv() {
	if c.Deepgram.APIKey == "" {
		c.Deepgram.APIKey = os.Getenv("DEEPGRAM_API_KEY")
	}
	if c.Gemini.APIKey == "" {
		c.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}

// Validate validates the configuration and fills defaults
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	// Validate AdditionalPorts
	portsSeen := make(map[int]bool)
	portsSeen[c.Server.Port] = true
	for _, p := range c.Server.AdditionalPorts {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid additional server port: %d", p)
		}
		if portsSeen[p] {
			return fmt.Errorf("duplicate port configured: %d (primary or additional)", p)
		}
		portsSeen[p] = true
	}
	if c.Server.IdleTimeoutSecs == 0 {
		c.Server.IdleTimeoutSecs = 120
	}
	if c.Server.MaxUploadKB <= 0 {
		c.Server.MaxUploadKB = 10 * 1024
	}
	if c.Server.SendQueueSize <= 0 {
		c.Server.SendQueueSize = 256
	}
	if c.Server.PingIntervalSecs <= 0 {
		c.Server.PingIntervalSecs = 30
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	if c.Storage.Enabled && c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/knowledge.db"
	}

	if err := c.validateDeepgram(); err != nil {
		return err
	}
	c.validateGemini()

	if err := c.validateAgent(); err != nil {
		return err
	}

	if c.Retrieval.ChunkTargetChars <= 0 {
		c.Retrieval.ChunkTargetChars = 500
	}
	if len(c.Retrieval.EmbeddingModels) == 0 {
		c.Retrieval.EmbeddingModels = append([]string(nil), DefaultEmbeddingModels...)
	}
	if c.Retrieval.IngestConcurrency <= 0 {
		c.Retrieval.IngestConcurrency = 4
	}

	return nil
}

func (c *Config) validateDeepgram() error {
	d := &c.Deepgram
	if d.BaseURL == "" {
		d.BaseURL = "https://api.deepgram.com"
	}
	d.BaseURL = strings.TrimRight(d.BaseURL, "/")

	l := &d.Listen
	if l.Model == "" {
		l.Model = "nova-2"
	}
	if l.Language == "" {
		l.Language = "en-US"
	}
	if l.SampleRate == 0 {
		l.SampleRate = 16000
	}
	if l.SampleRate < 0 {
		return fmt.Errorf("invalid deepgram listen sample_rate: %d", l.SampleRate)
	}
	if l.Encoding == "" {
		l.Encoding = "linear16"
	}
	if l.EndpointingMs == 0 {
		l.EndpointingMs = 500
	}
	if l.BufferFrames <= 0 {
		l.BufferFrames = 1000
	}
	if l.ConnectTimeoutSecs <= 0 {
		l.ConnectTimeoutSecs = 5
	}
	if l.KeepAliveSecs <= 0 {
		l.KeepAliveSecs = 8
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("invalid deepgram listen max_retries: %d", l.MaxRetries)
	}
	if l.HandshakeTimeoutSecs <= 0 {
		l.HandshakeTimeoutSecs = 30
	}

	s := &d.Speak
	if s.Model == "" {
		s.Model = "aura-asteria-en"
	}
	if s.Encoding == "" {
		s.Encoding = "linear16"
	}
	if s.Container == "" {
		s.Container = "wav"
	}
	if s.SampleRate == 0 {
		s.SampleRate = 16000
	}
	if s.TimeoutSeconds <= 0 {
		s.TimeoutSeconds = 30
	}

	if d.APIKey == "" {
		fmt.Printf("WARN: No Deepgram API key provided - transcription and Aura synthesis will fail\n")
	}
	return nil
}

func (c *Config) validateGemini() {
	g := &c.Gemini
	if g.GenerationModel == "" {
		g.GenerationModel = "gemini-2.5-flash"
	}
	if g.TTSModel == "" {
		g.TTSModel = "gemini-2.5-flash-preview-tts"
	}
	if g.TTSVoice == "" {
		g.TTSVoice = "Kore"
	}
	if g.TTSSampleRate == 0 {
		g.TTSSampleRate = 24000
	}
	if g.APIKey == "" {
		fmt.Printf("WARN: No Gemini API key provided - generation and embeddings will fail\n")
	}
}

func (c *Config) validateAgent() error {
	a := &c.Agent
	if a.SystemPrompt == "" {
		a.SystemPrompt = DefaultSystemPrompt
	}
	if a.MinFinalChars <= 0 {
		a.MinFinalChars = 2
	}
	if a.HistoryExchanges <= 0 {
		a.HistoryExchanges = 10
	}
	if a.SegmentMaxChars <= 0 {
		a.SegmentMaxChars = 50
	}
	if a.PreviewChars <= 0 {
		a.PreviewChars = 50
	}
	if a.TopK <= 0 {
		a.TopK = 3
	}
	if a.CollaboratorTimeoutSec <= 0 {
		a.CollaboratorTimeoutSec = 30
	}
	if a.GenerationErrorMessage == "" {
		a.GenerationErrorMessage = DefaultGenerationErrorMessage
	}
	if len(a.Synthesizers) == 0 {
		a.Synthesizers = []string{"deepgram", "gemini"}
	}
	for _, name := range a.Synthesizers {
		switch name {
		case "deepgram", "gemini":
		default:
			return fmt.Errorf("invalid synthesizer: %s (must be 'deepgram' or 'gemini')", name)
		}
	}
	return nil
}
