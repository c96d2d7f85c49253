package transcription

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/co-voice/internal/ai"
	"github.com/yegors/co-voice/pkg/logger"
)

// Import the logger package's exported functions
var (
	String = logger.String
	Int    = logger.Int
	Error  = logger.Error
)

// Adapter streams one session's audio to a recognizer and normalizes its events.
// Audio sent before the stream is ready is held in a capped buffer and flushed
// in order once it is; frames past the cap are dropped.
type Adapter struct {
	provider ai.TranscriptionProvider
	config   Config
	logger   *logger.Logger
	ctx      context.Context
	cancel   context.CancelFunc

	mu           sync.Mutex
	started      bool
	ready        bool
	buffering    bool
	conn         ai.AIConnection
	pending      [][]byte
	frames       chan []byte
	dropped      int // since the last flush
	droppedTotal int
	sent         int
	onEvent      Handler
	connectTimer *time.Timer

	stopped atomic.Bool
}

// NewAdapter creates a new transcription adapter
func NewAdapter(ctx context.Context, provider ai.TranscriptionProvider, config Config, logger *logger.Logger) *Adapter {
	config = config.withDefaults()
	adapterCtx, cancel := context.WithCancel(ctx)
	return &Adapter{
		provider: provider,
		config:   config,
		logger:   logger.Named("transcription"),
		ctx:      adapterCtx,
		cancel:   cancel,
		frames:   make(chan []byte, config.BufferFrames),
	}
}

// Start begins connecting to the recognizer and returns without waiting for it
func (a *Adapter) Start(onEvent Handler, opts Options) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped.Load() {
		return ErrStopped
	}
	if a.started {
		return ErrAlreadyStarted
	}
	a.started = true
	a.onEvent = onEvent

	cfg := ai.TranscriptionConfig{
		Model:          a.config.Model,
		Language:       a.config.Language,
		SampleRate:     a.config.SampleRate,
		Encoding:       a.config.Encoding,
		Channels:       1,
		SmartFormat:    a.config.SmartFormat,
		InterimResults: a.config.InterimResults,
		EndpointingMs:  a.config.EndpointingMs,
		VADEvents:      true,
	}
	if opts.Language != "" {
		cfg.Language = opts.Language
	}
	if opts.SampleRate > 0 {
		cfg.SampleRate = opts.SampleRate
	}

	a.logger.Info("Starting transcription",
		String("model", cfg.Model),
		String("language", cfg.Language),
		Int("sample_rate", cfg.SampleRate))

	a.connectTimer = time.AfterFunc(a.config.ConnectTimeout, func() {
		a.mu.Lock()
		ready := a.ready
		buffered := len(a.pending)
		a.mu.Unlock()
		if !ready && !a.stopped.Load() {
			a.logger.Error("Transcription stream not ready after timeout, check the recognizer key and network",
				String("timeout", a.config.ConnectTimeout.String()),
				Int("buffered_frames", buffered))
		}
	})

	go a.run(cfg)
	return nil
}

// SendAudio hands a frame off without blocking
func (a *Adapter) SendAudio(frame []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped.Load() {
		return
	}

	if a.ready {
		select {
		case a.frames <- frame:
		default:
			a.dropped++
			a.droppedTotal++
		}
		return
	}

	if len(a.pending) >= a.config.BufferFrames {
		a.dropped++
		a.droppedTotal++
		return
	}
	if !a.buffering {
		a.buffering = true
		a.logger.Info("Transcription stream not ready, buffering audio",
			Int("buffer_cap", a.config.BufferFrames))
	}
	a.pending = append(a.pending, frame)
}

// Stop terminates the remote stream and clears the buffer. Safe to call more
// than once or before Start.
func (a *Adapter) Stop() {
	if a.stopped.Swap(true) {
		return
	}

	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.ready = false
	a.pending = nil
	if a.connectTimer != nil {
		a.connectTimer.Stop()
	}
	started := a.started
	a.mu.Unlock()

	a.cancel()
	if conn != nil {
		if err := conn.Close(); err != nil {
			a.logger.Debug("Error closing transcription stream", Error(err))
		}
	}
	if started {
		a.logger.Info("Transcription stopped")
	}
}

// Stats returns the adapter's buffer counters
func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Ready:    a.ready,
		Buffered: len(a.pending) + len(a.frames),
		Dropped:  a.droppedTotal,
		Sent:     a.sent,
	}
}

// run connects, serves the stream and reconnects with exponential backoff
func (a *Adapter) run(cfg ai.TranscriptionConfig) {
	attempts := 0
	backoff := a.config.InitialBackoff

	for {
		conn, err := a.provider.ConnectTranscription(a.ctx, cfg)
		if err == nil {
			attempts = 0
			backoff = a.config.InitialBackoff
			a.serve(conn)
		} else if a.ctx.Err() == nil {
			a.logger.Error("Failed to connect to recognizer", Error(err))
		}

		if a.ctx.Err() != nil {
			return
		}

		if attempts >= a.config.MaxRetries {
			a.logger.Error("Transcription stream lost, giving up",
				Int("max_retries", a.config.MaxRetries))
			return
		}
		attempts++

		a.logger.Warn("Reconnecting to recognizer",
			String("backoff_duration", backoff.String()),
			Int("attempt", attempts))

		select {
		case <-a.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, a.config.MaxBackoff)
	}
}

// serve flushes buffered audio then pumps frames until the stream ends
func (a *Adapter) serve(conn ai.AIConnection) {
	a.mu.Lock()
	if a.stopped.Load() {
		a.mu.Unlock()
		conn.Close()
		return
	}
	a.conn = conn
	a.ready = true
	a.buffering = false
	pending := a.pending
	a.pending = nil
	dropped := a.dropped
	a.dropped = 0
	if a.connectTimer != nil {
		a.connectTimer.Stop()
	}
	a.mu.Unlock()

	a.logger.Info("Transcription stream ready",
		Int("flushed_frames", len(pending)),
		Int("dropped_frames", dropped))

	readerDone := make(chan error, 1)
	go func() {
		readerDone <- a.readLoop(conn)
	}()

	for _, frame := range pending {
		if !a.send(conn, frame) {
			a.markNotReady(conn)
			return
		}
	}

	var keepAlive <-chan time.Time
	if a.config.KeepAliveInterval > 0 && len(a.config.KeepAliveMessage) > 0 {
		ticker := time.NewTicker(a.config.KeepAliveInterval)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	for {
		select {
		case <-a.ctx.Done():
			return

		case err := <-readerDone:
			if a.ctx.Err() == nil {
				a.logger.Warn("Transcription stream closed", Error(err))
			}
			a.markNotReady(conn)
			return

		case frame := <-a.frames:
			if !a.send(conn, frame) {
				a.markNotReady(conn)
				return
			}

		case <-keepAlive:
			if err := conn.SendControl(a.config.KeepAliveMessage); err != nil {
				a.logger.Debug("Failed to send keepalive", Error(err))
			}
		}
	}
}

func (a *Adapter) send(conn ai.AIConnection, frame []byte) bool {
	if err := conn.Send(frame); err != nil {
		if a.ctx.Err() == nil {
			a.logger.Warn("Error sending audio frame", Error(err))
		}
		return false
	}
	a.mu.Lock()
	a.sent++
	a.mu.Unlock()
	return true
}

// markNotReady moves frames queued for the dead stream back into the buffer
func (a *Adapter) markNotReady(conn ai.AIConnection) {
	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
	}
	a.ready = false
	if !a.stopped.Load() {
	drain:
		for {
			select {
			case frame := <-a.frames:
				if len(a.pending) < a.config.BufferFrames {
					a.pending = append(a.pending, frame)
				} else {
					a.dropped++
					a.droppedTotal++
				}
			default:
				break drain
			}
		}
	}
	a.mu.Unlock()

	conn.Close()
}

func (a *Adapter) readLoop(conn ai.AIConnection) error {
	for {
		messageType, data, err := conn.Read()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var raw rawEvent
		if err := json.Unmarshal(data, &raw); err != nil {
			a.logger.Debug("Ignoring unparseable recognizer message", Error(err))
			continue
		}
		event, ok := normalize(raw)
		if !ok {
			if raw.Type != "" && raw.Type != "Results" {
				a.logger.Debug("Recognizer message not forwarded", String("type", raw.Type))
			}
			continue
		}

		if a.stopped.Load() {
			return nil
		}
		a.onEvent(event)
	}
}
