package agent

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/yegors/co-voice/internal/ai"
	"github.com/yegors/co-voice/internal/transcription"
	"github.com/yegors/co-voice/pkg/logger"
)

// Import the logger package's exported functions
var (
	String = logger.String
	Int    = logger.Int
	Uint64 = logger.Uint64
	Error  = logger.Error
)

// Sink delivers outbound events to the client. Both methods must not block.
type Sink interface {
	SendJSON(v any) error
	SendBinary(data []byte) error
}

// Transcriber is the per-session speech recognition stream
type Transcriber interface {
	Start(onEvent transcription.Handler, opts transcription.Options) error
	SendAudio(frame []byte)
	Stop()
}

// TranscriberFactory creates a fresh transcriber for every configure
type TranscriberFactory func(ctx context.Context) Transcriber

// Responder runs the response pipeline for one utterance
type Responder interface {
	Run(ctx context.Context, t Turn) (response string, completed bool)
}

// SessionConfig holds per-session conversation settings
type SessionConfig struct {
	SystemPrompt        string
	MinFinalChars       int
	HistoryExchanges    int
	CollaboratorTimeout time.Duration // Upper bound for one response run, 0 = none
}

// SessionStatus is a point-in-time view of a session
type SessionStatus struct {
	ID            string    `json:"id"`
	State         State     `json:"state"`
	Epoch         uint64    `json:"epoch"`
	Interrupted   bool      `json:"interrupted"`
	Language      string    `json:"language,omitempty"`
	SampleRate    int       `json:"sample_rate,omitempty"`
	HistoryLength int       `json:"history_length"`
	CreatedAt     time.Time `json:"created_at"`
}

// Session owns one connection's conversation. All state changes go through
// dispatch, which serializes them under mu.
type Session struct {
	id             string
	sink           Sink
	responder      Responder
	newTranscriber TranscriberFactory
	config         SessionConfig
	logger         *logger.Logger
	ctx            context.Context
	cancel         context.CancelFunc
	createdAt      time.Time
	onClosed       func(id string)

	mu           sync.Mutex
	state        State
	epoch        uint64
	interrupted  bool
	closed       bool
	language     string
	sampleRate   int
	instruction  string
	history      *history
	transcriber  Transcriber
	cancelRun    context.CancelFunc
	droppedAudio int

	runs sync.WaitGroup
}

func newSession(ctx context.Context, id string, sink Sink, responder Responder, newTranscriber TranscriberFactory, config SessionConfig, logger *logger.Logger) *Session {
	if config.MinFinalChars <= 0 {
		config.MinFinalChars = 2
	}
	if config.HistoryExchanges <= 0 {
		config.HistoryExchanges = 10
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	return &Session{
		id:             id,
		sink:           sink,
		responder:      responder,
		newTranscriber: newTranscriber,
		config:         config,
		logger:         logger.With(String("session_id", id)),
		ctx:            sessionCtx,
		cancel:         cancel,
		createdAt:      time.Now().UTC(),
		state:          StateIdle,
		instruction:    config.SystemPrompt,
		history:        newHistory(config.HistoryExchanges),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// OnAudioFrame hands a frame to the transcriber without waiting on the network
func (s *Session) OnAudioFrame(frame []byte) {
	s.mu.Lock()
	tr := s.transcriber
	if tr == nil && !s.closed {
		s.droppedAudio++
		if s.droppedAudio == 1 {
			s.logger.Debug("Audio received before configure, dropping")
		}
	}
	s.mu.Unlock()

	if tr != nil {
		tr.SendAudio(frame)
	}
}

// OnControlMessage handles a JSON control message. Malformed messages are
// logged and otherwise ignored.
func (s *Session) OnControlMessage(data []byte) {
	ev, err := parseControl(data)
	if err != nil {
		s.logger.Warn("Ignoring control message", Error(err))
		return
	}
	s.dispatch(ev)
}

// OnClose stops transcription and releases the session. Idempotent.
func (s *Session) OnClose() {
	s.dispatch(closeEvent{})
}

// Close is an alias of OnClose
func (s *Session) Close() {
	s.OnClose()
}

// Wait blocks until every response run started by the session has returned
func (s *Session) Wait() {
	s.runs.Wait()
}

// Status returns a snapshot of the session
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStatus{
		ID:            s.id,
		State:         s.state,
		Epoch:         s.epoch,
		Interrupted:   s.interrupted,
		Language:      s.language,
		SampleRate:    s.sampleRate,
		HistoryLength: s.history.Len(),
		CreatedAt:     s.createdAt,
	}
}

// History returns a copy of the conversation history
func (s *Session) History() []ai.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Snapshot()
}

func (s *Session) onTranscription(source Transcriber, ev transcription.Event) {
	switch ev.Kind {
	case transcription.EventSpeechStarted:
		s.dispatch(speechStartedEvent{source: source})
	case transcription.EventPartial:
		s.dispatch(partialEvent{source: source, text: ev.Text})
	case transcription.EventFinal:
		s.dispatch(finalEvent{source: source, text: ev.Text})
	}
}

// dispatch is the single entry point for state changes. Handlers run under the
// session lock and may return work, such as stopping a transcriber, that must
// run after it is released.
func (s *Session) dispatch(ev event) {
	s.mu.Lock()
	after := s.handle(ev)
	s.mu.Unlock()

	if after != nil {
		after()
	}
}

func (s *Session) handle(ev event) func() {
	if s.closed {
		return nil
	}

	switch e := ev.(type) {
	case configureEvent:
		return s.handleConfigure(e)
	case instructionEvent:
		s.handleInstruction(e)
	case speechStartedEvent:
		s.handleSpeechStarted(e)
	case partialEvent:
		if e.source == s.transcriber {
			s.send(newTranscriptMessage(e.text, false))
		}
	case finalEvent:
		s.handleFinal(e)
	case segmentReadyEvent:
		if !s.stale(e.epoch) {
			s.transition(TriggerSegmentReady)
		}
	case responseDoneEvent:
		s.handleResponseDone(e)
	case closeEvent:
		return s.handleClose()
	}
	return nil
}

func (s *Session) handleConfigure(e configureEvent) func() {
	if e.language != "" {
		s.language = e.language
	}
	if e.sampleRate > 0 {
		s.sampleRate = e.sampleRate
	}

	old := s.transcriber
	tr := s.newTranscriber(s.ctx)
	handler := func(ev transcription.Event) {
		s.onTranscription(tr, ev)
	}
	if err := tr.Start(handler, transcription.Options{SampleRate: s.sampleRate, Language: s.language}); err != nil {
		s.logger.Error("Failed to start transcription", Error(err))
		s.transcriber = nil
	} else {
		s.transcriber = tr
		s.logger.Info("Session configured",
			Int("sample_rate", s.sampleRate),
			String("language", s.language))
	}
	s.transition(TriggerConfigure)

	if old == nil {
		return nil
	}
	return old.Stop
}

func (s *Session) handleInstruction(e instructionEvent) {
	prompt := strings.TrimSpace(e.prompt)
	if prompt == "" {
		s.logger.Warn("Ignoring empty instruction update")
		return
	}
	s.instruction = prompt
	s.logger.Info("System instruction updated", Int("length", len(prompt)))
}

func (s *Session) handleSpeechStarted(e speechStartedEvent) {
	if e.source != s.transcriber {
		return
	}
	s.interrupted = true
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
	s.logger.Debug("User speech started, interrupting", Uint64("epoch", s.epoch))
	s.send(newInterruptMessage())
}

func (s *Session) handleFinal(e finalEvent) {
	if e.source != s.transcriber {
		return
	}
	s.send(newTranscriptMessage(e.text, true))

	text := strings.TrimSpace(e.text)
	if utf8.RuneCountInString(text) < s.config.MinFinalChars {
		s.logger.Debug("Ignoring short final transcript", String("text", text))
		return
	}

	s.interrupted = false
	s.epoch++
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.transition(TriggerFinal)
	s.startRun(text)
}

// startRun launches the pipeline for the current epoch. Caller holds mu.
func (s *Session) startRun(utterance string) {
	var runCtx context.Context
	var cancel context.CancelFunc
	if s.config.CollaboratorTimeout > 0 {
		runCtx, cancel = context.WithTimeout(s.ctx, s.config.CollaboratorTimeout)
	} else {
		runCtx, cancel = context.WithCancel(s.ctx)
	}
	s.cancelRun = cancel

	t := &turn{
		session:     s,
		epoch:       s.epoch,
		utterance:   utterance,
		instruction: s.instruction,
		history:     s.history.Snapshot(),
		language:    s.language,
	}

	s.logger.Info("Answering utterance",
		Uint64("epoch", t.epoch),
		String("utterance", utterance))

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer cancel()
		response, completed := s.responder.Run(runCtx, t)
		s.dispatch(responseDoneEvent{
			epoch:     t.epoch,
			utterance: utterance,
			response:  response,
			completed: completed,
		})
	}()
}

func (s *Session) handleResponseDone(e responseDoneEvent) {
	if e.epoch != s.epoch {
		return
	}
	s.cancelRun = nil
	s.transition(TriggerResponseDone)

	if !e.completed || s.interrupted || strings.TrimSpace(e.response) == "" {
		return
	}
	s.history.Append(e.utterance, e.response)
}

func (s *Session) handleClose() func() {
	s.closed = true
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
	s.transition(TriggerClose)
	tr := s.transcriber
	s.transcriber = nil
	s.cancel()
	s.logger.Info("Session closed", Uint64("epochs", s.epoch))

	return func() {
		if tr != nil {
			tr.Stop()
		}
		if s.onClosed != nil {
			s.onClosed(s.id)
		}
	}
}

func (s *Session) transition(trigger Trigger) {
	next, err := Transition(s.state, trigger)
	if err != nil {
		s.logger.Debug("Ignoring state trigger", Error(err))
		return
	}
	s.state = next
}

// stale is the cancellation predicate for a run of epoch. Caller holds mu.
func (s *Session) stale(epoch uint64) bool {
	return s.closed || s.interrupted || s.epoch != epoch
}

// send enqueues a message for the client. Caller holds mu.
func (s *Session) send(msg any) {
	if err := s.sink.SendJSON(msg); err != nil {
		s.logger.Debug("Failed to enqueue message", Error(err))
	}
}

// turn implements Turn for one epoch of a session
type turn struct {
	session     *Session
	epoch       uint64
	utterance   string
	instruction string
	history     []ai.ChatMessage
	language    string
}

func (t *turn) Epoch() uint64             { return t.epoch }
func (t *turn) Utterance() string         { return t.utterance }
func (t *turn) Instruction() string       { return t.instruction }
func (t *turn) History() []ai.ChatMessage { return t.history }
func (t *turn) Language() string          { return t.language }

func (t *turn) Cancelled() bool {
	t.session.mu.Lock()
	defer t.session.mu.Unlock()
	return t.session.stale(t.epoch)
}

// Emit sends msg only while the run is current; the check and the enqueue
// happen under one lock so nothing stale is observed after a newer epoch starts.
func (t *turn) Emit(msg any) bool {
	s := t.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale(t.epoch) {
		return false
	}
	s.send(msg)
	return true
}

func (t *turn) EmitAudio(audio []byte) bool {
	s := t.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale(t.epoch) {
		return false
	}
	if err := s.sink.SendBinary(audio); err != nil {
		s.logger.Debug("Failed to enqueue audio", Error(err))
	}
	return true
}

func (t *turn) SegmentReady() {
	t.session.dispatch(segmentReadyEvent{epoch: t.epoch})
}
