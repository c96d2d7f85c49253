package agent

import (
	"context"
	"strings"

	"github.com/yegors/co-voice/internal/ai"
	"github.com/yegors/co-voice/internal/retrieval"
	"github.com/yegors/co-voice/pkg/logger"
)

// Retriever finds reference chunks for an utterance
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]retrieval.Result, error)
}

// Turn is one pipeline run's view of its session. Every method that emits
// re-checks the cancellation predicate and reports false once the run is stale.
type Turn interface {
	Epoch() uint64
	Utterance() string
	Instruction() string
	History() []ai.ChatMessage
	Language() string

	// Cancelled reports whether the session was interrupted or moved to a newer epoch
	Cancelled() bool
	Emit(msg any) bool
	EmitAudio(audio []byte) bool
	// SegmentReady is called when the first audio of the run is available
	SegmentReady()
}

// PipelineConfig holds response pipeline settings
type PipelineConfig struct {
	TopK            int
	SegmentMaxChars int
	PreviewChars    int
	ErrorMessage    string // Spoken when generation fails
}

// Pipeline answers utterances: retrieval, streamed generation, segmented synthesis
type Pipeline struct {
	retriever   Retriever
	generator   ai.Generator
	synthesizer ai.Synthesizer
	config      PipelineConfig
	logger      *logger.Logger
}

// NewPipeline creates a new response pipeline
func NewPipeline(retriever Retriever, generator ai.Generator, synthesizer ai.Synthesizer, config PipelineConfig, logger *logger.Logger) *Pipeline {
	if config.TopK <= 0 {
		config.TopK = 3
	}
	if config.SegmentMaxChars <= 0 {
		config.SegmentMaxChars = 50
	}
	if config.PreviewChars <= 0 {
		config.PreviewChars = 50
	}
	return &Pipeline{
		retriever:   retriever,
		generator:   generator,
		synthesizer: synthesizer,
		config:      config,
		logger:      logger.Named("pipeline"),
	}
}

// Run answers t's utterance. It returns the full response text and whether the
// run finished uncancelled with a real answer; only then may history record it.
func (p *Pipeline) Run(ctx context.Context, t Turn) (string, bool) {
	log := p.logger.With(logger.Uint64("epoch", t.Epoch()))

	if t.Cancelled() {
		return "", false
	}
	results, err := p.retriever.Search(ctx, t.Utterance(), p.config.TopK)
	if err != nil {
		log.Warn("Retrieval failed, answering without context", logger.Error(err))
		results = nil
	}
	if t.Cancelled() {
		return "", false
	}

	sources := make([]Source, 0, len(results))
	contextTexts := make([]string, 0, len(results))
	for _, r := range results {
		sources = append(sources, Source{Source: r.Chunk.Source, Preview: preview(r.Chunk.Text, p.config.PreviewChars)})
		contextTexts = append(contextTexts, r.Chunk.Text)
	}
	if !t.Emit(newSourcesMessage(sources)) {
		return "", false
	}

	req := ai.GenerationRequest{
		Instruction: t.Instruction(),
		Context:     contextTexts,
		History:     t.History(),
		Query:       t.Utterance(),
		Language:    t.Language(),
	}

	seg := newSegmenter(p.config.SegmentMaxChars)
	var full strings.Builder
	var genErr error
	segments := 0

	for token, err := range Cancellable(p.generator.Stream(ctx, req), t.Cancelled) {
		if err != nil {
			genErr = err
			break
		}
		full.WriteString(token)
		if segment, ok := seg.Push(token); ok {
			segments++
			if !p.speak(ctx, t, segment, log) {
				return "", false
			}
		}
	}
	if t.Cancelled() {
		log.Debug("Run superseded", logger.Int("segments", segments))
		return "", false
	}

	if genErr != nil {
		log.Error("Generation failed", logger.Error(genErr))
		if p.config.ErrorMessage != "" {
			if segment, ok := seg.Push(p.config.ErrorMessage); ok {
				if !p.speak(ctx, t, segment, log) {
					return "", false
				}
			}
		}
	}

	if rest, ok := seg.Flush(); ok {
		segments++
		if !p.speak(ctx, t, rest, log) {
			return "", false
		}
	}

	if genErr != nil {
		return "", false
	}

	log.Debug("Run completed",
		logger.Int("segments", segments),
		logger.Int("sources", len(sources)),
		logger.Int("response_length", full.Len()))
	return full.String(), true
}

// speak emits a segment's text then its audio. A synthesis failure skips the
// audio but keeps the run going.
func (p *Pipeline) speak(ctx context.Context, t Turn, text string, log *logger.Logger) bool {
	if !t.Emit(newAgentTextMessage(text)) {
		return false
	}

	spoken := strings.TrimSpace(text)
	if spoken == "" {
		return true
	}
	if t.Cancelled() {
		return false
	}

	audio, err := p.synthesizer.Synthesize(ctx, spoken, t.Language())
	if err != nil {
		if t.Cancelled() {
			return false
		}
		log.Warn("Synthesis failed, sending text only",
			logger.String("synthesizer", p.synthesizer.Name()),
			logger.Error(err))
		return true
	}

	t.SegmentReady()
	return t.EmitAudio(audio)
}
