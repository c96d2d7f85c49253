package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yegors/co-voice/pkg/logger"
)

// ErrNoProviders is returned when a chain is built without collaborators
var ErrNoProviders = errors.New("no providers configured")

// ChainError aggregates the failures of every collaborator in a chain
type ChainError struct {
	Errors []error
}

func (e *ChainError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("all %d providers failed: %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *ChainError) Unwrap() []error {
	return e.Errors
}

// EmbedderChain tries embedders in order; the first success wins
type EmbedderChain struct {
	embedders []Embedder
	logger    *logger.Logger
}

// NewEmbedderChain creates an ordered embedding fallback chain
func NewEmbedderChain(logger *logger.Logger, embedders ...Embedder) (*EmbedderChain, error) {
	if len(embedders) == 0 {
		return nil, ErrNoProviders
	}
	return &EmbedderChain{
		embedders: embedders,
		logger:    logger.Named("embedder-chain"),
	}, nil
}

func (c *EmbedderChain) Name() string {
	names := make([]string, 0, len(c.embedders))
	for _, e := range c.embedders {
		names = append(names, e.Name())
	}
	return strings.Join(names, ",")
}

// Embed tries each embedder until one succeeds
func (c *EmbedderChain) Embed(ctx context.Context, text string) ([]float32, error) {
	var errs []error
	for i, e := range c.embedders {
		vec, err := e.Embed(ctx, text)
		if err == nil {
			if i > 0 {
				c.logger.Info("Fallback embedder succeeded",
					logger.String("embedder", e.Name()),
					logger.Int("provider_index", i))
			}
			return vec, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
		c.logger.Warn("Embedder failed, trying next",
			logger.String("embedder", e.Name()),
			logger.Error(err))

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, &ChainError{Errors: errs}
}

// SynthesizerChain tries synthesizers in order; the first success wins
type SynthesizerChain struct {
	synthesizers []Synthesizer
	logger       *logger.Logger
}

// NewSynthesizerChain creates an ordered synthesis fallback chain
func NewSynthesizerChain(logger *logger.Logger, synthesizers ...Synthesizer) (*SynthesizerChain, error) {
	if len(synthesizers) == 0 {
		return nil, ErrNoProviders
	}
	return &SynthesizerChain{
		synthesizers: synthesizers,
		logger:       logger.Named("synthesizer-chain"),
	}, nil
}

func (c *SynthesizerChain) Name() string {
	names := make([]string, 0, len(c.synthesizers))
	for _, s := range c.synthesizers {
		names = append(names, s.Name())
	}
	return strings.Join(names, ",")
}

// Synthesize tries each synthesizer until one succeeds
func (c *SynthesizerChain) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	var errs []error
	for i, s := range c.synthesizers {
		audio, err := s.Synthesize(ctx, text, language)
		if err == nil {
			if i > 0 {
				c.logger.Info("Fallback synthesizer succeeded",
					logger.String("synthesizer", s.Name()),
					logger.Int("chars", len(text)))
			}
			return audio, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		c.logger.Warn("Synthesizer failed, trying next",
			logger.String("synthesizer", s.Name()),
			logger.Error(err))

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, &ChainError{Errors: errs}
}
