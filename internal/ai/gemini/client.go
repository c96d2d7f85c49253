package gemini

import (
	"context"
	"fmt"
	"iter"

	"github.com/yegors/co-voice/internal/ai"
	"github.com/yegors/co-voice/internal/templating"
	"github.com/yegors/co-voice/pkg/logger"
	"google.golang.org/genai"
)

// modelsAPI is the subset of genai.Models used by the client
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// InstructionRenderer builds the system instruction for a generation request
type InstructionRenderer interface {
	RenderInstruction(data templating.InstructionData) (string, error)
}

// Config holds Gemini generation settings
type Config struct {
	APIKey          string
	BaseURL         string
	GenerationModel string
	Temperature     float64
	MaxOutputTokens int
}

// Client represents a Google Gemini API client
type Client struct {
	models   modelsAPI
	config   Config
	renderer InstructionRenderer
	logger   *logger.Logger
}

// NewClient creates a new Gemini client
func NewClient(ctx context.Context, config Config, renderer InstructionRenderer, logger *logger.Logger) (*Client, error) {
	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	gc, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return newClient(gc.Models, config, renderer, logger), nil
}

func newClient(models modelsAPI, config Config, renderer InstructionRenderer, logger *logger.Logger) *Client {
	return &Client{
		models:   models,
		config:   config,
		renderer: renderer,
		logger:   logger.Named("gemini"),
	}
}

// -- Generator Implementation --

// Stream generates an answer and yields text fragments as they arrive.
// The request is only sent once the sequence is ranged over.
func (c *Client) Stream(ctx context.Context, req ai.GenerationRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		instruction, err := c.renderer.RenderInstruction(templating.InstructionData{
			Instruction: req.Instruction,
			Context:     req.Context,
			Language:    req.Language,
		})
		if err != nil {
			yield("", fmt.Errorf("failed to render instruction: %w", err))
			return
		}

		config := &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
		}
		if c.config.Temperature > 0 {
			config.Temperature = genai.Ptr(float32(c.config.Temperature))
		}
		if c.config.MaxOutputTokens > 0 {
			config.MaxOutputTokens = int32(c.config.MaxOutputTokens)
		}

		contents := buildContents(req.History, req.Query)
		c.logger.Debug("Starting generation stream",
			logger.String("model", c.config.GenerationModel),
			logger.Int("history_messages", len(req.History)),
			logger.Int("context_chunks", len(req.Context)))

		fragments := 0
		for resp, err := range c.models.GenerateContentStream(ctx, c.config.GenerationModel, contents, config) {
			if err != nil {
				yield("", fmt.Errorf("generation stream failed: %w", err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			fragments++
			if !yield(text, nil) {
				c.logger.Debug("Generation stream abandoned by consumer", logger.Int("fragments", fragments))
				return
			}
		}
	}
}

// buildContents maps conversation history onto Gemini roles and appends the query
func buildContents(history []ai.ChatMessage, query string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, msg := range history {
		role := genai.Role(genai.RoleUser)
		if msg.Role == ai.RoleAgent {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return append(contents, genai.NewContentFromText(query, genai.RoleUser))
}

// -- Embedder Implementation --

// Embedder embeds text with a single Gemini embedding model
type Embedder struct {
	client *Client
	model  string
}

// Embedder returns an embedder bound to model
func (c *Client) Embedder(model string) *Embedder {
	return &Embedder{client: c, model: model}
}

func (e *Embedder) Name() string {
	return "gemini:" + e.model
}

// Embed returns the embedding vector of text
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := e.client.models.EmbedContent(ctx, e.model, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("embedding with %s failed: %w", e.model, err)
	}
	if res == nil || len(res.Embeddings) == 0 || res.Embeddings[0] == nil || len(res.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embedding with %s returned no values", e.model)
	}
	return res.Embeddings[0].Values, nil
}
