package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/yegors/co-voice/pkg/logger"
)

// Speaker synthesizes speech with Deepgram Aura over REST
type Speaker struct {
	client     *Client
	model      string
	encoding   string
	container  string
	sampleRate int
}

// SpeakOptions configures a Speaker
type SpeakOptions struct {
	Model      string
	Encoding   string
	Container  string
	SampleRate int
}

// Speaker returns a synthesizer backed by this client
func (c *Client) Speaker(opts SpeakOptions) *Speaker {
	if opts.Model == "" {
		opts.Model = "aura-asteria-en"
	}
	if opts.Encoding == "" {
		opts.Encoding = "linear16"
	}
	if opts.Container == "" {
		opts.Container = "wav"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	return &Speaker{
		client:     c,
		model:      opts.Model,
		encoding:   opts.Encoding,
		container:  opts.Container,
		sampleRate: opts.SampleRate,
	}
}

// Name identifies the synthesizer in fallback chains
func (s *Speaker) Name() string {
	return "deepgram"
}

type speakRequest struct {
	Text string `json:"text"`
}

// Synthesize returns encoded audio for text. Aura voices are bound to the
// model, so language is not forwarded.
func (s *Speaker) Synthesize(ctx context.Context, text string, language string) ([]byte, error) {
	q := url.Values{}
	q.Set("model", s.model)
	q.Set("encoding", s.encoding)
	q.Set("container", s.container)
	q.Set("sample_rate", strconv.Itoa(s.sampleRate))
	endpoint := s.client.baseURL + SpeakPath + "?" + q.Encode()

	body, err := json.Marshal(speakRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal speak request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create speak request: %w", err)
	}
	for k, v := range s.client.authHeader() {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speak request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("speak request returned status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read speak response: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("speak response was empty")
	}

	s.client.logger.Debug("Synthesized speech",
		logger.Int("text_length", len(text)),
		logger.Int("audio_bytes", len(audio)))

	return audio, nil
}
