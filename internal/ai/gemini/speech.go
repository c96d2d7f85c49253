package gemini

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/yegors/co-voice/pkg/logger"
	"google.golang.org/genai"
)

// Speaker synthesizes speech with a Gemini TTS model
type Speaker struct {
	client     *Client
	model      string
	voice      string
	sampleRate int
}

// Speaker returns a synthesizer using the given TTS model and prebuilt voice.
// sampleRate describes the raw PCM the model returns.
func (c *Client) Speaker(model, voice string, sampleRate int) *Speaker {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &Speaker{client: c, model: model, voice: voice, sampleRate: sampleRate}
}

func (s *Speaker) Name() string {
	return "gemini"
}

// Synthesize returns WAV audio for text
func (s *Speaker) Synthesize(ctx context.Context, text string, language string) ([]byte, error) {
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: s.voice},
			},
		},
	}

	resp, err := s.client.models.GenerateContent(ctx, s.model, genai.Text(text), config)
	if err != nil {
		return nil, fmt.Errorf("speech generation failed: %w", err)
	}

	blob := firstAudio(resp)
	if blob == nil {
		return nil, fmt.Errorf("speech generation returned no audio")
	}

	s.client.logger.Debug("Synthesized speech",
		logger.String("model", s.model),
		logger.String("mime_type", blob.MIMEType),
		logger.Int("audio_bytes", len(blob.Data)))

	if strings.Contains(blob.MIMEType, "wav") {
		return blob.Data, nil
	}
	return wrapPCM(blob.Data, s.sampleRate), nil
}

func firstAudio(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil {
		return nil
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData
			}
		}
	}
	return nil
}

// wrapPCM prefixes 16-bit mono little-endian PCM with a RIFF/WAVE header
func wrapPCM(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
