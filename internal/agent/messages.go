package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Outbound message types
const (
	MessageTypeTranscript = "transcript"
	MessageTypeInterrupt  = "interrupt"
	MessageTypeSources    = "sources"
	MessageTypeAgentText  = "agentText"
)

// Inbound control message types. The snake_case spellings are accepted for
// older clients.
const (
	ControlConfigure         = "configure"
	ControlConfigureAlias    = "config"
	ControlUpdateInstruction = "updateInstruction"
	ControlUpdatePromptAlias = "update_prompt"
)

// ErrUnknownControl is returned for control messages with an unrecognized type
var ErrUnknownControl = errors.New("unknown control message type")

// TranscriptMessage carries live and final transcripts to the client
type TranscriptMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// InterruptMessage tells the client to stop playback
type InterruptMessage struct {
	Type string `json:"type"`
}

// Source is a retrieved chunk as shown to the client
type Source struct {
	Source  string `json:"source"`
	Preview string `json:"preview"`
}

// SourcesMessage lists the chunks used to answer an utterance
type SourcesMessage struct {
	Type    string   `json:"type"`
	Sources []Source `json:"sources"`
}

// AgentTextMessage carries one spoken segment's text
type AgentTextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func newTranscriptMessage(text string, final bool) TranscriptMessage {
	return TranscriptMessage{Type: MessageTypeTranscript, Text: text, IsFinal: final}
}

func newInterruptMessage() InterruptMessage {
	return InterruptMessage{Type: MessageTypeInterrupt}
}

func newSourcesMessage(sources []Source) SourcesMessage {
	if sources == nil {
		sources = []Source{}
	}
	return SourcesMessage{Type: MessageTypeSources, Sources: sources}
}

func newAgentTextMessage(text string) AgentTextMessage {
	return AgentTextMessage{Type: MessageTypeAgentText, Text: text}
}

// preview truncates text to limit runes, marking truncation with "..."
func preview(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "..."
}

type controlMessage struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sampleRate"`
	Language   string `json:"language"`
	Prompt     string `json:"prompt"`
}

// parseControl decodes a client control message into a session event
func parseControl(data []byte) (event, error) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse control message: %w", err)
	}

	switch msg.Type {
	case ControlConfigure, ControlConfigureAlias:
		if msg.SampleRate < 0 {
			return nil, fmt.Errorf("invalid sample rate: %d", msg.SampleRate)
		}
		return configureEvent{sampleRate: msg.SampleRate, language: msg.Language}, nil
	case ControlUpdateInstruction, ControlUpdatePromptAlias:
		return instructionEvent{prompt: msg.Prompt}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownControl, msg.Type)
	}
}
