package transcription

import (
	"encoding/json"
	"strings"
	"time"
)

type rawAlternative struct {
	Transcript string `json:"transcript"`
}

type rawChannel struct {
	Alternatives []rawAlternative `json:"alternatives"`
}

// rawEvent covers the shapes recognizers use for the same semantic event
type rawEvent struct {
	Type        string      `json:"type"`
	IsFinal     *bool       `json:"is_final"`
	IsFinalAlt  *bool       `json:"isFinal"`
	SpeechFinal bool        `json:"speech_final"`
	Channel     *rawChannel `json:"channel"`
	Results     *struct {
		Channels []rawChannel `json:"channels"`
	} `json:"results"`
}

func (r rawEvent) transcript() string {
	ch := r.Channel
	if ch == nil && r.Results != nil && len(r.Results.Channels) > 0 {
		ch = &r.Results.Channels[0]
	}
	if ch == nil || len(ch.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(ch.Alternatives[0].Transcript)
}

func (r rawEvent) final() bool {
	if r.IsFinal != nil {
		return *r.IsFinal
	}
	return r.IsFinalAlt != nil && *r.IsFinalAlt
}

// Normalize maps a recognizer message onto exactly one event kind.
// Messages that carry no transcript, or are not transcript related, return false.
func Normalize(data []byte) (Event, bool) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, false
	}
	return normalize(raw)
}

func normalize(raw rawEvent) (Event, bool) {
	now := time.Now().UTC()

	switch strings.ToLower(raw.Type) {
	case "speechstarted", "speech_started":
		return Event{Kind: EventSpeechStarted, Timestamp: now}, true

	case "results", "transcript":
		text := raw.transcript()
		if text == "" {
			return Event{}, false
		}
		kind := EventPartial
		if raw.final() {
			kind = EventFinal
		}
		return Event{Kind: kind, Text: text, SpeechFinal: raw.SpeechFinal, Timestamp: now}, true
	}

	return Event{}, false
}
