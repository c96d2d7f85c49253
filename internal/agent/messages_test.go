package agent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreview(t *testing.T) {
	require.Equal(t, "short", preview("short", 50))
	require.Equal(t, "abcde...", preview("abcdefgh", 5))
	require.Equal(t, "héllo...", preview("héllo wörld", 5))
}

func TestParseControl(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    event
		wantErr bool
	}{
		{name: "configure", input: `{"type":"configure","sampleRate":48000,"language":"de-DE"}`, want: configureEvent{sampleRate: 48000, language: "de-DE"}},
		{name: "config alias", input: `{"type":"config","sampleRate":16000}`, want: configureEvent{sampleRate: 16000}},
		{name: "update instruction", input: `{"type":"updateInstruction","prompt":"Be formal."}`, want: instructionEvent{prompt: "Be formal."}},
		{name: "update prompt alias", input: `{"type":"update_prompt","prompt":"Be brief."}`, want: instructionEvent{prompt: "Be brief."}},
		{name: "negative rate", input: `{"type":"configure","sampleRate":-1}`, wantErr: true},
		{name: "unknown type", input: `{"type":"dance"}`, wantErr: true},
		{name: "not json", input: `hello`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := parseControl([]byte(tc.input))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, ev)
		})
	}

	_, err := parseControl([]byte(`{"type":"dance"}`))
	require.ErrorIs(t, err, ErrUnknownControl)
}
