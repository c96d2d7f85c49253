package transcription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/yegors/co-voice/internal/ai"
	"github.com/yegors/co-voice/pkg/logger"
)

type fakeConn struct {
	mu        sync.Mutex
	sent      [][]byte
	controls  [][]byte
	incoming  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Send(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) SendControl(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, data)
	return nil
}

func (c *fakeConn) Read() (int, []byte, error) {
	select {
	case msg := <-c.incoming:
		return websocket.TextMessage, msg, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

type fakeProvider struct {
	release chan struct{}
	conns   chan *fakeConn
	configs chan ai.TranscriptionConfig
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		release: make(chan struct{}),
		conns:   make(chan *fakeConn, 8),
		configs: make(chan ai.TranscriptionConfig, 8),
	}
}

func (p *fakeProvider) ConnectTranscription(ctx context.Context, cfg ai.TranscriptionConfig) (ai.AIConnection, error) {
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.configs <- cfg
	conn := newFakeConn()
	p.conns <- conn
	return conn, nil
}

func frame(i int) []byte {
	return []byte{byte(i >> 8), byte(i)}
}

func newTestAdapter(p *fakeProvider, cfg Config) *Adapter {
	return NewAdapter(context.Background(), p, cfg, logger.NewNop())
}

func TestBufferedFramesFlushInOrderAndOverflowIsDropped(t *testing.T) {
	p := newFakeProvider()
	a := newTestAdapter(p, Config{Model: "nova-2", Language: "en-US", SampleRate: 16000})
	defer a.Stop()

	require.NoError(t, a.Start(func(Event) {}, Options{SampleRate: 48000, Language: "de-DE"}))
	for i := 0; i < 1500; i++ {
		a.SendAudio(frame(i))
	}
	stats := a.Stats()
	require.False(t, stats.Ready)
	require.Equal(t, 1000, stats.Buffered)
	require.Equal(t, 500, stats.Dropped)

	close(p.release)
	conn := <-p.conns
	cfg := <-p.configs
	require.Equal(t, 48000, cfg.SampleRate)
	require.Equal(t, "de-DE", cfg.Language)
	require.True(t, cfg.VADEvents)

	require.Eventually(t, func() bool { return len(conn.Sent()) == 1000 }, 2*time.Second, 5*time.Millisecond)

	// frames sent after ready go after the flushed backlog
	a.SendAudio(frame(5000))
	require.Eventually(t, func() bool { return len(conn.Sent()) == 1001 }, 2*time.Second, 5*time.Millisecond)

	sent := conn.Sent()
	for i := 0; i < 1000; i++ {
		require.Equal(t, frame(i), sent[i], "frame %d out of order", i)
	}
	require.Equal(t, frame(5000), sent[1000])

	require.Eventually(t, func() bool { return a.Stats().Sent == 1001 }, 2*time.Second, 5*time.Millisecond)
	stats = a.Stats()
	require.True(t, stats.Ready)
	require.Equal(t, 500, stats.Dropped)
}

func TestEventsAreNormalizedAndForwarded(t *testing.T) {
	p := newFakeProvider()
	close(p.release)
	a := newTestAdapter(p, Config{})
	defer a.Stop()

	events := make(chan Event, 8)
	require.NoError(t, a.Start(func(ev Event) { events <- ev }, Options{}))
	conn := <-p.conns

	conn.incoming <- []byte(`{"type":"Metadata","request_id":"x"}`)
	conn.incoming <- []byte(`{"type":"SpeechStarted","timestamp":1.2}`)
	conn.incoming <- []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"what is"}]}}`)
	conn.incoming <- []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`)
	conn.incoming <- []byte(`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"What is the refund policy?"}]}}`)

	want := []Event{
		{Kind: EventSpeechStarted},
		{Kind: EventPartial, Text: "what is"},
		{Kind: EventFinal, Text: "What is the refund policy?", SpeechFinal: true},
	}
	for _, w := range want {
		select {
		case got := <-events:
			require.Equal(t, w.Kind, got.Kind)
			require.Equal(t, w.Text, got.Text)
			require.Equal(t, w.SpeechFinal, got.SpeechFinal)
		case <-time.After(2 * time.Second):
			t.Fatalf("event %s not delivered", w.Kind)
		}
	}
	select {
	case extra := <-events:
		t.Fatalf("unexpected event %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopIsIdempotentAndSafeBeforeStart(t *testing.T) {
	p := newFakeProvider()
	a := newTestAdapter(p, Config{})
	a.SendAudio(frame(1))

	a.Stop()
	a.Stop()
	require.Equal(t, 0, a.Stats().Buffered)
	require.ErrorIs(t, a.Start(func(Event) {}, Options{}), ErrStopped)

	a.SendAudio(frame(2))
	require.Equal(t, 0, a.Stats().Buffered)
}

func TestStartTwiceFails(t *testing.T) {
	a := newTestAdapter(newFakeProvider(), Config{})
	defer a.Stop()
	require.NoError(t, a.Start(func(Event) {}, Options{}))
	require.ErrorIs(t, a.Start(func(Event) {}, Options{}), ErrAlreadyStarted)
}

func TestStopClosesStream(t *testing.T) {
	p := newFakeProvider()
	close(p.release)
	a := newTestAdapter(p, Config{})
	require.NoError(t, a.Start(func(Event) {}, Options{}))
	conn := <-p.conns
	require.Eventually(t, func() bool { return a.Stats().Ready }, 2*time.Second, 5*time.Millisecond)

	a.Stop()
	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed")
	}
	require.False(t, a.Stats().Ready)
}

func TestReconnectsAfterDropAndKeepsBufferedAudio(t *testing.T) {
	p := newFakeProvider()
	close(p.release)
	a := newTestAdapter(p, Config{MaxRetries: 2, InitialBackoff: 10 * time.Millisecond})
	defer a.Stop()

	require.NoError(t, a.Start(func(Event) {}, Options{}))
	first := <-p.conns
	require.Eventually(t, func() bool { return a.Stats().Ready }, 2*time.Second, 5*time.Millisecond)
	a.SendAudio(frame(1))
	require.Eventually(t, func() bool { return len(first.Sent()) == 1 }, 2*time.Second, 5*time.Millisecond)

	first.Close()
	require.Eventually(t, func() bool { return !a.Stats().Ready }, 2*time.Second, 5*time.Millisecond)
	a.SendAudio(frame(2))

	var second *fakeConn
	select {
	case second = <-p.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect")
	}
	require.Eventually(t, func() bool { return len(second.Sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, frame(2), second.Sent()[0])
}

func TestKeepAliveIsSent(t *testing.T) {
	p := newFakeProvider()
	close(p.release)
	a := newTestAdapter(p, Config{KeepAliveInterval: 10 * time.Millisecond, KeepAliveMessage: []byte(`{"type":"KeepAlive"}`)})
	defer a.Stop()

	require.NoError(t, a.Start(func(Event) {}, Options{}))
	conn := <-p.conns
	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.controls) > 0
	}, 2*time.Second, 5*time.Millisecond)
}
