package recorder

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/core"
	"tradecore/pkg/websocket"
)

var testStart = time.UnixMilli(1_700_000_000_000)

func capture(t *testing.T, cfg Config, frames ...websocket.Frame) {
	t.Helper()
	w, err := NewWriter(core.Context{Clock: core.NewSimClock(testStart)}, cfg)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	tap := w.Tap(7)
	for _, f := range frames {
		tap(f)
	}
	require.NoError(t, w.Close())
	assert.Equal(t, uint64(len(frames)), w.Written())
}

func frame(payload string, at time.Duration) websocket.Frame {
	return websocket.Frame{Type: websocket.MessageText, Payload: []byte(payload), ReceivedAt: testStart.Add(at)}
}

func TestCaptureAndPlayback(t *testing.T) {
	dir := t.TempDir()
	capture(t, DefaultConfig(dir),
		frame(`{"stream":"a"}`, 0),
		frame(`{"stream":"b"}`, time.Second),
		frame(`{"stream":"c"}`, 3*time.Second),
	)

	clock := core.NewSimClock(testStart)
	p, err := NewPlayback(core.Context{Clock: clock}, PlaybackConfig{Dir: dir, Speed: 1})
	require.NoError(t, err)

	var got []string
	n, err := p.Run(context.Background(), func(rec Record) error {
		assert.Equal(t, uint16(7), rec.Feed)
		assert.Equal(t, websocket.MessageText, rec.Type)
		got = append(got, string(rec.Frame().Payload))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{`{"stream":"a"}`, `{"stream":"b"}`, `{"stream":"c"}`}, got)
	// pacing slept the recorded gaps on the sim clock
	assert.Equal(t, testStart.Add(3*time.Second), clock.Now())
}

func TestCaptureRotatesSegments(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SegmentMaxBytes = 100
	payload := string(bytes.Repeat([]byte("x"), 40))
	capture(t, cfg, frame(payload, 0), frame(payload, 1), frame(payload, 2))

	p, err := NewPlayback(core.Context{}, PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	files, err := p.Files()
	require.NoError(t, err)
	assert.Len(t, files, 3)

	n, err := p.Run(context.Background(), func(Record) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestReaderDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	capture(t, DefaultConfig(dir), frame("hello", 0))

	p, err := NewPlayback(core.Context{}, PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	files, err := p.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)

	corrupt := append([]byte(nil), data...)
	corrupt[recordHeaderSize] ^= 0xff
	_, err = NewReader(bytes.NewReader(corrupt), ReaderOptions{}).Next()
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	rec, err := NewReader(bytes.NewReader(corrupt), ReaderOptions{DisableChecksum: true}).Next()
	require.NoError(t, err)
	assert.Len(t, rec.Payload, 5)

	badMagic := append([]byte(nil), data...)
	badMagic[0] = 'X'
	_, err = NewReader(bytes.NewReader(badMagic), ReaderOptions{}).Next()
	assert.ErrorIs(t, err, ErrInvalidMagic)

	_, err = NewReader(bytes.NewReader(data), ReaderOptions{MaxPayloadSize: 2}).Next()
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestPlaybackStopsAtTruncatedTail(t *testing.T) {
	dir := t.TempDir()
	capture(t, DefaultConfig(dir), frame("one", 0), frame("two", 1))

	p, err := NewPlayback(core.Context{}, PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	files, err := p.Files()
	require.NoError(t, err)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(files[0], data[:len(data)-3], 0o644))

	n, err := p.Run(context.Background(), func(Record) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPlaybackFeedFilter(t *testing.T) {
	dir := t.TempDir()
	capture(t, DefaultConfig(dir), frame("one", 0))

	p, err := NewPlayback(core.Context{}, PlaybackConfig{Dir: dir, Feeds: []uint16{1}})
	require.NoError(t, err)
	n, err := p.Run(context.Background(), func(Record) error { return nil })
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWriterRejectsBeforeStart(t *testing.T) {
	w, err := NewWriter(core.Context{}, DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	assert.ErrorIs(t, w.TryAppend(Record{}), ErrNotStarted)

	_, err = NewWriter(core.Context{}, Config{})
	assert.Error(t, err)
}
