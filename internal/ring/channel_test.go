package ring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/codec"
	"tradecore/internal/core"
	"tradecore/internal/schema"
	"tradecore/pkg/exception"
)

func newPair(t *testing.T, capacity int64) (*Channel, *Channel) {
	t.Helper()
	opt := Option{Dir: t.TempDir(), Name: "bbo_test", Capacity: capacity}
	w, err := Create(core.Context{}, opt)
	require.NoError(t, err)
	r, err := Open(core.Context{}, opt)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})
	return w, r
}

func TestChannelRoundTrip(t *testing.T) {
	w, r := newPair(t, 10*codec.BBORecordSize)

	in := schema.BBO{
		Symbol:   "ETHUSDT",
		Sequence: 42,
		BidPrice: 3000.5,
		BidQty:   1.25,
		AskPrice: 3000.6,
		AskQty:   2,
		TsEvent:  1_700_000_000_123_000_000,
		TsRecv:   1_700_000_000_125_000_000,
	}
	buf := codec.EncodeBBO(make([]byte, codec.BBORecordSize), in)

	overwrote, err := w.Write(buf)
	require.NoError(t, err)
	assert.False(t, overwrote)

	got, err := r.Read(codec.BBORecordSize)
	require.NoError(t, err)
	out, ok := codec.DecodeBBO(got)
	require.True(t, ok)
	assert.Equal(t, in, out)

	empty, err := r.Read(codec.BBORecordSize)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestChannelWrapAround(t *testing.T) {
	const size = 24
	w, r := newPair(t, 64)

	for i := 0; i < 10; i++ {
		rec := make([]byte, size)
		for j := range rec {
			rec[j] = byte(i)
		}
		overwrote, err := w.Write(rec)
		require.NoError(t, err)
		assert.False(t, overwrote)

		got, err := r.Read(size)
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	}
}

func TestChannelOverwriteAligned(t *testing.T) {
	const size = 8
	w, r := newPair(t, 4*size)

	var overwrites int
	for i := 0; i < 7; i++ {
		rec := make([]byte, size)
		rec[0] = byte(i)
		overwrote, err := w.Write(rec)
		require.NoError(t, err)
		if overwrote {
			overwrites++
		}
	}
	assert.Equal(t, 3, overwrites)
	assert.Equal(t, uint64(3), w.Stats().Overwrites)

	got, err := r.Read(size)
	require.NoError(t, err)
	require.Len(t, got, size)
	assert.Equal(t, byte(6), got[0], "lapped reader resumes at the newest record")
	assert.Equal(t, uint64(1), r.Stats().Laps)

	write, read := r.Positions()
	assert.Equal(t, write, read)

	got, err = r.Read(size)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestChannelReaderNeverPassesWriter(t *testing.T) {
	w, r := newPair(t, 64)

	_, err := w.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)

	got, err := r.Read(8)
	require.NoError(t, err)
	assert.Nil(t, got)

	write, read := r.Positions()
	assert.Equal(t, int64(4), write)
	assert.Equal(t, int64(0), read)
}

func TestChannelRecordTooLarge(t *testing.T) {
	w, _ := newPair(t, 16)
	_, err := w.Write(make([]byte, 17))
	assert.ErrorIs(t, err, exception.ErrRecordTooLarge)
}

func TestOpenMissingSegment(t *testing.T) {
	_, err := Open(core.Context{}, Option{Dir: t.TempDir(), Name: "absent"})
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrSegmentNotFound)
}

func TestOnlyOwnerUnlinks(t *testing.T) {
	dir := t.TempDir()
	opt := Option{Dir: dir, Name: "owned", Capacity: 128}
	w, err := Create(core.Context{}, opt)
	require.NoError(t, err)
	r, err := Open(core.Context{}, opt)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	_, err = os.Stat(filepath.Join(dir, "owned"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "owned_idx"))
	assert.NoError(t, err)

	require.NoError(t, w.Close())
	_, err = os.Stat(filepath.Join(dir, "owned"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "owned_idx"))
	assert.True(t, os.IsNotExist(err))
}

func TestClosedChannel(t *testing.T) {
	w, err := Create(core.Context{}, Option{Dir: t.TempDir(), Name: "closed", Capacity: 16})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.Write([]byte{1})
	assert.ErrorIs(t, err, exception.ErrChannelClosed)
}
