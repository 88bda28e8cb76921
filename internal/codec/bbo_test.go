package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/schema"
)

func TestBBORecordLayout(t *testing.T) {
	require.Equal(t, 72, BBORecordSize)

	in := schema.BBO{
		Symbol:   "1000PEPEUSDT",
		Sequence: 42,
		BidPrice: 0.01234,
		BidQty:   1500,
		AskPrice: 0.01235,
		AskQty:   900,
		TsEvent:  1_700_000_000_123_000_000,
		TsRecv:   1_700_000_000_125_000_000,
	}
	buf := EncodeBBO(nil, in)
	require.Len(t, buf, BBORecordSize)

	out, ok := DecodeBBO(buf)
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestBBORecordTruncatesLongSymbol(t *testing.T) {
	buf := EncodeBBO(make([]byte, 0, BBORecordSize), schema.BBO{Symbol: "ABCDEFGHIJKLMNOPQRST"})
	out, ok := DecodeBBO(buf)
	require.True(t, ok)
	assert.Equal(t, "ABCDEFGHIJKLMNOP", out.Symbol)

	_, ok = DecodeBBO(buf[:BBORecordSize-1])
	assert.False(t, ok)
}
