package codec

import (
	"bytes"
	"encoding/binary"
	"math"

	"tradecore/internal/schema"
)

const (
	// SymbolSize is the fixed width of the symbol field. Longer symbols are truncated.
	SymbolSize = 16
	// BBORecordSize is the size of one packed ring record.
	BBORecordSize = 8 + SymbolSize + 4*8 + 8 + 8
)

// EncodeBBO packs a top of book update as
// seq u64 | symbol [16]byte | bid_px f64 | bid_qty f64 | ask_px f64 | ask_qty f64 | exchange_ts u64 | receive_ts f64.
// exchange_ts is unix nanoseconds, receive_ts is unix milliseconds.
func EncodeBBO(dst []byte, bbo schema.BBO) []byte {
	if cap(dst) < BBORecordSize {
		dst = make([]byte, BBORecordSize)
	} else {
		dst = dst[:BBORecordSize]
	}

	binary.LittleEndian.PutUint64(dst[0:8], bbo.Sequence)
	sym := dst[8 : 8+SymbolSize]
	n := copy(sym, bbo.Symbol)
	for i := n; i < SymbolSize; i++ {
		sym[i] = 0
	}
	off := 8 + SymbolSize
	binary.LittleEndian.PutUint64(dst[off:off+8], math.Float64bits(bbo.BidPrice))
	binary.LittleEndian.PutUint64(dst[off+8:off+16], math.Float64bits(bbo.BidQty))
	binary.LittleEndian.PutUint64(dst[off+16:off+24], math.Float64bits(bbo.AskPrice))
	binary.LittleEndian.PutUint64(dst[off+24:off+32], math.Float64bits(bbo.AskQty))
	binary.LittleEndian.PutUint64(dst[off+32:off+40], uint64(bbo.TsEvent))
	binary.LittleEndian.PutUint64(dst[off+40:off+48], math.Float64bits(nanosToMillis(bbo.TsRecv)))

	return dst
}

// DecodeBBO parses a packed ring record.
func DecodeBBO(src []byte) (schema.BBO, bool) {
	if len(src) < BBORecordSize {
		return schema.BBO{}, false
	}
	sym := src[8 : 8+SymbolSize]
	if i := bytes.IndexByte(sym, 0); i >= 0 {
		sym = sym[:i]
	}
	off := 8 + SymbolSize
	recvMs := math.Float64frombits(binary.LittleEndian.Uint64(src[off+40 : off+48]))
	return schema.BBO{
		Sequence: binary.LittleEndian.Uint64(src[0:8]),
		Symbol:   string(bytes.TrimSpace(sym)),
		BidPrice: math.Float64frombits(binary.LittleEndian.Uint64(src[off : off+8])),
		BidQty:   math.Float64frombits(binary.LittleEndian.Uint64(src[off+8 : off+16])),
		AskPrice: math.Float64frombits(binary.LittleEndian.Uint64(src[off+16 : off+24])),
		AskQty:   math.Float64frombits(binary.LittleEndian.Uint64(src[off+24 : off+32])),
		TsEvent:  int64(binary.LittleEndian.Uint64(src[off+32 : off+40])),
		TsRecv:   millisToNanos(recvMs),
	}, true
}

func nanosToMillis(ns int64) float64 {
	return float64(ns/1_000_000) + float64(ns%1_000_000)/1e6
}

func millisToNanos(ms float64) int64 {
	whole := math.Floor(ms)
	return int64(whole)*1_000_000 + int64(math.Round((ms-whole)*1e6))
}
