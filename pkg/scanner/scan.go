// Package scanner peeks at top level JSON fields without a full decode. It is
// used to route payloads before handing them to the real decoder.
package scanner

import "bytes"

// String returns the raw value of the first string field named key.
// key includes the quotes, e.g. []byte(`"e"`).
func String(payload []byte, key []byte) ([]byte, bool) {
	i, ok := valueStart(payload, key)
	if !ok || payload[i] != '"' {
		return nil, false
	}
	i++
	end := bytes.IndexByte(payload[i:], '"')
	if end < 0 {
		return nil, false
	}
	return payload[i : i+end], true
}

// Uint returns the first unsigned integer field named key.
func Uint(payload []byte, key []byte) (uint64, bool) {
	i, ok := valueStart(payload, key)
	if !ok || payload[i] < '0' || payload[i] > '9' {
		return 0, false
	}
	var v uint64
	for ; i < len(payload) && payload[i] >= '0' && payload[i] <= '9'; i++ {
		v = v*10 + uint64(payload[i]-'0')
	}
	return v, true
}

// IsNull reports whether the field named key is present and null.
func IsNull(payload []byte, key []byte) bool {
	i, ok := valueStart(payload, key)
	return ok && bytes.HasPrefix(payload[i:], []byte("null"))
}

// Has reports whether key occurs in payload.
func Has(payload []byte, key []byte) bool {
	return bytes.Contains(payload, key)
}

func valueStart(payload []byte, key []byte) (int, bool) {
	idx := bytes.Index(payload, key)
	if idx < 0 {
		return 0, false
	}
	i := idx + len(key)
	for i < len(payload) && isSpace(payload[i]) {
		i++
	}
	if i >= len(payload) || payload[i] != ':' {
		return 0, false
	}
	i++
	for i < len(payload) && isSpace(payload[i]) {
		i++
	}
	if i >= len(payload) {
		return 0, false
	}
	return i, true
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
