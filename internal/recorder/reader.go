package recorder

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/yanun0323/errors"
)

// ReaderOptions controls record decoding.
type ReaderOptions struct {
	DisableChecksum bool
	MaxPayloadSize  int
}

// Reader decodes capture records sequentially.
type Reader struct {
	r         *bufio.Reader
	opts      ReaderOptions
	headerBuf []byte
	payload   []byte
}

// NewReader wraps an io.Reader with record decoding.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{
		r:         bufio.NewReader(r),
		opts:      opts,
		headerBuf: make([]byte, recordHeaderSize),
	}
}

// Next returns the next record. The payload is only valid until the next call.
// A clean end of input returns io.EOF; a record cut short returns io.ErrUnexpectedEOF.
func (r *Reader) Next() (Record, error) {
	n, err := io.ReadFull(r.r, r.headerBuf)
	if err != nil {
		if err == io.EOF && n == 0 {
			return Record{}, io.EOF
		}
		return Record{}, errors.Wrap(err, "read header")
	}

	rec, payloadLen, err := decodeHeader(r.headerBuf)
	if err != nil {
		return Record{}, err
	}
	if r.opts.MaxPayloadSize > 0 && payloadLen > uint32(r.opts.MaxPayloadSize) {
		return Record{}, errors.Wrapf(ErrPayloadTooLarge, "%d bytes", payloadLen)
	}

	if cap(r.payload) < int(payloadLen) {
		r.payload = make([]byte, payloadLen)
	}
	r.payload = r.payload[:payloadLen]
	if payloadLen > 0 {
		if _, err := io.ReadFull(r.r, r.payload); err != nil {
			return Record{}, errors.Wrap(io.ErrUnexpectedEOF, "read payload")
		}
	}

	var sumBuf [recordChecksumSize]byte
	if _, err := io.ReadFull(r.r, sumBuf[:]); err != nil {
		return Record{}, errors.Wrap(io.ErrUnexpectedEOF, "read checksum")
	}
	if !r.opts.DisableChecksum {
		if checksum(r.headerBuf, r.payload) != binary.LittleEndian.Uint32(sumBuf[:]) {
			return Record{}, ErrChecksumMismatch
		}
	}

	rec.Payload = r.payload
	return rec, nil
}
