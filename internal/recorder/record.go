package recorder

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"time"

	"github.com/yanun0323/errors"

	"tradecore/pkg/websocket"
)

const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 28
	recordChecksumSize        = 4
)

var (
	recordMagic = [4]byte{'T', 'C', 'F', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

// Record is one captured feed frame.
type Record struct {
	// Feed tags the supervisor the frame came from.
	Feed   uint16
	Type   websocket.MessageType
	Flags  uint16
	RecvTs int64
	// Payload is only valid until the next Reader.Next call.
	Payload []byte
}

// Frame turns the record back into a supervisor frame.
func (r Record) Frame() websocket.Frame {
	return websocket.Frame{
		Type:       r.Type,
		Payload:    r.Payload,
		ReceivedAt: time.Unix(0, r.RecvTs),
	}
}

// encodeHeader lays out magic, version, header size, type, feed, flags, a reserved u16,
// recv_ts and the payload length, little endian.
func encodeHeader(dst []byte, rec Record) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(recordHeaderSize))
	binary.LittleEndian.PutUint16(dst[8:10], uint16(rec.Type))
	binary.LittleEndian.PutUint16(dst[10:12], rec.Feed)
	binary.LittleEndian.PutUint16(dst[12:14], rec.Flags)
	binary.LittleEndian.PutUint16(dst[14:16], 0)
	binary.LittleEndian.PutUint64(dst[16:24], uint64(rec.RecvTs))
	binary.LittleEndian.PutUint32(dst[24:28], uint32(len(rec.Payload)))
}

func checksum(header []byte, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}

func decodeHeader(src []byte) (Record, uint32, error) {
	if len(src) < recordHeaderSize {
		return Record{}, 0, ErrInvalidRecordHeaderSize
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return Record{}, 0, ErrInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return Record{}, 0, errors.Wrapf(ErrUnsupportedRecordVer, "version %d", ver)
	}
	if size := binary.LittleEndian.Uint16(src[6:8]); size != recordHeaderSize {
		return Record{}, 0, errors.Wrapf(ErrInvalidRecordHeaderSize, "size %d", size)
	}
	rec := Record{
		Type:   websocket.MessageType(binary.LittleEndian.Uint16(src[8:10])),
		Feed:   binary.LittleEndian.Uint16(src[10:12]),
		Flags:  binary.LittleEndian.Uint16(src[12:14]),
		RecvTs: int64(binary.LittleEndian.Uint64(src[16:24])),
	}
	return rec, binary.LittleEndian.Uint32(src[24:28]), nil
}
