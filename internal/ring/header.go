package ring

import "unsafe"

const (
	indexMagic   uint32 = 0x52494E47
	indexVersion uint32 = 1

	// DefaultDir is where segments live when Option.Dir is empty.
	DefaultDir = "/dev/shm"

	indexSuffix = "_idx"
)

// indexHeader is the layout of the `<name>_idx` segment. Writer and reader
// positions sit on separate cache lines and are only touched atomically.
type indexHeader struct {
	WriteIndex int64
	_pad1      [56]byte
	ReadIndex  int64
	_pad2      [56]byte
	Magic      uint32
	Version    uint32
	Capacity   int64
	_pad3      [48]byte
}

var indexSize = int64(unsafe.Sizeof(indexHeader{}))
